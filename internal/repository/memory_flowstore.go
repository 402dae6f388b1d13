package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"hrplatform/backend/pkg/models"
)

// MemoryFlowStore is an in-memory implementation of FlowStore. It backs the
// service unit tests and the development mode of the server; it is not meant
// for production use.
type MemoryFlowStore struct {
	mu   *sync.RWMutex
	data *memoryData
	// inTx is set on the store handed to an InTx callback; the outer store
	// holds the lock for the whole transaction, so nested methods must not
	// re-lock.
	inTx bool
}

type memoryData struct {
	tenants       map[string]models.Tenant
	definitions   map[string]models.FlowDefinition
	versions      map[string]models.FlowVersion
	stepDefs      map[string]models.FlowStepDefinition
	instances     map[string]models.FlowInstance
	stepInstances map[string]models.FlowStepInstance
}

// NewMemoryFlowStore creates an empty MemoryFlowStore.
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{
		mu: &sync.RWMutex{},
		data: &memoryData{
			tenants:       make(map[string]models.Tenant),
			definitions:   make(map[string]models.FlowDefinition),
			versions:      make(map[string]models.FlowVersion),
			stepDefs:      make(map[string]models.FlowStepDefinition),
			instances:     make(map[string]models.FlowInstance),
			stepInstances: make(map[string]models.FlowStepInstance),
		},
	}
}

func (s *MemoryFlowStore) lock() {
	if !s.inTx {
		s.mu.Lock()
	}
}

func (s *MemoryFlowStore) unlock() {
	if !s.inTx {
		s.mu.Unlock()
	}
}

// InTx serializes the whole callback under the store lock and restores a
// snapshot of the data if fn fails, so partial writes never become visible.
func (s *MemoryFlowStore) InTx(ctx context.Context, fn func(FlowStore) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	txStore := &MemoryFlowStore{mu: s.mu, data: s.data, inTx: true}
	if err := fn(txStore); err != nil {
		*s.data = *snapshot
		return err
	}
	// step-order uniqueness is checked at commit, like the deferred
	// constraint in Postgres, so in-transaction order swaps can pass
	// through transient collisions
	if err := s.data.checkStepOrders(); err != nil {
		*s.data = *snapshot
		return err
	}
	return nil
}

func (d *memoryData) checkStepOrders() error {
	seen := make(map[string]map[int]bool)
	for _, step := range d.stepDefs {
		orders := seen[step.FlowVersionID]
		if orders == nil {
			orders = make(map[int]bool)
			seen[step.FlowVersionID] = orders
		}
		if orders[step.StepOrder] {
			return ErrConflict
		}
		orders[step.StepOrder] = true
	}
	return nil
}

func (d *memoryData) clone() *memoryData {
	c := &memoryData{
		tenants:       make(map[string]models.Tenant, len(d.tenants)),
		definitions:   make(map[string]models.FlowDefinition, len(d.definitions)),
		versions:      make(map[string]models.FlowVersion, len(d.versions)),
		stepDefs:      make(map[string]models.FlowStepDefinition, len(d.stepDefs)),
		instances:     make(map[string]models.FlowInstance, len(d.instances)),
		stepInstances: make(map[string]models.FlowStepInstance, len(d.stepInstances)),
	}
	for k, v := range d.tenants {
		c.tenants[k] = v
	}
	for k, v := range d.definitions {
		c.definitions[k] = v
	}
	for k, v := range d.versions {
		c.versions[k] = v
	}
	for k, v := range d.stepDefs {
		c.stepDefs[k] = v
	}
	for k, v := range d.instances {
		c.instances[k] = v
	}
	for k, v := range d.stepInstances {
		c.stepInstances[k] = v
	}
	return c
}

// Tenants

func (s *MemoryFlowStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.lock()
	defer s.unlock()

	for _, t := range s.data.tenants {
		if t.Domain == tenant.Domain {
			return ErrConflict
		}
	}
	now := time.Now()
	tenant.CreatedAt = now
	tenant.UpdatedAt = now
	s.data.tenants[tenant.ID] = *tenant
	return nil
}

func (s *MemoryFlowStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	s.lock()
	defer s.unlock()

	for _, t := range s.data.tenants {
		if t.Domain == domain {
			out := t
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

// Flow definitions

func (s *MemoryFlowStore) CreateDefinition(ctx context.Context, def *models.FlowDefinition) error {
	s.lock()
	defer s.unlock()

	for _, d := range s.data.definitions {
		if d.TenantID == def.TenantID && d.FlowType == def.FlowType {
			return ErrConflict
		}
	}
	now := time.Now()
	def.CreatedAt = now
	def.UpdatedAt = now
	s.data.definitions[def.ID] = *def
	return nil
}

func (s *MemoryFlowStore) GetDefinition(ctx context.Context, tenantID, id string) (*models.FlowDefinition, error) {
	s.lock()
	defer s.unlock()
	return s.getDefinition(tenantID, id)
}

func (s *MemoryFlowStore) getDefinition(tenantID, id string) (*models.FlowDefinition, error) {
	d, ok := s.data.definitions[id]
	if !ok || d.TenantID != tenantID {
		return nil, ErrNotFound
	}
	out := d
	return &out, nil
}

func (s *MemoryFlowStore) GetDefinitionByType(ctx context.Context, tenantID, flowType string) (*models.FlowDefinition, error) {
	s.lock()
	defer s.unlock()

	for _, d := range s.data.definitions {
		if d.TenantID == tenantID && d.FlowType == flowType {
			out := d
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryFlowStore) ListDefinitions(ctx context.Context, tenantID string) ([]*models.FlowDefinition, error) {
	s.lock()
	defer s.unlock()

	var defs []*models.FlowDefinition
	for _, d := range s.data.definitions {
		if d.TenantID == tenantID {
			out := d
			defs = append(defs, &out)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].CreatedAt.After(defs[j].CreatedAt) })
	return defs, nil
}

func (s *MemoryFlowStore) UpdateDefinition(ctx context.Context, def *models.FlowDefinition) error {
	s.lock()
	defer s.unlock()

	existing, ok := s.data.definitions[def.ID]
	if !ok || existing.TenantID != def.TenantID {
		return ErrNotFound
	}
	def.UpdatedAt = time.Now()
	def.CreatedAt = existing.CreatedAt
	s.data.definitions[def.ID] = *def
	return nil
}

func (s *MemoryFlowStore) DeleteDefinition(ctx context.Context, tenantID, id string) error {
	s.lock()
	defer s.unlock()

	d, ok := s.data.definitions[id]
	if !ok || d.TenantID != tenantID {
		return ErrNotFound
	}
	delete(s.data.definitions, id)
	return nil
}

// Flow versions

func (s *MemoryFlowStore) CreateVersion(ctx context.Context, version *models.FlowVersion) error {
	s.lock()
	defer s.unlock()

	for _, v := range s.data.versions {
		if v.FlowDefinitionID == version.FlowDefinitionID && v.VersionNumber == version.VersionNumber {
			return ErrConflict
		}
	}
	version.CreatedAt = time.Now()
	s.data.versions[version.ID] = *version
	return nil
}

func (s *MemoryFlowStore) GetVersion(ctx context.Context, tenantID, id string) (*models.FlowVersion, error) {
	s.lock()
	defer s.unlock()

	v, ok := s.data.versions[id]
	if !ok {
		return nil, ErrNotFound
	}
	if _, err := s.getDefinition(tenantID, v.FlowDefinitionID); err != nil {
		return nil, ErrNotFound
	}
	out := v
	return &out, nil
}

func (s *MemoryFlowStore) ListVersions(ctx context.Context, flowDefinitionID string) ([]*models.FlowVersion, error) {
	return s.listVersionsWhere(flowDefinitionID, "")
}

func (s *MemoryFlowStore) ListPublishedVersions(ctx context.Context, flowDefinitionID string) ([]*models.FlowVersion, error) {
	return s.listVersionsWhere(flowDefinitionID, models.VersionStatusPublished)
}

func (s *MemoryFlowStore) listVersionsWhere(flowDefinitionID string, status models.FlowVersionStatus) ([]*models.FlowVersion, error) {
	s.lock()
	defer s.unlock()

	var versions []*models.FlowVersion
	for _, v := range s.data.versions {
		if v.FlowDefinitionID != flowDefinitionID {
			continue
		}
		if status != "" && v.Status != status {
			continue
		}
		out := v
		versions = append(versions, &out)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].VersionNumber > versions[j].VersionNumber })
	return versions, nil
}

func (s *MemoryFlowStore) MaxVersionNumber(ctx context.Context, flowDefinitionID string) (int, error) {
	s.lock()
	defer s.unlock()

	n := 0
	for _, v := range s.data.versions {
		if v.FlowDefinitionID == flowDefinitionID && v.VersionNumber > n {
			n = v.VersionNumber
		}
	}
	return n, nil
}

func (s *MemoryFlowStore) UpdateVersion(ctx context.Context, version *models.FlowVersion) error {
	s.lock()
	defer s.unlock()

	existing, ok := s.data.versions[version.ID]
	if !ok {
		return ErrNotFound
	}
	version.CreatedAt = existing.CreatedAt
	s.data.versions[version.ID] = *version
	return nil
}

func (s *MemoryFlowStore) DeleteVersion(ctx context.Context, id string) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.data.versions[id]; !ok {
		return ErrNotFound
	}
	delete(s.data.versions, id)
	for stepID, step := range s.data.stepDefs {
		if step.FlowVersionID == id {
			delete(s.data.stepDefs, stepID)
		}
	}
	return nil
}

// Step templates

func (s *MemoryFlowStore) CreateStepDefinition(ctx context.Context, step *models.FlowStepDefinition) error {
	s.lock()
	defer s.unlock()

	for _, existing := range s.data.stepDefs {
		if existing.FlowVersionID == step.FlowVersionID && existing.StepOrder == step.StepOrder {
			return ErrConflict
		}
	}
	step.CreatedAt = time.Now()
	s.data.stepDefs[step.ID] = *step
	return nil
}

func (s *MemoryFlowStore) GetStepDefinition(ctx context.Context, tenantID, id string) (*models.FlowStepDefinition, error) {
	s.lock()
	defer s.unlock()

	step, ok := s.data.stepDefs[id]
	if !ok {
		return nil, ErrNotFound
	}
	v, ok := s.data.versions[step.FlowVersionID]
	if !ok {
		return nil, ErrNotFound
	}
	if _, err := s.getDefinition(tenantID, v.FlowDefinitionID); err != nil {
		return nil, ErrNotFound
	}
	out := step
	return &out, nil
}

func (s *MemoryFlowStore) GetStepDefinitionByOrder(ctx context.Context, flowVersionID string, order int) (*models.FlowStepDefinition, error) {
	s.lock()
	defer s.unlock()

	for _, step := range s.data.stepDefs {
		if step.FlowVersionID == flowVersionID && step.StepOrder == order {
			out := step
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryFlowStore) ListStepDefinitions(ctx context.Context, flowVersionID string) ([]*models.FlowStepDefinition, error) {
	s.lock()
	defer s.unlock()

	var steps []*models.FlowStepDefinition
	for _, step := range s.data.stepDefs {
		if step.FlowVersionID == flowVersionID {
			out := step
			steps = append(steps, &out)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

func (s *MemoryFlowStore) UpdateStepDefinition(ctx context.Context, step *models.FlowStepDefinition) error {
	s.lock()
	defer s.unlock()

	existing, ok := s.data.stepDefs[step.ID]
	if !ok {
		return ErrNotFound
	}
	// outside a transaction the order collision is rejected right away;
	// inside one the commit-time check in InTx handles it
	if !s.inTx {
		for _, other := range s.data.stepDefs {
			if other.ID != step.ID && other.FlowVersionID == step.FlowVersionID && other.StepOrder == step.StepOrder {
				return ErrConflict
			}
		}
	}
	step.CreatedAt = existing.CreatedAt
	s.data.stepDefs[step.ID] = *step
	return nil
}

func (s *MemoryFlowStore) DeleteStepDefinition(ctx context.Context, id string) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.data.stepDefs[id]; !ok {
		return ErrNotFound
	}
	delete(s.data.stepDefs, id)
	return nil
}

// Flow instances

func (s *MemoryFlowStore) CreateInstance(ctx context.Context, inst *models.FlowInstance) error {
	s.lock()
	defer s.unlock()

	stored := *inst
	stored.Steps = nil
	s.data.instances[inst.ID] = stored
	return nil
}

func (s *MemoryFlowStore) GetInstance(ctx context.Context, tenantID, id string) (*models.FlowInstance, error) {
	s.lock()
	defer s.unlock()
	return s.getInstance(tenantID, id)
}

func (s *MemoryFlowStore) getInstance(tenantID, id string) (*models.FlowInstance, error) {
	inst, ok := s.data.instances[id]
	if !ok || inst.TenantID != tenantID {
		return nil, ErrNotFound
	}
	out := inst
	return &out, nil
}

// GetInstanceForUpdate behaves like GetInstance; the memory store relies on
// InTx holding the store lock for the whole transaction.
func (s *MemoryFlowStore) GetInstanceForUpdate(ctx context.Context, tenantID, id string) (*models.FlowInstance, error) {
	return s.GetInstance(ctx, tenantID, id)
}

func (s *MemoryFlowStore) ListInstances(ctx context.Context, tenantID string, filter InstanceFilter) ([]*models.FlowInstance, error) {
	s.lock()
	defer s.unlock()

	var instances []*models.FlowInstance
	for _, inst := range s.data.instances {
		if inst.TenantID != tenantID {
			continue
		}
		if filter.FlowType != nil && inst.FlowType != *filter.FlowType {
			continue
		}
		if filter.Status != nil && inst.Status != *filter.Status {
			continue
		}
		if filter.InitiatedBy != nil && inst.InitiatedBy != *filter.InitiatedBy {
			continue
		}
		if filter.EntityType != nil && (inst.EntityType == nil || *inst.EntityType != *filter.EntityType) {
			continue
		}
		if filter.EntityID != nil && (inst.EntityID == nil || *inst.EntityID != *filter.EntityID) {
			continue
		}
		out := inst
		instances = append(instances, &out)
	}
	sort.Slice(instances, func(i, j int) bool { return instances[i].StartedAt.After(instances[j].StartedAt) })
	return instances, nil
}

func (s *MemoryFlowStore) UpdateInstance(ctx context.Context, inst *models.FlowInstance) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.data.instances[inst.ID]; !ok {
		return ErrNotFound
	}
	stored := *inst
	stored.Steps = nil
	s.data.instances[inst.ID] = stored
	return nil
}

// Step instances

func (s *MemoryFlowStore) CreateStepInstance(ctx context.Context, step *models.FlowStepInstance) error {
	s.lock()
	defer s.unlock()

	for _, existing := range s.data.stepInstances {
		if existing.FlowInstanceID == step.FlowInstanceID && existing.StepOrder == step.StepOrder {
			return ErrConflict
		}
	}
	stored := *step
	stored.Definition = nil
	s.data.stepInstances[step.ID] = stored
	return nil
}

func (s *MemoryFlowStore) GetStepInstance(ctx context.Context, id string) (*models.FlowStepInstance, error) {
	s.lock()
	defer s.unlock()

	step, ok := s.data.stepInstances[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := step
	return &out, nil
}

func (s *MemoryFlowStore) GetStepInstanceByOrder(ctx context.Context, flowInstanceID string, order int) (*models.FlowStepInstance, error) {
	s.lock()
	defer s.unlock()

	for _, step := range s.data.stepInstances {
		if step.FlowInstanceID == flowInstanceID && step.StepOrder == order {
			out := step
			return &out, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryFlowStore) ListStepInstances(ctx context.Context, flowInstanceID string) ([]*models.FlowStepInstance, error) {
	s.lock()
	defer s.unlock()

	var steps []*models.FlowStepInstance
	for _, step := range s.data.stepInstances {
		if step.FlowInstanceID == flowInstanceID {
			out := step
			steps = append(steps, &out)
		}
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	return steps, nil
}

func (s *MemoryFlowStore) UpdateStepInstance(ctx context.Context, step *models.FlowStepInstance) error {
	s.lock()
	defer s.unlock()

	if _, ok := s.data.stepInstances[step.ID]; !ok {
		return ErrNotFound
	}
	stored := *step
	stored.Definition = nil
	s.data.stepInstances[step.ID] = stored
	return nil
}

var _ FlowStore = (*MemoryFlowStore)(nil)
