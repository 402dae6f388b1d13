package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"hrplatform/backend/pkg/models"
)

// dbtx is the subset of pgxpool.Pool and pgx.Tx the store needs, so the
// same methods can run pooled or transaction-bound.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresFlowStore is the PostgreSQL implementation of FlowStore.
type PostgresFlowStore struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewPostgresFlowStore creates a new PostgresFlowStore on the given pool.
func NewPostgresFlowStore(pool *pgxpool.Pool) *PostgresFlowStore {
	return &PostgresFlowStore{pool: pool, db: pool}
}

// InTx runs fn against a transaction-bound copy of the store.
func (s *PostgresFlowStore) InTx(ctx context.Context, fn func(FlowStore) error) error {
	if s.pool == nil {
		// Already transaction-bound.
		return fn(s)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(&PostgresFlowStore{db: tx}); err != nil {
		return err
	}
	// deferred constraints fire here, so commit errors need translating too
	return translateErr(tx.Commit(ctx))
}

// translateErr maps driver errors onto the store sentinels.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

// Tenants

func (s *PostgresFlowStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO tenants (id, name, domain) VALUES ($1, $2, $3) RETURNING created_at, updated_at",
		tenant.ID, tenant.Name, tenant.Domain,
	).Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
	return translateErr(err)
}

func (s *PostgresFlowStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		"SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1",
		domain,
	).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &t, nil
}

// Flow definitions

const definitionColumns = "id, tenant_id, flow_type, name, description, is_active, created_at, updated_at"

func scanDefinition(row pgx.Row) (*models.FlowDefinition, error) {
	var d models.FlowDefinition
	err := row.Scan(&d.ID, &d.TenantID, &d.FlowType, &d.Name, &d.Description, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &d, nil
}

func (s *PostgresFlowStore) CreateDefinition(ctx context.Context, def *models.FlowDefinition) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO flow_definitions (id, tenant_id, flow_type, name, description, is_active) VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at",
		def.ID, def.TenantID, def.FlowType, def.Name, def.Description, def.IsActive,
	).Scan(&def.CreatedAt, &def.UpdatedAt)
	return translateErr(err)
}

func (s *PostgresFlowStore) GetDefinition(ctx context.Context, tenantID, id string) (*models.FlowDefinition, error) {
	return scanDefinition(s.db.QueryRow(ctx,
		"SELECT "+definitionColumns+" FROM flow_definitions WHERE id = $1 AND tenant_id = $2",
		id, tenantID))
}

func (s *PostgresFlowStore) GetDefinitionByType(ctx context.Context, tenantID, flowType string) (*models.FlowDefinition, error) {
	return scanDefinition(s.db.QueryRow(ctx,
		"SELECT "+definitionColumns+" FROM flow_definitions WHERE flow_type = $1 AND tenant_id = $2",
		flowType, tenantID))
}

func (s *PostgresFlowStore) ListDefinitions(ctx context.Context, tenantID string) ([]*models.FlowDefinition, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+definitionColumns+" FROM flow_definitions WHERE tenant_id = $1 ORDER BY created_at DESC",
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*models.FlowDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return defs, rows.Err()
}

func (s *PostgresFlowStore) UpdateDefinition(ctx context.Context, def *models.FlowDefinition) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE flow_definitions SET flow_type = $1, name = $2, description = $3, is_active = $4, updated_at = now() WHERE id = $5 AND tenant_id = $6",
		def.FlowType, def.Name, def.Description, def.IsActive, def.ID, def.TenantID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresFlowStore) DeleteDefinition(ctx context.Context, tenantID, id string) error {
	tag, err := s.db.Exec(ctx,
		"DELETE FROM flow_definitions WHERE id = $1 AND tenant_id = $2", id, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Flow versions

func scanVersion(row pgx.Row) (*models.FlowVersion, error) {
	var v models.FlowVersion
	err := row.Scan(&v.ID, &v.FlowDefinitionID, &v.VersionNumber, &v.Status, &v.CreatedBy, &v.PublishedAt, &v.CreatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &v, nil
}

const versionColumns = "v.id, v.flow_definition_id, v.version_number, v.status, COALESCE(v.created_by::text, ''), v.published_at, v.created_at"

func (s *PostgresFlowStore) CreateVersion(ctx context.Context, version *models.FlowVersion) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO flow_versions (id, flow_definition_id, version_number, status, created_by) VALUES ($1, $2, $3, $4, NULLIF($5, '')::uuid) RETURNING created_at",
		version.ID, version.FlowDefinitionID, version.VersionNumber, version.Status, version.CreatedBy,
	).Scan(&version.CreatedAt)
	return translateErr(err)
}

func (s *PostgresFlowStore) GetVersion(ctx context.Context, tenantID, id string) (*models.FlowVersion, error) {
	return scanVersion(s.db.QueryRow(ctx,
		"SELECT "+versionColumns+" FROM flow_versions v JOIN flow_definitions d ON d.id = v.flow_definition_id WHERE v.id = $1 AND d.tenant_id = $2",
		id, tenantID))
}

func (s *PostgresFlowStore) ListVersions(ctx context.Context, flowDefinitionID string) ([]*models.FlowVersion, error) {
	return s.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM flow_versions v WHERE v.flow_definition_id = $1 ORDER BY v.version_number DESC",
		flowDefinitionID)
}

func (s *PostgresFlowStore) ListPublishedVersions(ctx context.Context, flowDefinitionID string) ([]*models.FlowVersion, error) {
	return s.queryVersions(ctx,
		"SELECT "+versionColumns+" FROM flow_versions v WHERE v.flow_definition_id = $1 AND v.status = $2 ORDER BY v.version_number DESC",
		flowDefinitionID, models.VersionStatusPublished)
}

func (s *PostgresFlowStore) queryVersions(ctx context.Context, sql string, args ...any) ([]*models.FlowVersion, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []*models.FlowVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *PostgresFlowStore) MaxVersionNumber(ctx context.Context, flowDefinitionID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		"SELECT COALESCE(MAX(version_number), 0) FROM flow_versions WHERE flow_definition_id = $1",
		flowDefinitionID).Scan(&n)
	return n, err
}

func (s *PostgresFlowStore) UpdateVersion(ctx context.Context, version *models.FlowVersion) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE flow_versions SET status = $1, published_at = $2 WHERE id = $3",
		version.Status, version.PublishedAt, version.ID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresFlowStore) DeleteVersion(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM flow_versions WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Step templates

const stepDefColumns = "s.id, s.flow_version_id, s.step_order, s.step_type, s.title, s.description, s.form_schema_id, s.approval_role, s.config, s.is_mandatory, s.created_at"

func scanStepDefinition(row pgx.Row) (*models.FlowStepDefinition, error) {
	var step models.FlowStepDefinition
	err := row.Scan(&step.ID, &step.FlowVersionID, &step.StepOrder, &step.StepType, &step.Title, &step.Description,
		&step.FormSchemaID, &step.ApprovalRole, &step.Config, &step.IsMandatory, &step.CreatedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &step, nil
}

func (s *PostgresFlowStore) CreateStepDefinition(ctx context.Context, step *models.FlowStepDefinition) error {
	err := s.db.QueryRow(ctx,
		"INSERT INTO flow_step_definitions (id, flow_version_id, step_order, step_type, title, description, form_schema_id, approval_role, config, is_mandatory) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING created_at",
		step.ID, step.FlowVersionID, step.StepOrder, step.StepType, step.Title, step.Description,
		step.FormSchemaID, step.ApprovalRole, step.Config, step.IsMandatory,
	).Scan(&step.CreatedAt)
	return translateErr(err)
}

func (s *PostgresFlowStore) GetStepDefinition(ctx context.Context, tenantID, id string) (*models.FlowStepDefinition, error) {
	return scanStepDefinition(s.db.QueryRow(ctx,
		"SELECT "+stepDefColumns+" FROM flow_step_definitions s JOIN flow_versions v ON v.id = s.flow_version_id JOIN flow_definitions d ON d.id = v.flow_definition_id WHERE s.id = $1 AND d.tenant_id = $2",
		id, tenantID))
}

func (s *PostgresFlowStore) GetStepDefinitionByOrder(ctx context.Context, flowVersionID string, order int) (*models.FlowStepDefinition, error) {
	return scanStepDefinition(s.db.QueryRow(ctx,
		"SELECT "+stepDefColumns+" FROM flow_step_definitions s WHERE s.flow_version_id = $1 AND s.step_order = $2",
		flowVersionID, order))
}

func (s *PostgresFlowStore) ListStepDefinitions(ctx context.Context, flowVersionID string) ([]*models.FlowStepDefinition, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+stepDefColumns+" FROM flow_step_definitions s WHERE s.flow_version_id = $1 ORDER BY s.step_order ASC",
		flowVersionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.FlowStepDefinition
	for rows.Next() {
		step, err := scanStepDefinition(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *PostgresFlowStore) UpdateStepDefinition(ctx context.Context, step *models.FlowStepDefinition) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE flow_step_definitions SET step_order = $1, step_type = $2, title = $3, description = $4, form_schema_id = $5, approval_role = $6, config = $7, is_mandatory = $8 WHERE id = $9",
		step.StepOrder, step.StepType, step.Title, step.Description, step.FormSchemaID, step.ApprovalRole,
		step.Config, step.IsMandatory, step.ID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresFlowStore) DeleteStepDefinition(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, "DELETE FROM flow_step_definitions WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Flow instances

const instanceColumns = "id, tenant_id, flow_version_id, flow_type, entity_id, entity_type, status, initiated_by, started_at, completed_at, current_step_order"

func scanInstance(row pgx.Row) (*models.FlowInstance, error) {
	var inst models.FlowInstance
	err := row.Scan(&inst.ID, &inst.TenantID, &inst.FlowVersionID, &inst.FlowType, &inst.EntityID, &inst.EntityType,
		&inst.Status, &inst.InitiatedBy, &inst.StartedAt, &inst.CompletedAt, &inst.CurrentStepOrder)
	if err != nil {
		return nil, translateErr(err)
	}
	return &inst, nil
}

func (s *PostgresFlowStore) CreateInstance(ctx context.Context, inst *models.FlowInstance) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO flow_instances (id, tenant_id, flow_version_id, flow_type, entity_id, entity_type, status, initiated_by, started_at, current_step_order) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)",
		inst.ID, inst.TenantID, inst.FlowVersionID, inst.FlowType, inst.EntityID, inst.EntityType,
		inst.Status, inst.InitiatedBy, inst.StartedAt, inst.CurrentStepOrder)
	return translateErr(err)
}

func (s *PostgresFlowStore) GetInstance(ctx context.Context, tenantID, id string) (*models.FlowInstance, error) {
	return scanInstance(s.db.QueryRow(ctx,
		"SELECT "+instanceColumns+" FROM flow_instances WHERE id = $1 AND tenant_id = $2",
		id, tenantID))
}

func (s *PostgresFlowStore) GetInstanceForUpdate(ctx context.Context, tenantID, id string) (*models.FlowInstance, error) {
	return scanInstance(s.db.QueryRow(ctx,
		"SELECT "+instanceColumns+" FROM flow_instances WHERE id = $1 AND tenant_id = $2 FOR UPDATE",
		id, tenantID))
}

func (s *PostgresFlowStore) ListInstances(ctx context.Context, tenantID string, filter InstanceFilter) ([]*models.FlowInstance, error) {
	sql := "SELECT " + instanceColumns + " FROM flow_instances WHERE tenant_id = $1"
	args := []any{tenantID}
	add := func(cond string, val any) {
		args = append(args, val)
		sql += fmt.Sprintf(" AND %s = $%d", cond, len(args))
	}
	if filter.FlowType != nil {
		add("flow_type", *filter.FlowType)
	}
	if filter.Status != nil {
		add("status", *filter.Status)
	}
	if filter.InitiatedBy != nil {
		add("initiated_by", *filter.InitiatedBy)
	}
	if filter.EntityType != nil {
		add("entity_type", *filter.EntityType)
	}
	if filter.EntityID != nil {
		add("entity_id", *filter.EntityID)
	}
	sql += " ORDER BY started_at DESC"

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*models.FlowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

func (s *PostgresFlowStore) UpdateInstance(ctx context.Context, inst *models.FlowInstance) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE flow_instances SET status = $1, completed_at = $2, current_step_order = $3 WHERE id = $4",
		inst.Status, inst.CompletedAt, inst.CurrentStepOrder, inst.ID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Step instances

const stepInstColumns = "id, flow_instance_id, step_definition_id, step_order, status, data, assigned_to, completed_by, comments, started_at, completed_at"

func scanStepInstance(row pgx.Row) (*models.FlowStepInstance, error) {
	var step models.FlowStepInstance
	err := row.Scan(&step.ID, &step.FlowInstanceID, &step.StepDefinitionID, &step.StepOrder, &step.Status,
		&step.Data, &step.AssignedTo, &step.CompletedBy, &step.Comments, &step.StartedAt, &step.CompletedAt)
	if err != nil {
		return nil, translateErr(err)
	}
	return &step, nil
}

func (s *PostgresFlowStore) CreateStepInstance(ctx context.Context, step *models.FlowStepInstance) error {
	_, err := s.db.Exec(ctx,
		"INSERT INTO flow_step_instances (id, flow_instance_id, step_definition_id, step_order, status, data, assigned_to, completed_by, comments, started_at, completed_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)",
		step.ID, step.FlowInstanceID, step.StepDefinitionID, step.StepOrder, step.Status, step.Data,
		step.AssignedTo, step.CompletedBy, step.Comments, step.StartedAt, step.CompletedAt)
	return translateErr(err)
}

func (s *PostgresFlowStore) GetStepInstance(ctx context.Context, id string) (*models.FlowStepInstance, error) {
	return scanStepInstance(s.db.QueryRow(ctx,
		"SELECT "+stepInstColumns+" FROM flow_step_instances WHERE id = $1", id))
}

func (s *PostgresFlowStore) GetStepInstanceByOrder(ctx context.Context, flowInstanceID string, order int) (*models.FlowStepInstance, error) {
	return scanStepInstance(s.db.QueryRow(ctx,
		"SELECT "+stepInstColumns+" FROM flow_step_instances WHERE flow_instance_id = $1 AND step_order = $2",
		flowInstanceID, order))
}

func (s *PostgresFlowStore) ListStepInstances(ctx context.Context, flowInstanceID string) ([]*models.FlowStepInstance, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+stepInstColumns+" FROM flow_step_instances WHERE flow_instance_id = $1 ORDER BY step_order ASC",
		flowInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []*models.FlowStepInstance
	for rows.Next() {
		step, err := scanStepInstance(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (s *PostgresFlowStore) UpdateStepInstance(ctx context.Context, step *models.FlowStepInstance) error {
	tag, err := s.db.Exec(ctx,
		"UPDATE flow_step_instances SET status = $1, data = $2, assigned_to = $3, completed_by = $4, comments = $5, started_at = $6, completed_at = $7 WHERE id = $8",
		step.Status, step.Data, step.AssignedTo, step.CompletedBy, step.Comments, step.StartedAt, step.CompletedAt, step.ID)
	if err != nil {
		return translateErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

var _ FlowStore = (*PostgresFlowStore)(nil)
