package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"hrplatform/backend/internal/repository"
	"hrplatform/backend/pkg/apperr"
	"hrplatform/backend/pkg/models"
)

// ExecutionService runs flow instances: it materializes step instances from
// the active version, advances the current-step pointer as steps are
// submitted, and terminates the instance.
type ExecutionService struct {
	store    repository.FlowStore
	versions *VersionService
	tracer   trace.Tracer
}

// NewExecutionService creates a new ExecutionService.
func NewExecutionService(store repository.FlowStore, versions *VersionService) *ExecutionService {
	return &ExecutionService{
		store:    store,
		versions: versions,
		tracer:   otel.Tracer("hrplatform/flow-execution"),
	}
}

// StartFlow creates an instance of the active version for the flow type.
// The instance and one step instance per template are created atomically;
// step 1 starts IN_PROGRESS, all others PENDING, so the UI can preview the
// whole pipeline up front.
func (s *ExecutionService) StartFlow(ctx context.Context, tenantID, flowType, initiatedBy string, entityID, entityType *string) (*models.FlowInstance, error) {
	ctx, span := s.tracer.Start(ctx, "flow.start",
		trace.WithAttributes(attribute.String("flow.type", flowType)))
	defer span.End()

	version, err := s.versions.ActiveVersionByType(ctx, tenantID, flowType)
	if err != nil {
		return nil, err
	}

	stepDefs, err := s.store.ListStepDefinitions(ctx, version.ID)
	if err != nil {
		return nil, err
	}
	if len(stepDefs) == 0 {
		return nil, apperr.BadRequest("cannot start flow: no steps defined in the active version")
	}
	sort.Slice(stepDefs, func(i, j int) bool { return stepDefs[i].StepOrder < stepDefs[j].StepOrder })

	now := time.Now()
	inst := &models.FlowInstance{
		ID:               uuid.New().String(),
		TenantID:         tenantID,
		FlowVersionID:    version.ID,
		FlowType:         flowType,
		EntityID:         entityID,
		EntityType:       entityType,
		Status:           models.InstanceStatusInProgress,
		InitiatedBy:      initiatedBy,
		StartedAt:        now,
		CurrentStepOrder: 1,
	}

	err = s.store.InTx(ctx, func(tx repository.FlowStore) error {
		if err := tx.CreateInstance(ctx, inst); err != nil {
			return err
		}
		for _, def := range stepDefs {
			step := &models.FlowStepInstance{
				ID:               uuid.New().String(),
				FlowInstanceID:   inst.ID,
				StepDefinitionID: def.ID,
				StepOrder:        def.StepOrder,
				Status:           models.StepStatusPending,
				Data:             map[string]any{},
			}
			if def.StepOrder == 1 {
				step.Status = models.StepStatusInProgress
				startedAt := now
				step.StartedAt = &startedAt
			}
			if err := tx.CreateStepInstance(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("flow.instance_id", inst.ID))
	return s.GetFlowInstance(ctx, tenantID, inst.ID)
}

// GetFlowInstance returns an instance hydrated with its step instances and
// their step definitions, sorted by step order.
func (s *ExecutionService) GetFlowInstance(ctx context.Context, tenantID, flowInstanceID string) (*models.FlowInstance, error) {
	inst, err := s.store.GetInstance(ctx, tenantID, flowInstanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow instance with ID %s not found", flowInstanceID)
		}
		return nil, err
	}

	steps, err := s.hydratedSteps(ctx, inst)
	if err != nil {
		return nil, err
	}
	inst.Steps = steps
	return inst, nil
}

func (s *ExecutionService) hydratedSteps(ctx context.Context, inst *models.FlowInstance) ([]*models.FlowStepInstance, error) {
	steps, err := s.store.ListStepInstances(ctx, inst.ID)
	if err != nil {
		return nil, err
	}
	defs, err := s.store.ListStepDefinitions(ctx, inst.FlowVersionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.FlowStepDefinition, len(defs))
	for _, def := range defs {
		byID[def.ID] = def
	}
	for _, step := range steps {
		step.Definition = byID[step.StepDefinitionID]
	}
	return steps, nil
}

// FindAll returns the tenant's flow instances, newest first, optionally
// filtered.
func (s *ExecutionService) FindAll(ctx context.Context, tenantID string, filter repository.InstanceFilter) ([]*models.FlowInstance, error) {
	return s.store.ListInstances(ctx, tenantID, filter)
}

// CurrentStep returns the step instance at the instance's current step
// order.
func (s *ExecutionService) CurrentStep(ctx context.Context, tenantID, flowInstanceID string) (*models.FlowStepInstance, error) {
	inst, err := s.store.GetInstance(ctx, tenantID, flowInstanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow instance with ID %s not found", flowInstanceID)
		}
		return nil, err
	}

	step, err := s.store.GetStepInstanceByOrder(ctx, inst.ID, inst.CurrentStepOrder)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("current step not found")
		}
		return nil, err
	}
	return step, nil
}

// SubmitStep completes a step with the submitted payload and advances the
// pointer. Completion and advancement run in one transaction with the
// instance row locked, so concurrent submissions cannot both advance.
func (s *ExecutionService) SubmitStep(ctx context.Context, tenantID, flowInstanceID, stepInstanceID, userID string, data map[string]any, comments *string) (*models.FlowInstance, error) {
	ctx, span := s.tracer.Start(ctx, "flow.submit_step",
		trace.WithAttributes(
			attribute.String("flow.instance_id", flowInstanceID),
			attribute.String("flow.step_instance_id", stepInstanceID),
		))
	defer span.End()

	err := s.store.InTx(ctx, func(tx repository.FlowStore) error {
		inst, err := tx.GetInstanceForUpdate(ctx, tenantID, flowInstanceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("flow instance with ID %s not found", flowInstanceID)
			}
			return err
		}

		switch inst.Status {
		case models.InstanceStatusCompleted:
			return apperr.BadRequest("flow is already completed")
		case models.InstanceStatusCancelled:
			return apperr.BadRequest("flow is cancelled")
		}

		step, err := tx.GetStepInstance(ctx, stepInstanceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("step instance with ID %s not found", stepInstanceID)
			}
			return err
		}
		if step.FlowInstanceID != inst.ID {
			return apperr.NotFound("step instance with ID %s not found", stepInstanceID)
		}
		if step.Status == models.StepStatusCompleted {
			return apperr.BadRequest("step is already completed")
		}

		if err := s.completeStep(ctx, tx, step, userID, data, comments); err != nil {
			return err
		}
		return s.moveToNextStep(ctx, tx, inst)
	})
	if err != nil {
		return nil, err
	}

	return s.GetFlowInstance(ctx, tenantID, flowInstanceID)
}

// completeStep marks a step COMPLETED, storing the payload verbatim (no
// merge with prior data) and overwriting comments when provided.
func (s *ExecutionService) completeStep(ctx context.Context, tx repository.FlowStore, step *models.FlowStepInstance, userID string, data map[string]any, comments *string) error {
	if data == nil {
		data = map[string]any{}
	}
	now := time.Now()
	step.Status = models.StepStatusCompleted
	step.Data = data
	step.CompletedBy = &userID
	step.CompletedAt = &now
	if comments != nil {
		step.Comments = comments
	}
	return tx.UpdateStepInstance(ctx, step)
}

// moveToNextStep finds the lowest-order PENDING step beyond the current
// pointer and makes it the active one; with no pending step left, the flow
// completes. The scan only looks forward, which tolerates gaps but never
// navigates backward.
func (s *ExecutionService) moveToNextStep(ctx context.Context, tx repository.FlowStore, inst *models.FlowInstance) error {
	steps, err := tx.ListStepInstances(ctx, inst.ID)
	if err != nil {
		return err
	}

	var next *models.FlowStepInstance
	for _, step := range steps {
		if step.StepOrder > inst.CurrentStepOrder && step.Status == models.StepStatusPending {
			if next == nil || step.StepOrder < next.StepOrder {
				next = step
			}
		}
	}

	if next == nil {
		return s.completeFlowLocked(ctx, tx, inst)
	}

	now := time.Now()
	inst.CurrentStepOrder = next.StepOrder
	next.Status = models.StepStatusInProgress
	next.StartedAt = &now
	if err := tx.UpdateStepInstance(ctx, next); err != nil {
		return err
	}
	return tx.UpdateInstance(ctx, inst)
}

func (s *ExecutionService) completeFlowLocked(ctx context.Context, tx repository.FlowStore, inst *models.FlowInstance) error {
	if inst.Status == models.InstanceStatusCompleted {
		return apperr.BadRequest("flow is already completed")
	}
	now := time.Now()
	inst.Status = models.InstanceStatusCompleted
	inst.CompletedAt = &now
	return tx.UpdateInstance(ctx, inst)
}

// CompleteFlow marks an instance COMPLETED. Client modules that manage
// their own approval state (e.g. leave) call this to close the flow shell.
func (s *ExecutionService) CompleteFlow(ctx context.Context, tenantID, flowInstanceID string) (*models.FlowInstance, error) {
	err := s.store.InTx(ctx, func(tx repository.FlowStore) error {
		inst, err := tx.GetInstanceForUpdate(ctx, tenantID, flowInstanceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("flow instance with ID %s not found", flowInstanceID)
			}
			return err
		}
		return s.completeFlowLocked(ctx, tx, inst)
	})
	if err != nil {
		return nil, err
	}
	return s.GetFlowInstance(ctx, tenantID, flowInstanceID)
}

// CancelFlow marks an instance CANCELLED. Step instances are left as-is;
// the instance status is authoritative over any step still IN_PROGRESS.
// Cancellation is available until the flow completes.
func (s *ExecutionService) CancelFlow(ctx context.Context, tenantID, flowInstanceID, userID string) (*models.FlowInstance, error) {
	err := s.store.InTx(ctx, func(tx repository.FlowStore) error {
		inst, err := tx.GetInstanceForUpdate(ctx, tenantID, flowInstanceID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("flow instance with ID %s not found", flowInstanceID)
			}
			return err
		}
		switch inst.Status {
		case models.InstanceStatusCompleted:
			return apperr.BadRequest("cannot cancel a completed flow")
		case models.InstanceStatusCancelled:
			return apperr.BadRequest("flow is already cancelled")
		}
		now := time.Now()
		inst.Status = models.InstanceStatusCancelled
		inst.CompletedAt = &now
		return tx.UpdateInstance(ctx, inst)
	})
	if err != nil {
		return nil, err
	}
	return s.GetFlowInstance(ctx, tenantID, flowInstanceID)
}

// AssignStep sets the human assignee of a step instance.
func (s *ExecutionService) AssignStep(ctx context.Context, tenantID, stepInstanceID, assignedTo string) (*models.FlowStepInstance, error) {
	step, err := s.stepInstanceChecked(ctx, tenantID, stepInstanceID)
	if err != nil {
		return nil, err
	}
	if step.Status == models.StepStatusCompleted {
		return nil, apperr.BadRequest("cannot assign a completed step")
	}
	step.AssignedTo = &assignedTo
	if err := s.store.UpdateStepInstance(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

// GetStepInstance returns one step instance, tenant-checked through its
// parent flow instance.
func (s *ExecutionService) GetStepInstance(ctx context.Context, tenantID, stepInstanceID string) (*models.FlowStepInstance, error) {
	step, err := s.stepInstanceChecked(ctx, tenantID, stepInstanceID)
	if err != nil {
		return nil, err
	}
	def, err := s.store.GetStepDefinition(ctx, tenantID, step.StepDefinitionID)
	if err == nil {
		step.Definition = def
	}
	return step, nil
}

// GetFlowSteps returns all step instances of a flow, hydrated and ordered.
func (s *ExecutionService) GetFlowSteps(ctx context.Context, tenantID, flowInstanceID string) ([]*models.FlowStepInstance, error) {
	inst, err := s.store.GetInstance(ctx, tenantID, flowInstanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow instance with ID %s not found", flowInstanceID)
		}
		return nil, err
	}
	return s.hydratedSteps(ctx, inst)
}

// stepInstanceChecked re-derives tenant ownership through the parent flow
// instance, answering NotFound on any mismatch.
func (s *ExecutionService) stepInstanceChecked(ctx context.Context, tenantID, stepInstanceID string) (*models.FlowStepInstance, error) {
	step, err := s.store.GetStepInstance(ctx, stepInstanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("step instance with ID %s not found", stepInstanceID)
		}
		return nil, err
	}
	if _, err := s.store.GetInstance(ctx, tenantID, step.FlowInstanceID); err != nil {
		return nil, apperr.NotFound("step instance with ID %s not found", stepInstanceID)
	}
	return step, nil
}
