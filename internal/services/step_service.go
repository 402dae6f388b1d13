package services

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"

	"hrplatform/backend/internal/repository"
	"hrplatform/backend/pkg/apperr"
	"hrplatform/backend/pkg/models"
)

// StepService manages the ordered step templates of a draft version.
type StepService struct {
	store repository.FlowStore
}

// NewStepService creates a new StepService.
func NewStepService(store repository.FlowStore) *StepService {
	return &StepService{store: store}
}

// CreateStepInput is the payload for CreateStep.
type CreateStepInput struct {
	FlowVersionID string          `json:"flow_version_id"`
	StepOrder     int             `json:"step_order"`
	StepType      models.StepType `json:"step_type"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	FormSchemaID  *string         `json:"form_schema_id"`
	ApprovalRole  *string         `json:"approval_role"`
	Config        map[string]any  `json:"config"`
	IsMandatory   *bool           `json:"is_mandatory"`
}

// UpdateStepInput is the payload for UpdateStep. Nil fields are unchanged.
type UpdateStepInput struct {
	StepOrder    *int             `json:"step_order"`
	StepType     *models.StepType `json:"step_type"`
	Title        *string          `json:"title"`
	Description  *string          `json:"description"`
	FormSchemaID *string          `json:"form_schema_id"`
	ApprovalRole *string          `json:"approval_role"`
	Config       map[string]any   `json:"config"`
	IsMandatory  *bool            `json:"is_mandatory"`
}

// StepOrderInput assigns a new order to one step during a reorder.
type StepOrderInput struct {
	StepID string `json:"step_id"`
	Order  int    `json:"order"`
}

// draftVersion loads a version tenant-checked and ensures it is a draft.
func (s *StepService) draftVersion(ctx context.Context, store repository.FlowStore, tenantID, flowVersionID string) (*models.FlowVersion, error) {
	version, err := store.GetVersion(ctx, tenantID, flowVersionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow version not found")
		}
		return nil, err
	}
	if version.Status != models.VersionStatusDraft {
		return nil, apperr.BadRequest("steps can only be modified in draft versions")
	}
	return version, nil
}

// CreateStep adds a step template to a draft version. Step orders are
// unique within a version.
func (s *StepService) CreateStep(ctx context.Context, tenantID string, in CreateStepInput) (*models.FlowStepDefinition, error) {
	if in.StepOrder < 1 {
		return nil, apperr.BadRequest("step order must be at least 1")
	}
	if in.StepType == "" {
		return nil, apperr.BadRequest("step type is required")
	}
	if in.Title == "" {
		return nil, apperr.BadRequest("title is required")
	}

	if _, err := s.draftVersion(ctx, s.store, tenantID, in.FlowVersionID); err != nil {
		return nil, err
	}

	if _, err := s.store.GetStepDefinitionByOrder(ctx, in.FlowVersionID, in.StepOrder); err == nil {
		return nil, apperr.Conflict("step with order %d already exists", in.StepOrder)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	mandatory := true
	if in.IsMandatory != nil {
		mandatory = *in.IsMandatory
	}
	config := in.Config
	if config == nil {
		config = map[string]any{}
	}
	step := &models.FlowStepDefinition{
		ID:            uuid.New().String(),
		FlowVersionID: in.FlowVersionID,
		StepOrder:     in.StepOrder,
		StepType:      in.StepType,
		Title:         in.Title,
		Description:   in.Description,
		FormSchemaID:  in.FormSchemaID,
		ApprovalRole:  in.ApprovalRole,
		Config:        config,
		IsMandatory:   mandatory,
	}
	if err := s.store.CreateStepDefinition(ctx, step); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("step with order %d already exists", in.StepOrder)
		}
		return nil, err
	}
	return step, nil
}

// StepsForVersion returns the version's step templates sorted by order.
func (s *StepService) StepsForVersion(ctx context.Context, tenantID, flowVersionID string) ([]*models.FlowStepDefinition, error) {
	if _, err := s.store.GetVersion(ctx, tenantID, flowVersionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow version not found")
		}
		return nil, err
	}
	return s.store.ListStepDefinitions(ctx, flowVersionID)
}

// FindOne returns a single step template by id.
func (s *StepService) FindOne(ctx context.Context, tenantID, id string) (*models.FlowStepDefinition, error) {
	step, err := s.store.GetStepDefinition(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("step with ID %s not found", id)
		}
		return nil, err
	}
	return step, nil
}

// UpdateStep modifies a step template in a draft version. An order change
// is checked for collision against the version's other steps.
func (s *StepService) UpdateStep(ctx context.Context, tenantID, id string, in UpdateStepInput) (*models.FlowStepDefinition, error) {
	step, err := s.FindOne(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.draftVersion(ctx, s.store, tenantID, step.FlowVersionID); err != nil {
		return nil, err
	}

	if in.StepOrder != nil && *in.StepOrder != step.StepOrder {
		if *in.StepOrder < 1 {
			return nil, apperr.BadRequest("step order must be at least 1")
		}
		existing, err := s.store.GetStepDefinitionByOrder(ctx, step.FlowVersionID, *in.StepOrder)
		if err == nil && existing.ID != step.ID {
			return nil, apperr.Conflict("step with order %d already exists", *in.StepOrder)
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		step.StepOrder = *in.StepOrder
	}
	if in.StepType != nil {
		step.StepType = *in.StepType
	}
	if in.Title != nil {
		step.Title = *in.Title
	}
	if in.Description != nil {
		step.Description = *in.Description
	}
	if in.FormSchemaID != nil {
		step.FormSchemaID = in.FormSchemaID
	}
	if in.ApprovalRole != nil {
		step.ApprovalRole = in.ApprovalRole
	}
	if in.Config != nil {
		step.Config = in.Config
	}
	if in.IsMandatory != nil {
		step.IsMandatory = *in.IsMandatory
	}

	if err := s.store.UpdateStepDefinition(ctx, step); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("step with order %d already exists", step.StepOrder)
		}
		return nil, err
	}
	return step, nil
}

// DeleteStep removes a step template from a draft version.
func (s *StepService) DeleteStep(ctx context.Context, tenantID, id string) error {
	step, err := s.FindOne(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if _, err := s.draftVersion(ctx, s.store, tenantID, step.FlowVersionID); err != nil {
		return err
	}
	return s.store.DeleteStepDefinition(ctx, id)
}

// ReorderSteps reassigns step orders in one atomic batch: every referenced
// step must belong to the version and the requested orders must be unique,
// otherwise nothing changes.
func (s *StepService) ReorderSteps(ctx context.Context, tenantID, flowVersionID string, assignments []StepOrderInput) ([]*models.FlowStepDefinition, error) {
	var updated []*models.FlowStepDefinition
	err := s.store.InTx(ctx, func(tx repository.FlowStore) error {
		if _, err := s.draftVersion(ctx, tx, tenantID, flowVersionID); err != nil {
			return err
		}

		allSteps, err := tx.ListStepDefinitions(ctx, flowVersionID)
		if err != nil {
			return err
		}
		byID := make(map[string]*models.FlowStepDefinition, len(allSteps))
		for _, step := range allSteps {
			byID[step.ID] = step
		}

		orders := make(map[int]bool, len(assignments))
		for _, a := range assignments {
			if _, ok := byID[a.StepID]; !ok {
				return apperr.NotFound("step with ID %s not found", a.StepID)
			}
			if orders[a.Order] {
				return apperr.BadRequest("duplicate step orders are not allowed")
			}
			orders[a.Order] = true
		}

		for _, a := range assignments {
			step := byID[a.StepID]
			step.StepOrder = a.Order
			if err := tx.UpdateStepDefinition(ctx, step); err != nil {
				return err
			}
			updated = append(updated, step)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("step orders conflict with steps outside the reorder")
		}
		return nil, err
	}

	sort.Slice(updated, func(i, j int) bool { return updated[i].StepOrder < updated[j].StepOrder })
	return updated, nil
}

// NextStepOrder returns max(stepOrder)+1 for the version, or 1 when it has
// no steps yet. Convenience for UI step builders.
func (s *StepService) NextStepOrder(ctx context.Context, tenantID, flowVersionID string) (int, error) {
	steps, err := s.StepsForVersion(ctx, tenantID, flowVersionID)
	if err != nil {
		return 0, err
	}
	next := 1
	for _, step := range steps {
		if step.StepOrder >= next {
			next = step.StepOrder + 1
		}
	}
	return next, nil
}
