// Package services implements the flow engine business logic on top of the
// repository layer.
package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"hrplatform/backend/internal/repository"
	"hrplatform/backend/pkg/apperr"
	"hrplatform/backend/pkg/models"
)

// DefinitionService manages flow definitions, the per-tenant registry of
// process types.
type DefinitionService struct {
	store repository.FlowStore
}

// NewDefinitionService creates a new DefinitionService.
func NewDefinitionService(store repository.FlowStore) *DefinitionService {
	return &DefinitionService{store: store}
}

// CreateDefinitionInput is the payload for Create.
type CreateDefinitionInput struct {
	FlowType    string `json:"flow_type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

// UpdateDefinitionInput is the payload for Update. Nil fields are unchanged.
type UpdateDefinitionInput struct {
	FlowType    *string `json:"flow_type"`
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

// Create registers a new flow definition for the tenant. The (tenant,
// flowType) pair must be unique.
func (s *DefinitionService) Create(ctx context.Context, tenantID string, in CreateDefinitionInput) (*models.FlowDefinition, error) {
	if in.FlowType == "" {
		return nil, apperr.BadRequest("flow type is required")
	}
	if in.Name == "" {
		return nil, apperr.BadRequest("name is required")
	}

	_, err := s.store.GetDefinitionByType(ctx, tenantID, in.FlowType)
	if err == nil {
		return nil, apperr.Conflict("flow definition with type '%s' already exists for this tenant", in.FlowType)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	def := &models.FlowDefinition{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		FlowType:    in.FlowType,
		Name:        in.Name,
		Description: in.Description,
		IsActive:    active,
	}
	if err := s.store.CreateDefinition(ctx, def); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("flow definition with type '%s' already exists for this tenant", in.FlowType)
		}
		return nil, err
	}
	return def, nil
}

// FindAll returns the tenant's flow definitions, newest first.
func (s *DefinitionService) FindAll(ctx context.Context, tenantID string) ([]*models.FlowDefinition, error) {
	return s.store.ListDefinitions(ctx, tenantID)
}

// FindOne returns one flow definition by id.
func (s *DefinitionService) FindOne(ctx context.Context, tenantID, id string) (*models.FlowDefinition, error) {
	def, err := s.store.GetDefinition(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow definition with ID %s not found", id)
		}
		return nil, err
	}
	return def, nil
}

// FindByType returns one flow definition by flow type.
func (s *DefinitionService) FindByType(ctx context.Context, tenantID, flowType string) (*models.FlowDefinition, error) {
	def, err := s.store.GetDefinitionByType(ctx, tenantID, flowType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow definition with type '%s' not found", flowType)
		}
		return nil, err
	}
	return def, nil
}

// Update modifies a flow definition. Changing the flow type re-checks
// uniqueness against the tenant's other definitions.
func (s *DefinitionService) Update(ctx context.Context, tenantID, id string, in UpdateDefinitionInput) (*models.FlowDefinition, error) {
	def, err := s.FindOne(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if in.FlowType != nil && *in.FlowType != def.FlowType {
		if _, err := s.store.GetDefinitionByType(ctx, tenantID, *in.FlowType); err == nil {
			return nil, apperr.Conflict("flow definition with type '%s' already exists", *in.FlowType)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		def.FlowType = *in.FlowType
	}
	if in.Name != nil {
		def.Name = *in.Name
	}
	if in.Description != nil {
		def.Description = *in.Description
	}
	if in.IsActive != nil {
		def.IsActive = *in.IsActive
	}

	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// Remove hard-deletes a flow definition. Storage-level foreign keys decide
// what happens to dependents; callers are responsible for not orphaning
// in-flight work.
func (s *DefinitionService) Remove(ctx context.Context, tenantID, id string) error {
	if err := s.store.DeleteDefinition(ctx, tenantID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("flow definition with ID %s not found", id)
		}
		return err
	}
	return nil
}

// Deactivate hides the definition from new instantiation. In-flight
// instances are unaffected.
func (s *DefinitionService) Deactivate(ctx context.Context, tenantID, id string) (*models.FlowDefinition, error) {
	return s.setActive(ctx, tenantID, id, false)
}

// Activate re-enables the definition for new instantiation.
func (s *DefinitionService) Activate(ctx context.Context, tenantID, id string) (*models.FlowDefinition, error) {
	return s.setActive(ctx, tenantID, id, true)
}

func (s *DefinitionService) setActive(ctx context.Context, tenantID, id string, active bool) (*models.FlowDefinition, error) {
	def, err := s.FindOne(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	def.IsActive = active
	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}
