package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"hrplatform/backend/internal/repository"
	"hrplatform/backend/pkg/apperr"
	"hrplatform/backend/pkg/models"
)

// VersionCache caches the resolved active version per (tenant, flowType).
// Implementations are best-effort: a cache failure never fails the request.
type VersionCache interface {
	Get(ctx context.Context, tenantID, flowType string) (*models.FlowVersion, bool)
	Put(ctx context.Context, tenantID, flowType string, version *models.FlowVersion)
	Invalidate(ctx context.Context, tenantID, flowType string)
}

// VersionService manages the draft/publish/archive lifecycle of flow
// versions.
type VersionService struct {
	store repository.FlowStore
	cache VersionCache // optional
}

// NewVersionService creates a new VersionService. cache may be nil.
func NewVersionService(store repository.FlowStore, cache VersionCache) *VersionService {
	return &VersionService{store: store, cache: cache}
}

// Create adds a new DRAFT version to a definition. Version numbers increase
// monotonically per definition, starting at 1.
func (s *VersionService) Create(ctx context.Context, tenantID, userID, flowDefinitionID string) (*models.FlowVersion, error) {
	if _, err := s.store.GetDefinition(ctx, tenantID, flowDefinitionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow definition not found")
		}
		return nil, err
	}

	var version *models.FlowVersion
	err := s.store.InTx(ctx, func(tx repository.FlowStore) error {
		latest, err := tx.MaxVersionNumber(ctx, flowDefinitionID)
		if err != nil {
			return err
		}
		version = &models.FlowVersion{
			ID:               uuid.New().String(),
			FlowDefinitionID: flowDefinitionID,
			VersionNumber:    latest + 1,
			Status:           models.VersionStatusDraft,
			CreatedBy:        userID,
		}
		return tx.CreateVersion(ctx, version)
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, apperr.Conflict("version number %d already exists for this definition", version.VersionNumber)
		}
		return nil, err
	}
	return version, nil
}

// FindAll returns all versions of a definition, newest first.
func (s *VersionService) FindAll(ctx context.Context, tenantID, flowDefinitionID string) ([]*models.FlowVersion, error) {
	if _, err := s.store.GetDefinition(ctx, tenantID, flowDefinitionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow definition not found")
		}
		return nil, err
	}
	return s.store.ListVersions(ctx, flowDefinitionID)
}

// FindOne returns one version by id, tenant-checked through its definition.
func (s *VersionService) FindOne(ctx context.Context, tenantID, id string) (*models.FlowVersion, error) {
	version, err := s.store.GetVersion(ctx, tenantID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow version with ID %s not found", id)
		}
		return nil, err
	}
	return version, nil
}

// Publish makes a draft version the active one. With archiveOldVersion set,
// any currently published version of the same definition is archived in the
// same transaction, preserving the single-published invariant.
func (s *VersionService) Publish(ctx context.Context, tenantID, id string, archiveOldVersion bool) (*models.FlowVersion, error) {
	var version *models.FlowVersion
	err := s.store.InTx(ctx, func(tx repository.FlowStore) error {
		var err error
		version, err = tx.GetVersion(ctx, tenantID, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("flow version with ID %s not found", id)
			}
			return err
		}

		switch version.Status {
		case models.VersionStatusPublished:
			return apperr.BadRequest("this version is already published")
		case models.VersionStatusArchived:
			return apperr.BadRequest("cannot publish an archived version")
		}

		steps, err := tx.ListStepDefinitions(ctx, version.ID)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return apperr.BadRequest("cannot publish a version without any steps defined")
		}

		if archiveOldVersion {
			published, err := tx.ListPublishedVersions(ctx, version.FlowDefinitionID)
			if err != nil {
				return err
			}
			for _, old := range published {
				old.Status = models.VersionStatusArchived
				if err := tx.UpdateVersion(ctx, old); err != nil {
					return err
				}
			}
		}

		now := time.Now()
		version.Status = models.VersionStatusPublished
		version.PublishedAt = &now
		return tx.UpdateVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(ctx, tenantID, version.FlowDefinitionID)
	return version, nil
}

// Archive retires a version. The only published version of a definition
// cannot be archived; a replacement must be published first.
func (s *VersionService) Archive(ctx context.Context, tenantID, id string) (*models.FlowVersion, error) {
	var version *models.FlowVersion
	err := s.store.InTx(ctx, func(tx repository.FlowStore) error {
		var err error
		version, err = tx.GetVersion(ctx, tenantID, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("flow version with ID %s not found", id)
			}
			return err
		}

		if version.Status == models.VersionStatusArchived {
			return apperr.BadRequest("this version is already archived")
		}

		if version.Status == models.VersionStatusPublished {
			published, err := tx.ListPublishedVersions(ctx, version.FlowDefinitionID)
			if err != nil {
				return err
			}
			if len(published) == 1 {
				return apperr.BadRequest("cannot archive the only published version; publish another version first")
			}
		}

		version.Status = models.VersionStatusArchived
		return tx.UpdateVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(ctx, tenantID, version.FlowDefinitionID)
	return version, nil
}

// ActiveVersion returns the published version with the highest version
// number for a definition.
func (s *VersionService) ActiveVersion(ctx context.Context, tenantID, flowDefinitionID string) (*models.FlowVersion, error) {
	if _, err := s.store.GetDefinition(ctx, tenantID, flowDefinitionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flow definition not found")
		}
		return nil, err
	}

	published, err := s.store.ListPublishedVersions(ctx, flowDefinitionID)
	if err != nil {
		return nil, err
	}
	if len(published) == 0 {
		return nil, apperr.NotFound("no published version found for this flow definition")
	}
	return published[0], nil
}

// ActiveVersionByType resolves the definition by flow type (it must be
// active) and returns its active version. Results are served from the
// version cache when available; publish and archive invalidate it.
func (s *VersionService) ActiveVersionByType(ctx context.Context, tenantID, flowType string) (*models.FlowVersion, error) {
	def, err := s.store.GetDefinitionByType(ctx, tenantID, flowType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("no active flow definition found for type '%s'", flowType)
		}
		return nil, err
	}
	if !def.IsActive {
		return nil, apperr.NotFound("no active flow definition found for type '%s'", flowType)
	}

	if s.cache != nil {
		if version, ok := s.cache.Get(ctx, tenantID, flowType); ok {
			return version, nil
		}
	}

	version, err := s.ActiveVersion(ctx, tenantID, def.ID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, tenantID, flowType, version)
	}
	return version, nil
}

// Remove hard-deletes a version. Only drafts may be deleted; published and
// archived versions are kept so historical instances stay resolvable.
func (s *VersionService) Remove(ctx context.Context, tenantID, id string) error {
	version, err := s.FindOne(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if version.Status != models.VersionStatusDraft {
		return apperr.BadRequest("only draft versions can be deleted; archive published versions instead")
	}
	return s.store.DeleteVersion(ctx, id)
}

func (s *VersionService) invalidateCache(ctx context.Context, tenantID, flowDefinitionID string) {
	if s.cache == nil {
		return
	}
	def, err := s.store.GetDefinition(ctx, tenantID, flowDefinitionID)
	if err != nil {
		return
	}
	s.cache.Invalidate(ctx, tenantID, def.FlowType)
}
