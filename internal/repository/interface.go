// Package repository provides persistence for flow definitions, versions,
// step templates and running instances.
package repository

import (
	"context"
	"errors"

	"hrplatform/backend/pkg/models"
)

// ErrNotFound is returned when a record does not exist. Tenant-scoped
// lookups also return it when the record exists under a different tenant,
// so callers cannot probe for existence across tenants.
var ErrNotFound = errors.New("record not found")

// ErrConflict is returned when a write violates a uniqueness constraint.
var ErrConflict = errors.New("record already exists")

// InstanceFilter narrows ListInstances. Nil fields are ignored.
type InstanceFilter struct {
	FlowType    *string
	Status      *models.FlowInstanceStatus
	InitiatedBy *string
	EntityType  *string
	EntityID    *string
}

// FlowStore is the persistence interface for the flow engine. Lookups that
// take a tenant id re-derive ownership transitively (step template through
// its version and definition, step instance through its flow instance) and
// answer ErrNotFound on any mismatch.
type FlowStore interface {
	// Tenants
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)

	// Flow definitions
	CreateDefinition(ctx context.Context, def *models.FlowDefinition) error
	GetDefinition(ctx context.Context, tenantID, id string) (*models.FlowDefinition, error)
	GetDefinitionByType(ctx context.Context, tenantID, flowType string) (*models.FlowDefinition, error)
	ListDefinitions(ctx context.Context, tenantID string) ([]*models.FlowDefinition, error)
	UpdateDefinition(ctx context.Context, def *models.FlowDefinition) error
	DeleteDefinition(ctx context.Context, tenantID, id string) error

	// Flow versions
	CreateVersion(ctx context.Context, version *models.FlowVersion) error
	GetVersion(ctx context.Context, tenantID, id string) (*models.FlowVersion, error)
	ListVersions(ctx context.Context, flowDefinitionID string) ([]*models.FlowVersion, error)
	ListPublishedVersions(ctx context.Context, flowDefinitionID string) ([]*models.FlowVersion, error)
	MaxVersionNumber(ctx context.Context, flowDefinitionID string) (int, error)
	UpdateVersion(ctx context.Context, version *models.FlowVersion) error
	DeleteVersion(ctx context.Context, id string) error

	// Step templates
	CreateStepDefinition(ctx context.Context, step *models.FlowStepDefinition) error
	GetStepDefinition(ctx context.Context, tenantID, id string) (*models.FlowStepDefinition, error)
	GetStepDefinitionByOrder(ctx context.Context, flowVersionID string, order int) (*models.FlowStepDefinition, error)
	ListStepDefinitions(ctx context.Context, flowVersionID string) ([]*models.FlowStepDefinition, error)
	UpdateStepDefinition(ctx context.Context, step *models.FlowStepDefinition) error
	DeleteStepDefinition(ctx context.Context, id string) error

	// Flow instances
	CreateInstance(ctx context.Context, inst *models.FlowInstance) error
	GetInstance(ctx context.Context, tenantID, id string) (*models.FlowInstance, error)
	// GetInstanceForUpdate additionally locks the instance row for the
	// duration of the enclosing transaction.
	GetInstanceForUpdate(ctx context.Context, tenantID, id string) (*models.FlowInstance, error)
	ListInstances(ctx context.Context, tenantID string, filter InstanceFilter) ([]*models.FlowInstance, error)
	UpdateInstance(ctx context.Context, inst *models.FlowInstance) error

	// Step instances
	CreateStepInstance(ctx context.Context, step *models.FlowStepInstance) error
	GetStepInstance(ctx context.Context, id string) (*models.FlowStepInstance, error)
	GetStepInstanceByOrder(ctx context.Context, flowInstanceID string, order int) (*models.FlowStepInstance, error)
	ListStepInstances(ctx context.Context, flowInstanceID string) ([]*models.FlowStepInstance, error)
	UpdateStepInstance(ctx context.Context, step *models.FlowStepInstance) error

	// InTx runs fn against a store bound to a single transaction; fn's
	// writes commit together or not at all. Calling InTx on a store that is
	// already transaction-bound runs fn in the same transaction.
	InTx(ctx context.Context, fn func(FlowStore) error) error
}
