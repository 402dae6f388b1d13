// Package models defines the domain models for the HR flow engine.
package models

import (
	"time"
)

// FlowVersionStatus is the lifecycle state of a flow version.
type FlowVersionStatus string

const (
	VersionStatusDraft     FlowVersionStatus = "DRAFT"
	VersionStatusPublished FlowVersionStatus = "PUBLISHED"
	VersionStatusArchived  FlowVersionStatus = "ARCHIVED"
)

// FlowInstanceStatus is the lifecycle state of a flow instance.
type FlowInstanceStatus string

const (
	InstanceStatusInProgress FlowInstanceStatus = "IN_PROGRESS"
	InstanceStatusCompleted  FlowInstanceStatus = "COMPLETED"
	InstanceStatusCancelled  FlowInstanceStatus = "CANCELLED"
)

// StepInstanceStatus is the lifecycle state of a step instance.
type StepInstanceStatus string

const (
	StepStatusPending    StepInstanceStatus = "PENDING"
	StepStatusInProgress StepInstanceStatus = "IN_PROGRESS"
	StepStatusCompleted  StepInstanceStatus = "COMPLETED"
)

// StepType tags a step template with its behavior. The set is open: the
// engine only stores the tag, interpretation belongs to calling modules.
type StepType string

const (
	StepTypeForm     StepType = "FORM"
	StepTypeApproval StepType = "APPROVAL"
)

// FlowDefinition identifies a process type within a tenant, e.g. ONBOARDING
// or LEAVE_APPROVAL. FlowType is unique per tenant.
type FlowDefinition struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	FlowType    string    `json:"flow_type"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FlowVersion is one revision of a definition's step templates. A version is
// mutable only while DRAFT; PUBLISHED and ARCHIVED versions are frozen so
// historical instances keep a stable template to point at.
type FlowVersion struct {
	ID               string            `json:"id"`
	FlowDefinitionID string            `json:"flow_definition_id"`
	VersionNumber    int               `json:"version_number"`
	Status           FlowVersionStatus `json:"status"`
	CreatedBy        string            `json:"created_by,omitempty"`
	PublishedAt      *time.Time        `json:"published_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// FlowStepDefinition is an ordered step template within a version. Config is
// an opaque JSON blob for step-type-specific behavior.
type FlowStepDefinition struct {
	ID            string         `json:"id"`
	FlowVersionID string         `json:"flow_version_id"`
	StepOrder     int            `json:"step_order"`
	StepType      StepType       `json:"step_type"`
	Title         string         `json:"title"`
	Description   string         `json:"description,omitempty"`
	FormSchemaID  *string        `json:"form_schema_id,omitempty"`
	ApprovalRole  *string        `json:"approval_role,omitempty"`
	Config        map[string]any `json:"config"`
	IsMandatory   bool           `json:"is_mandatory"`
	CreatedAt     time.Time      `json:"created_at"`
}

// FlowInstance is one execution of a published version. CurrentStepOrder is
// the single source of truth for which step is active; it is written in the
// same transaction as the step-status transition it reflects.
type FlowInstance struct {
	ID               string             `json:"id"`
	TenantID         string             `json:"tenant_id"`
	FlowVersionID    string             `json:"flow_version_id"`
	FlowType         string             `json:"flow_type"`
	EntityID         *string            `json:"entity_id,omitempty"`
	EntityType       *string            `json:"entity_type,omitempty"`
	Status           FlowInstanceStatus `json:"status"`
	InitiatedBy      string             `json:"initiated_by"`
	StartedAt        time.Time          `json:"started_at"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`
	CurrentStepOrder int                `json:"current_step_order"`

	// Steps is populated on hydrated reads, sorted by step order.
	Steps []*FlowStepInstance `json:"steps,omitempty"`
}

// FlowStepInstance is the execution record of one step template within a
// flow instance. Data holds the payload submitted by the actor, verbatim.
type FlowStepInstance struct {
	ID               string             `json:"id"`
	FlowInstanceID   string             `json:"flow_instance_id"`
	StepDefinitionID string             `json:"step_definition_id"`
	StepOrder        int                `json:"step_order"`
	Status           StepInstanceStatus `json:"status"`
	Data             map[string]any     `json:"data"`
	AssignedTo       *string            `json:"assigned_to,omitempty"`
	CompletedBy      *string            `json:"completed_by,omitempty"`
	Comments         *string            `json:"comments,omitempty"`
	StartedAt        *time.Time         `json:"started_at,omitempty"`
	CompletedAt      *time.Time         `json:"completed_at,omitempty"`

	// Definition is populated on hydrated reads.
	Definition *FlowStepDefinition `json:"definition,omitempty"`
}
