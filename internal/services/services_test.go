package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"hrplatform/backend/internal/repository"
	"hrplatform/backend/pkg/models"
)

const (
	tenantA = "tenant-a"
	tenantB = "tenant-b"
)

type testEnv struct {
	store       *repository.MemoryFlowStore
	definitions *DefinitionService
	versions    *VersionService
	steps       *StepService
	execution   *ExecutionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := repository.NewMemoryFlowStore()
	versions := NewVersionService(store, nil)
	return &testEnv{
		store:       store,
		definitions: NewDefinitionService(store),
		versions:    versions,
		steps:       NewStepService(store),
		execution:   NewExecutionService(store, versions),
	}
}

// seedPublishedFlow creates a definition with one published version holding
// numSteps form steps.
func (env *testEnv) seedPublishedFlow(t *testing.T, tenantID, flowType string, numSteps int) (*models.FlowDefinition, *models.FlowVersion) {
	t.Helper()
	ctx := context.Background()

	def, err := env.definitions.Create(ctx, tenantID, CreateDefinitionInput{
		FlowType: flowType,
		Name:     flowType + " flow",
	})
	require.NoError(t, err)

	version := env.seedDraftVersion(t, tenantID, def.ID, numSteps)
	published, err := env.versions.Publish(ctx, tenantID, version.ID, true)
	require.NoError(t, err)
	return def, published
}

// seedDraftVersion adds a draft version with numSteps form steps to a
// definition.
func (env *testEnv) seedDraftVersion(t *testing.T, tenantID, defID string, numSteps int) *models.FlowVersion {
	t.Helper()
	ctx := context.Background()

	version, err := env.versions.Create(ctx, tenantID, "creator", defID)
	require.NoError(t, err)
	for i := 1; i <= numSteps; i++ {
		_, err := env.steps.CreateStep(ctx, tenantID, CreateStepInput{
			FlowVersionID: version.ID,
			StepOrder:     i,
			StepType:      models.StepTypeForm,
			Title:         "Step",
		})
		require.NoError(t, err)
	}
	return version
}
