package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrplatform/backend/pkg/apperr"
)

func TestCreateDefinition(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults to active", func(t *testing.T) {
		env := newTestEnv(t)
		def, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{
			FlowType:    "ONBOARDING",
			Name:        "Employee Onboarding",
			Description: "New hire pipeline",
		})
		require.NoError(t, err)
		assert.NotEmpty(t, def.ID)
		assert.True(t, def.IsActive)
		assert.Equal(t, tenantA, def.TenantID)
	})

	t.Run("missing fields", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{Name: "No type"})
		assert.True(t, apperr.IsBadRequest(err))

		_, err = env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "X"})
		assert.True(t, apperr.IsBadRequest(err))
	})

	t.Run("duplicate flow type within tenant", func(t *testing.T) {
		env := newTestEnv(t)
		_, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "A"})
		require.NoError(t, err)

		_, err = env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "B"})
		assert.True(t, apperr.IsConflict(err))

		// same type in another tenant is fine
		_, err = env.definitions.Create(ctx, tenantB, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "C"})
		assert.NoError(t, err)
	})
}

func TestDefinitionLookups(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	def, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "A"})
	require.NoError(t, err)

	t.Run("by id", func(t *testing.T) {
		got, err := env.definitions.FindOne(ctx, tenantA, def.ID)
		require.NoError(t, err)
		assert.Equal(t, def.ID, got.ID)
	})

	t.Run("by type", func(t *testing.T) {
		got, err := env.definitions.FindByType(ctx, tenantA, "ONBOARDING")
		require.NoError(t, err)
		assert.Equal(t, def.ID, got.ID)
	})

	t.Run("cross-tenant reads answer not found", func(t *testing.T) {
		_, err := env.definitions.FindOne(ctx, tenantB, def.ID)
		assert.True(t, apperr.IsNotFound(err))

		_, err = env.definitions.FindByType(ctx, tenantB, "ONBOARDING")
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestUpdateDefinition(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	def, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "A"})
	require.NoError(t, err)
	_, err = env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "OFFBOARDING", Name: "B"})
	require.NoError(t, err)

	name := "Renamed"
	updated, err := env.definitions.Update(ctx, tenantA, def.ID, UpdateDefinitionInput{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	taken := "OFFBOARDING"
	_, err = env.definitions.Update(ctx, tenantA, def.ID, UpdateDefinitionInput{FlowType: &taken})
	assert.True(t, apperr.IsConflict(err))
}

func TestActivateDeactivate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	def, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "A"})
	require.NoError(t, err)

	off, err := env.definitions.Deactivate(ctx, tenantA, def.ID)
	require.NoError(t, err)
	assert.False(t, off.IsActive)

	on, err := env.definitions.Activate(ctx, tenantA, def.ID)
	require.NoError(t, err)
	assert.True(t, on.IsActive)
}

func TestRemoveDefinition(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	def, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "A"})
	require.NoError(t, err)

	require.NoError(t, env.definitions.Remove(ctx, tenantA, def.ID))
	_, err = env.definitions.FindOne(ctx, tenantA, def.ID)
	assert.True(t, apperr.IsNotFound(err))

	err = env.definitions.Remove(ctx, tenantA, def.ID)
	assert.True(t, apperr.IsNotFound(err))
}
