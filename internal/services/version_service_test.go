package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrplatform/backend/pkg/apperr"
	"hrplatform/backend/pkg/models"
)

func TestCreateVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	def, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "A"})
	require.NoError(t, err)

	v1, err := env.versions.Create(ctx, tenantA, "alice", def.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.VersionNumber)
	assert.Equal(t, models.VersionStatusDraft, v1.Status)
	assert.Equal(t, "alice", v1.CreatedBy)
	assert.Nil(t, v1.PublishedAt)

	v2, err := env.versions.Create(ctx, tenantA, "bob", def.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)

	_, err = env.versions.Create(ctx, tenantB, "eve", def.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestPublishVersion(t *testing.T) {
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		env := newTestEnv(t)
		def, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "A"})
		require.NoError(t, err)
		version := env.seedDraftVersion(t, tenantA, def.ID, 2)

		published, err := env.versions.Publish(ctx, tenantA, version.ID, true)
		require.NoError(t, err)
		assert.Equal(t, models.VersionStatusPublished, published.Status)
		assert.NotNil(t, published.PublishedAt)
	})

	t.Run("without steps", func(t *testing.T) {
		env := newTestEnv(t)
		def, err := env.definitions.Create(ctx, tenantA, CreateDefinitionInput{FlowType: "ONBOARDING", Name: "A"})
		require.NoError(t, err)
		version := env.seedDraftVersion(t, tenantA, def.ID, 0)

		_, err = env.versions.Publish(ctx, tenantA, version.ID, true)
		assert.EqualError(t, err, "cannot publish a version without any steps defined")
	})

	t.Run("archives the previous published version", func(t *testing.T) {
		env := newTestEnv(t)
		def, v1 := env.seedPublishedFlow(t, tenantA, "ONBOARDING", 2)
		v2 := env.seedDraftVersion(t, tenantA, def.ID, 3)

		_, err := env.versions.Publish(ctx, tenantA, v2.ID, true)
		require.NoError(t, err)

		old, err := env.versions.FindOne(ctx, tenantA, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, models.VersionStatusArchived, old.Status)

		active, err := env.versions.ActiveVersion(ctx, tenantA, def.ID)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)
	})

	t.Run("keeps the previous version when not archiving", func(t *testing.T) {
		env := newTestEnv(t)
		def, v1 := env.seedPublishedFlow(t, tenantA, "ONBOARDING", 2)
		v2 := env.seedDraftVersion(t, tenantA, def.ID, 3)

		_, err := env.versions.Publish(ctx, tenantA, v2.ID, false)
		require.NoError(t, err)

		old, err := env.versions.FindOne(ctx, tenantA, v1.ID)
		require.NoError(t, err)
		assert.Equal(t, models.VersionStatusPublished, old.Status)

		// the highest published version number wins
		active, err := env.versions.ActiveVersion(ctx, tenantA, def.ID)
		require.NoError(t, err)
		assert.Equal(t, v2.ID, active.ID)
	})

	t.Run("guards", func(t *testing.T) {
		env := newTestEnv(t)
		def, v1 := env.seedPublishedFlow(t, tenantA, "ONBOARDING", 2)

		_, err := env.versions.Publish(ctx, tenantA, v1.ID, true)
		assert.EqualError(t, err, "this version is already published")

		v2 := env.seedDraftVersion(t, tenantA, def.ID, 1)
		_, err = env.versions.Publish(ctx, tenantA, v2.ID, true)
		require.NoError(t, err)
		_, err = env.versions.Publish(ctx, tenantA, v1.ID, true)
		assert.EqualError(t, err, "cannot publish an archived version")

		_, err = env.versions.Publish(ctx, tenantB, v2.ID, true)
		assert.True(t, apperr.IsNotFound(err))
	})
}

func TestArchiveVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	def, v1 := env.seedPublishedFlow(t, tenantA, "ONBOARDING", 2)

	_, err := env.versions.Archive(ctx, tenantA, v1.ID)
	assert.EqualError(t, err, "cannot archive the only published version; publish another version first")

	v2 := env.seedDraftVersion(t, tenantA, def.ID, 1)
	_, err = env.versions.Publish(ctx, tenantA, v2.ID, false)
	require.NoError(t, err)

	archived, err := env.versions.Archive(ctx, tenantA, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VersionStatusArchived, archived.Status)

	_, err = env.versions.Archive(ctx, tenantA, v1.ID)
	assert.EqualError(t, err, "this version is already archived")
}

func TestRemoveVersion(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	def, published := env.seedPublishedFlow(t, tenantA, "ONBOARDING", 2)
	draft := env.seedDraftVersion(t, tenantA, def.ID, 1)

	err := env.versions.Remove(ctx, tenantA, published.ID)
	assert.EqualError(t, err, "only draft versions can be deleted; archive published versions instead")

	require.NoError(t, env.versions.Remove(ctx, tenantA, draft.ID))
	_, err = env.versions.FindOne(ctx, tenantA, draft.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestActiveVersionByType(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	def, v1 := env.seedPublishedFlow(t, tenantA, "ONBOARDING", 2)

	active, err := env.versions.ActiveVersionByType(ctx, tenantA, "ONBOARDING")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, active.ID)

	_, err = env.definitions.Deactivate(ctx, tenantA, def.ID)
	require.NoError(t, err)
	_, err = env.versions.ActiveVersionByType(ctx, tenantA, "ONBOARDING")
	assert.EqualError(t, err, "no active flow definition found for type 'ONBOARDING'")
}

// mapVersionCache is an in-process VersionCache for tests.
type mapVersionCache struct {
	mu   sync.Mutex
	data map[string]*models.FlowVersion
	hits int
}

func newMapVersionCache() *mapVersionCache {
	return &mapVersionCache{data: make(map[string]*models.FlowVersion)}
}

func (c *mapVersionCache) Get(ctx context.Context, tenantID, flowType string) (*models.FlowVersion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[tenantID+"/"+flowType]
	if ok {
		c.hits++
	}
	return v, ok
}

func (c *mapVersionCache) Put(ctx context.Context, tenantID, flowType string, version *models.FlowVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[tenantID+"/"+flowType] = version
}

func (c *mapVersionCache) Invalidate(ctx context.Context, tenantID, flowType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, tenantID+"/"+flowType)
}

func TestActiveVersionByTypeCaching(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	vcache := newMapVersionCache()
	env.versions = NewVersionService(env.store, vcache)

	def, v1 := env.seedPublishedFlow(t, tenantA, "ONBOARDING", 2)

	// first resolve fills the cache, second hits it
	_, err := env.versions.ActiveVersionByType(ctx, tenantA, "ONBOARDING")
	require.NoError(t, err)
	got, err := env.versions.ActiveVersionByType(ctx, tenantA, "ONBOARDING")
	require.NoError(t, err)
	assert.Equal(t, v1.ID, got.ID)
	assert.Equal(t, 1, vcache.hits)

	// publishing a new version invalidates, so the next resolve sees it
	v2 := env.seedDraftVersion(t, tenantA, def.ID, 1)
	_, err = env.versions.Publish(ctx, tenantA, v2.ID, true)
	require.NoError(t, err)

	got, err = env.versions.ActiveVersionByType(ctx, tenantA, "ONBOARDING")
	require.NoError(t, err)
	assert.Equal(t, v2.ID, got.ID)
}
