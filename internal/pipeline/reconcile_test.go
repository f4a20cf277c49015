package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apruden/wapplibre-server/internal/registry"
)

func TestReconcile_RebuildsMissingProjection(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// Writes made while the index was unavailable.
	offline := New(env.store, registry.New(env.store), brokenIndex{}, brokenPublisher{})
	for i := 0; i < 5; i++ {
		data := json.RawMessage(fmt.Sprintf(`{"name":"member%d","team":"orbit"}`, i))
		require.NoError(t, offline.SaveEntity(ctx, "person", uuid.NewString(), data))
	}

	got, err := env.svc.GetEntities(ctx, "person", "orbit")
	require.NoError(t, err)
	assert.Empty(t, got)

	report, err := env.svc.Reconcile(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 5, report.Indexed)
	assert.Zero(t, report.Failed)

	got, err = env.svc.GetEntities(ctx, "person", "orbit")
	require.NoError(t, err)
	assert.Len(t, got, 5)

	// Idempotent: a second pass changes nothing.
	_, err = env.svc.Reconcile(ctx, 0)
	require.NoError(t, err)
	n, err := env.index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestReconcile_CountsIndexFailures(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.SaveEntity(ctx, "person", uuid.NewString(), json.RawMessage(`{}`)))

	broken := New(env.store, registry.New(env.store), brokenIndex{}, brokenPublisher{})
	report, err := broken.Reconcile(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Failed)
}

func TestReconcile_Cancelled(t *testing.T) {
	env := setupTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.svc.Reconcile(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconcileJob_Run(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	offline := New(env.store, registry.New(env.store), brokenIndex{}, brokenPublisher{})
	require.NoError(t, offline.SaveEntity(ctx, "person", uuid.NewString(), json.RawMessage(`{"name":"Hopper"}`)))

	NewReconcileJob(ctx, env.svc, 10).Run()

	got, err := env.svc.GetEntities(ctx, "person", "hopper")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
