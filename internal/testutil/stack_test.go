package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStack(t *testing.T) {
	s, err := OpenStack(t.TempDir(),
		WithWritePropagation(true),
		WithIDGenerator(NewSequenceGenerator()),
	)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Service.SaveEntity(ctx, "note", uuid.NewString(), json.RawMessage(`{"text":"hello"}`)))

	// The write was projected and propagated.
	found, err := s.Service.GetEntities(ctx, "note", "hello")
	require.NoError(t, err)
	assert.Len(t, found, 1)

	pending, err := s.Store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, SequenceID(1), pending[0].ID)
}

func TestOpenStack_BadDir(t *testing.T) {
	_, err := OpenStack("/nonexistent/dir/for/stack")
	assert.Error(t, err)
}
