package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apruden/wapplibre-server/internal/errs"
)

func TestPublisher_AppendsThenNotifies(t *testing.T) {
	s := setupTestStore(t)
	signal := NewSignal()
	pub := NewPublisher(s, signal)

	id, err := pub.Publish(context.Background(), json.RawMessage(`{"kind":"entity.saved"}`))
	require.NoError(t, err)
	assert.Equal(t, 7, int(id.Version()))

	events, err := s.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, id, events[0].ID)
	assert.JSONEq(t, `{"kind":"entity.saved"}`, string(events[0].Data))

	woken, err := signal.Wait(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, woken)
}

func TestPublisher_RejectsInvalidJSON(t *testing.T) {
	s := setupTestStore(t)
	signal := NewSignal()
	pub := NewPublisher(s, signal)

	_, err := pub.Publish(context.Background(), json.RawMessage(`{`))
	assert.True(t, errs.IsValidation(err))

	woken, err := signal.Wait(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, woken, "failed publish must not notify")
}

func TestPublisher_StoreFailureDoesNotNotify(t *testing.T) {
	s := setupTestStore(t)
	signal := NewSignal()
	pub := NewPublisher(s, signal, WithIDGenerator(NewFixedGenerator(testID(1), testID(1))))

	_, err := pub.Publish(context.Background(), json.RawMessage(`{}`))
	require.NoError(t, err)
	_, _ = signal.Wait(context.Background(), time.Millisecond)

	_, err = pub.Publish(context.Background(), json.RawMessage(`{}`))
	assert.True(t, errs.IsConflict(err), "expected conflict, got %v", err)

	woken, err := signal.Wait(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, woken)
}

func TestFixedGenerator_PanicsWhenExhausted(t *testing.T) {
	gen := NewFixedGenerator(testID(1))
	assert.Equal(t, testID(1), gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}
