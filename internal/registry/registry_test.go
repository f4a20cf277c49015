package registry

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/ir"
	"github.com/apruden/wapplibre-server/internal/store"
)

// countingStore records how many times each schema is fetched.
type countingStore struct {
	Store
	mu    sync.Mutex
	reads map[string]int
}

func (c *countingStore) GetSchema(ctx context.Context, name string) ([]byte, error) {
	c.mu.Lock()
	c.reads[name]++
	c.mu.Unlock()
	return c.Store.GetSchema(ctx, name)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "entity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *countingStore) {
	t.Helper()
	cs := &countingStore{Store: newTestStore(t), reads: map[string]int{}}
	r := New(cs, opts...)
	t.Cleanup(func() { r.Close() })
	return r, cs
}

func mustSave(t *testing.T, r *Registry, name, model string) {
	t.Helper()
	v, err := ir.Unmarshal([]byte(model))
	require.NoError(t, err)
	require.NoError(t, r.SaveSchema(context.Background(), name, v))
}

func mustResolve(t *testing.T, r *Registry, name string) string {
	t.Helper()
	resolved, err := r.ResolveSchema(context.Background(), name)
	require.NoError(t, err)
	out, err := resolved.MarshalJSON()
	require.NoError(t, err)
	return string(out)
}

func TestSaveSchema_GetSchema(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustSave(t, r, "person", `{"type":"object","properties":{"home":{"$ref":"address.json#"}}}`)

	doc, err := r.GetSchema(context.Background(), "person")
	require.NoError(t, err)
	assert.Equal(t, "person", doc.Name)

	out, err := doc.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"person","model":{"type":"object","properties":{"home":{"$ref":"address.json#"}}}}`, string(out))
}

func TestSaveSchema_Overwrites(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustSave(t, r, "flag", `{"type":"boolean"}`)
	mustSave(t, r, "flag", `{"type":"string"}`)

	doc, err := r.GetSchema(context.Background(), "flag")
	require.NoError(t, err)
	assert.Equal(t, ir.Object{"type": ir.String("string")}, doc.Model)
}

func TestSaveSchema_EmptyName(t *testing.T) {
	r, _ := newTestRegistry(t)

	err := r.SaveSchema(context.Background(), "", ir.Object{})
	assert.True(t, errs.IsValidation(err))
}

func TestGetSchema_NotFound(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.GetSchema(context.Background(), "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestResolveSchema_NoRefs(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustSave(t, r, "flag", `{"type":"boolean"}`)

	assert.Equal(t,
		`{"model":{"definitions":{},"type":"boolean"},"name":"flag"}`,
		mustResolve(t, r, "flag"))
}

func TestResolveSchema_Golden(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustSave(t, r, "person", `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"home": {"$ref": "address.json#", "description": "Home address"},
			"friends": {"type": "array", "items": {"$ref": "person.json#"}}
		}
	}`)
	mustSave(t, r, "address", `{
		"type": "object",
		"properties": {
			"street": {"type": "string"},
			"country": {"$ref": "country"}
		}
	}`)
	mustSave(t, r, "country", `{"type": "string", "enum": ["CA", "FR"]}`)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "resolve_person", []byte(mustResolve(t, r, "person")))
}

func TestResolveSchema_MutualCycle(t *testing.T) {
	r, cs := newTestRegistry(t, WithCacheSize(0))
	mustSave(t, r, "a", `{"next":{"$ref":"b"}}`)
	mustSave(t, r, "b", `{"back":{"$ref":"a"}}`)

	assert.Equal(t,
		`{"model":{"definitions":{"b":{"back":{"$ref":"#"}}},"next":{"$ref":"#/definitions/b"}},"name":"a"}`,
		mustResolve(t, r, "a"))
	assert.Equal(t, 1, cs.reads["a"])
	assert.Equal(t, 1, cs.reads["b"])
}

func TestResolveSchema_SelfReference(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustSave(t, r, "node", `{"children":{"items":{"$ref":"node.json#"}}}`)

	assert.Equal(t,
		`{"model":{"children":{"items":{"$ref":"#"}},"definitions":{}},"name":"node"}`,
		mustResolve(t, r, "node"))
}

func TestResolveSchema_DiamondFetchesOnce(t *testing.T) {
	r, cs := newTestRegistry(t, WithCacheSize(0))
	mustSave(t, r, "top", `{"l":{"$ref":"left"},"r":{"$ref":"right"},"again":{"$ref":"shared"}}`)
	mustSave(t, r, "left", `{"s":{"$ref":"shared"}}`)
	mustSave(t, r, "right", `{"s":{"$ref":"shared"}}`)
	mustSave(t, r, "shared", `{"type":"string"}`)

	resolved, err := r.ResolveSchema(context.Background(), "top")
	require.NoError(t, err)
	assert.Len(t, resolved.Definitions, 3)
	assert.Equal(t, 1, cs.reads["shared"])
}

func TestResolveSchema_MissingReference(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustSave(t, r, "person", `{"home":{"$ref":"address.json#"}}`)

	_, err := r.ResolveSchema(context.Background(), "person")
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err), "expected not found, got %v", err)
	assert.Contains(t, err.Error(), "address")
}

func TestResolveSchema_MissingRoot(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.ResolveSchema(context.Background(), "ghost")
	assert.True(t, errs.IsNotFound(err))
}

func TestResolveSchema_LocalPointersUntouched(t *testing.T) {
	r, _ := newTestRegistry(t)
	mustSave(t, r, "doc", `{"a":{"$ref":"#/definitions/x"},"definitions":{"x":{"type":"string"}}}`)

	assert.Equal(t,
		`{"model":{"a":{"$ref":"#/definitions/x"},"definitions":{"x":{"type":"string"}}},"name":"doc"}`,
		mustResolve(t, r, "doc"))
}

func TestResolveSchema_CacheInvalidatedOnSave(t *testing.T) {
	r, cs := newTestRegistry(t)
	mustSave(t, r, "person", `{"home":{"$ref":"address"}}`)
	mustSave(t, r, "address", `{"type":"object"}`)

	first := mustResolve(t, r, "person")
	assert.Contains(t, first, `"address":{"type":"object"}`)

	// Served from cache.
	mustResolve(t, r, "person")
	assert.Equal(t, 1, cs.reads["address"])

	mustSave(t, r, "address", `{"type":"string"}`)
	second := mustResolve(t, r, "person")
	assert.Contains(t, second, `"address":{"type":"string"}`)
	assert.Equal(t, 2, cs.reads["address"])
}

func TestResolveSchema_SeesSavesFromOtherRegistries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entity.db")
	open := func() *Registry {
		s, err := store.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		r := New(s)
		t.Cleanup(func() { r.Close() })
		return r
	}

	// Separate database handles, as for a running server and a
	// "schema load" run against the same file.
	server := open()
	loader := open()

	mustSave(t, loader, "person", `{"home":{"$ref":"address"}}`)
	mustSave(t, loader, "address", `{"type":"object"}`)

	assert.Contains(t, mustResolve(t, server, "person"), `"address":{"type":"object"}`)
	// A repeated read must not pin the old resolution.
	assert.Contains(t, mustResolve(t, server, "person"), `"address":{"type":"object"}`)

	mustSave(t, loader, "address", `{"type":"string"}`)
	assert.Contains(t, mustResolve(t, server, "person"), `"address":{"type":"string"}`)
}

func TestResolveSchema_SharedStore(t *testing.T) {
	s := newTestStore(t)
	first := New(s)
	second := New(s)
	t.Cleanup(func() {
		first.Close()
		second.Close()
	})

	mustSave(t, first, "flag", `{"type":"boolean"}`)
	assert.Contains(t, mustResolve(t, first, "flag"), `"boolean"`)

	mustSave(t, second, "flag", `{"type":"string"}`)
	assert.Contains(t, mustResolve(t, first, "flag"), `"string"`)
}

// racingStore saves a new version of a schema while a resolution is
// reading it, the first time it is read.
type racingStore struct {
	*store.Store
	once  sync.Once
	write func()
}

func (s *racingStore) GetSchema(ctx context.Context, name string) ([]byte, error) {
	data, err := s.Store.GetSchema(ctx, name)
	if name == "address" {
		s.once.Do(s.write)
	}
	return data, err
}

func TestResolveSchema_SaveDuringResolution(t *testing.T) {
	rs := &racingStore{Store: newTestStore(t)}
	r := New(rs)
	t.Cleanup(func() { r.Close() })

	mustSave(t, r, "person", `{"home":{"$ref":"address"}}`)
	mustSave(t, r, "address", `{"type":"object"}`)
	rs.write = func() {
		require.NoError(t, rs.Store.PutSchema(context.Background(), "address", []byte(`{"type":"string"}`)))
	}

	// The first resolution read the old body before the save committed.
	assert.Contains(t, mustResolve(t, r, "person"), `"address":{"type":"object"}`)
	// It must not be served from the cache afterwards.
	assert.Contains(t, mustResolve(t, r, "person"), `"address":{"type":"string"}`)
}

func TestSaveSchema_NormalizedKeyCollision(t *testing.T) {
	r, _ := newTestRegistry(t)
	model := ir.Object{
		"cafe\u0301": ir.String("decomposed"),
		"caf\u00e9":  ir.String("composed"),
	}

	err := r.SaveSchema(context.Background(), "menu", model)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err), "expected validation error, got %v", err)
}
