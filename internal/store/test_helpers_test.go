package store

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testID returns a deterministic UUID whose last byte is n.
func testID(n byte) uuid.UUID {
	var id uuid.UUID
	id[15] = n
	return id
}
