// Package testutil provides deterministic helpers shared by tests and the
// scenario harness.
package testutil

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/google/uuid"
)

// SequenceGenerator generates version 7 shaped UUIDs from a counter.
//
// The first call to Generate returns 00000000-0000-7000-8000-000000000001.
// The same sequence of calls always yields the same ids, which keeps
// event ids stable in golden snapshots.
//
// Thread-safety: Generate is safe for concurrent use.
type SequenceGenerator struct {
	next atomic.Uint64
}

// NewSequenceGenerator creates a generator starting at 1.
func NewSequenceGenerator() *SequenceGenerator {
	return &SequenceGenerator{}
}

// Generate returns the next id in the sequence.
//
// Implements engine.IDGenerator.
func (g *SequenceGenerator) Generate() uuid.UUID {
	return SequenceID(g.next.Add(1))
}

// SequenceID returns the n-th id of a SequenceGenerator.
func SequenceID(n uint64) uuid.UUID {
	var id uuid.UUID
	binary.BigEndian.PutUint64(id[8:], n&0x3fffffffffffffff)
	id[6] = 0x70              // version 7
	id[8] = id[8]&0x3f | 0x80 // RFC 4122 variant
	return id
}
