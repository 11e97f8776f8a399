package db

import "sync"

// IDGenerator hands out increasing integer ids, one sequence per kind. The
// first id of every kind is 1 and ids are never reused.
//
// Thread-safety: All methods are safe for concurrent use. A single mutex
// guards all sequences, ids are only drawn on insert.
type IDGenerator struct {
	mu   sync.Mutex
	last [numKinds]int64
}

// NewIDGenerator creates a generator whose sequences all start at 1.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns the next id for kind.
func (g *IDGenerator) Next(kind Kind) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.last[kind]++
	return g.last[kind]
}
