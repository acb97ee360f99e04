// Package store provides ModelStore implementations: an in-memory map for
// tests and single-process serving, a SQLite file store for embedded
// deployments, and a PostgreSQL store for shared ones. All three keep exactly
// one record per bucket key and replace it atomically.
package store

import (
	"context"
	"sync"

	"carvalue/internal/pricing"
)

// Memory is a map-backed ModelStore. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	models map[pricing.BucketKey]pricing.FittedModel
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{models: make(map[pricing.BucketKey]pricing.FittedModel)}
}

// Replace inserts or overwrites the record for m's key.
func (s *Memory) Replace(_ context.Context, m pricing.FittedModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.Key] = m
	return nil
}

// Lookup returns the record for key, or pricing.ErrModelNotFound.
func (s *Memory) Lookup(_ context.Context, key pricing.BucketKey) (*pricing.FittedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.models[key]
	if !ok {
		return nil, pricing.ErrModelNotFound
	}
	return &m, nil
}

// List returns every stored record in unspecified order.
func (s *Memory) List(_ context.Context) ([]pricing.FittedModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]pricing.FittedModel, 0, len(s.models))
	for _, m := range s.models {
		out = append(out, m)
	}
	return out, nil
}

// Clear removes every stored record.
func (s *Memory) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = make(map[pricing.BucketKey]pricing.FittedModel)
	return nil
}
