// Package inmemory is a non persistent cache backend, used with `type: memory` and in tests.
package inmemory

import (
	"context"
	"sync"

	"github.com/tigerroll/statickg/pkg/etl/core/domain/cache"
	"github.com/tigerroll/statickg/pkg/etl/core/domain/model"
)

// Backend implements cache.Backend in memory.
type Backend struct {
	mu     sync.Mutex
	tables map[string]map[string]model.ProcessStatus
}

var _ cache.Backend = (*Backend)(nil)

// NewBackend creates an empty Backend.
func NewBackend() *Backend {
	return &Backend{tables: make(map[string]map[string]model.ProcessStatus)}
}

// Namespace implements cache.Backend.
func (b *Backend) Namespace(name string) cache.Store {
	return &Store{backend: b, namespace: name}
}

// Close implements cache.Backend.
func (b *Backend) Close() error { return nil }

// Store implements cache.Store.
type Store struct {
	backend   *Backend
	namespace string
}

func (s *Store) table() map[string]model.ProcessStatus {
	t, ok := s.backend.tables[s.namespace]
	if !ok {
		t = make(map[string]model.ProcessStatus)
		s.backend.tables[s.namespace] = t
	}
	return t
}

func (s *Store) Lookup(_ context.Context, unitID string) (model.ProcessStatus, bool, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	status, ok := s.table()[unitID]
	return status, ok, nil
}

func (s *Store) Commit(_ context.Context, unitID, key string, succeeded bool) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	s.table()[unitID] = model.ProcessStatus{Key: key, Succeeded: succeeded}
	return nil
}

func (s *Store) Delete(_ context.Context, unitID string) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.table(), unitID)
	return nil
}

func (s *Store) Clear(_ context.Context) error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	delete(s.backend.tables, s.namespace)
	return nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	return len(s.table()), nil
}

func (s *Store) All(_ context.Context) (map[string]model.ProcessStatus, error) {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()
	out := make(map[string]model.ProcessStatus, len(s.table()))
	for k, v := range s.table() {
		out[k] = v
	}
	return out, nil
}
