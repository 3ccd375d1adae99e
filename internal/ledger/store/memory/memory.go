// Package memory provides an in-memory chain store. It keeps the gateway
// runnable without PostgreSQL and backs the ledger unit tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"veritas/internal/domain"
	"veritas/pkg/platform/sentinel"
)

type Store struct {
	mu     sync.RWMutex
	blocks []domain.Block
}

func New() *Store {
	return &Store{}
}

func (s *Store) Append(_ context.Context, block domain.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := int64(len(s.blocks)); block.Index != want {
		return fmt.Errorf("append block %d at height %d: %w", block.Index, want, sentinel.ErrConflict)
	}
	s.blocks = append(s.blocks, block)
	return nil
}

func (s *Store) Tail(_ context.Context) (domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.blocks) == 0 {
		return domain.Block{}, sentinel.ErrNotFound
	}
	return s.blocks[len(s.blocks)-1], nil
}

func (s *Store) All(_ context.Context) ([]domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Block{}, s.blocks...), nil
}

func (s *Store) Recent(_ context.Context, limit int) ([]domain.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.blocks) {
		limit = len(s.blocks)
	}
	out := make([]domain.Block, 0, limit)
	for i := len(s.blocks) - 1; i >= len(s.blocks)-limit; i-- {
		out = append(out, s.blocks[i])
	}
	return out, nil
}

// Tamper overwrites a stored block in place. Test helper for integrity
// checks, never called by production code.
func (s *Store) Tamper(index int64, mutate func(*domain.Block)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < int64(len(s.blocks)) {
		mutate(&s.blocks[index])
	}
}
