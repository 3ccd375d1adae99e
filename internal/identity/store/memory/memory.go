// Package memory provides an in-memory subject store for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"veritas/internal/domain"
	"veritas/pkg/platform/sentinel"
)

type Store struct {
	mu       sync.RWMutex
	subjects map[string]domain.Subject
	byKey    map[string]string
}

func New() *Store {
	return &Store{
		subjects: make(map[string]domain.Subject),
		byKey:    make(map[string]string),
	}
}

func (s *Store) Save(_ context.Context, subject domain.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subjects[subject.Username]; exists {
		return fmt.Errorf("subject %q: %w", subject.Username, sentinel.ErrConflict)
	}
	if _, exists := s.byKey[subject.PrivateKey]; exists {
		return fmt.Errorf("private key already enrolled: %w", sentinel.ErrConflict)
	}
	s.subjects[subject.Username] = subject
	s.byKey[subject.PrivateKey] = subject.Username
	return nil
}

func (s *Store) Update(_ context.Context, subject domain.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subjects[subject.Username]
	if !ok {
		return fmt.Errorf("subject %q: %w", subject.Username, sentinel.ErrNotFound)
	}
	if existing.PrivateKey != subject.PrivateKey {
		if _, taken := s.byKey[subject.PrivateKey]; taken {
			return fmt.Errorf("private key already enrolled: %w", sentinel.ErrConflict)
		}
		delete(s.byKey, existing.PrivateKey)
		s.byKey[subject.PrivateKey] = subject.Username
	}
	s.subjects[subject.Username] = subject
	return nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject, ok := s.subjects[username]; ok {
		return subject, nil
	}
	return domain.Subject{}, fmt.Errorf("subject %q: %w", username, sentinel.ErrNotFound)
}

func (s *Store) FindByPrivateKey(_ context.Context, privateKey string) (domain.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if username, ok := s.byKey[privateKey]; ok {
		return s.subjects[username], nil
	}
	return domain.Subject{}, fmt.Errorf("subject by key: %w", sentinel.ErrNotFound)
}
