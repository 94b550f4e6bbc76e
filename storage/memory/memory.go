// Package memory provides a thread-safe in-memory implementation of
// storage.Store. Suitable for testing, demos, and single-process use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/campusgate/seuauth/storage"
)

// Store is a thread-safe in-memory implementation of storage.Store.
type Store struct {
	mu           sync.RWMutex
	tickets      map[string]storage.Ticket
	correlations map[string]string
	fingerprint  string

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a new empty in-memory Store.
func NewStore() *Store {
	return &Store{
		tickets:      make(map[string]storage.Ticket),
		correlations: make(map[string]string),
		now:          time.Now,
	}
}

func (s *Store) LoadTicket(_ context.Context, userID string) (storage.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[userID]
	if !ok {
		return storage.Ticket{}, storage.ErrNotFound
	}
	if ticket.Expired(s.now()) {
		delete(s.tickets, userID)
		return storage.Ticket{}, storage.ErrNotFound
	}
	return ticket, nil
}

func (s *Store) SaveTicket(_ context.Context, userID string, ticket storage.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[userID] = ticket
	return nil
}

func (s *Store) DeleteTicket(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, userID)
	return nil
}

func (s *Store) LoadFingerprint(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fingerprint == "" {
		return "", storage.ErrNotFound
	}
	return s.fingerprint, nil
}

func (s *Store) SaveFingerprint(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprint = fingerprint
	return nil
}

func (s *Store) LoadCorrelation(_ context.Context, keyHash string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.correlations[keyHash]
	if !ok {
		return "", storage.ErrNotFound
	}
	return token, nil
}

func (s *Store) SaveCorrelation(_ context.Context, keyHash, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlations[keyHash] = token
	return nil
}
