// Package file provides a storage.Store persisted as a single JSON
// document on disk. It is the default backend for the CLI.
//
// The whole document is rewritten on every save; the store is meant for
// one process at a time.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/campusgate/seuauth/storage"
)

type document struct {
	Tickets      map[string]storage.Ticket `json:"tickets,omitempty"`
	Correlations map[string]string         `json:"correlations,omitempty"`
	Fingerprint  string                    `json:"fingerprint,omitempty"`
}

// Store is a JSON-file-backed implementation of storage.Store.
type Store struct {
	mu   sync.Mutex
	path string
	doc  document

	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore opens (or creates on first save) the JSON document at path.
// A missing file yields an empty store; a corrupt file is an error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run.
	case err != nil:
		return nil, fmt.Errorf("reading session store: %w", err)
	default:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("parsing session store %s: %w", path, err)
		}
	}
	if s.doc.Tickets == nil {
		s.doc.Tickets = make(map[string]storage.Ticket)
	}
	if s.doc.Correlations == nil {
		s.doc.Correlations = make(map[string]string)
	}
	return s, nil
}

// flush must be called with mu held.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session store: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating session store directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing session store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing session store: %w", err)
	}
	return nil
}

func (s *Store) LoadTicket(_ context.Context, userID string) (storage.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.doc.Tickets[userID]
	if !ok {
		return storage.Ticket{}, storage.ErrNotFound
	}
	if ticket.Expired(s.now()) {
		delete(s.doc.Tickets, userID)
		if err := s.flush(); err != nil {
			return storage.Ticket{}, err
		}
		return storage.Ticket{}, storage.ErrNotFound
	}
	return ticket, nil
}

func (s *Store) SaveTicket(_ context.Context, userID string, ticket storage.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Tickets[userID] = ticket
	return s.flush()
}

func (s *Store) DeleteTicket(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.doc.Tickets[userID]; !ok {
		return nil
	}
	delete(s.doc.Tickets, userID)
	return s.flush()
}

func (s *Store) LoadFingerprint(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc.Fingerprint == "" {
		return "", storage.ErrNotFound
	}
	return s.doc.Fingerprint, nil
}

func (s *Store) SaveFingerprint(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Fingerprint = fingerprint
	return s.flush()
}

func (s *Store) LoadCorrelation(_ context.Context, keyHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.doc.Correlations[keyHash]
	if !ok {
		return "", storage.ErrNotFound
	}
	return token, nil
}

func (s *Store) SaveCorrelation(_ context.Context, keyHash, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Correlations[keyHash] = token
	return s.flush()
}
