// Package bbolt provides a BBolt-backed storage.Store.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/campusgate/seuauth/storage"
)

var (
	bucketTickets      = []byte("tickets")
	bucketCorrelations = []byte("correlations")
	bucketMeta         = []byte("meta")
	keyFingerprint     = []byte("fingerprint")
)

// Store implements storage.Store backed by a BBolt database.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore returns a Store backed by the given BBolt database.
func NewStore(db *bbolt.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// NewStoreFromFile opens a BBolt database at the given path and returns a
// new Store.
func NewStoreFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewStore(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadTicket(_ context.Context, userID string) (storage.Ticket, error) {
	var ticket storage.Ticket
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTickets)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(userID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &ticket); err != nil {
			return fmt.Errorf("decoding ticket for %s: %w", userID, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return storage.Ticket{}, err
	}
	if !found {
		return storage.Ticket{}, storage.ErrNotFound
	}
	if ticket.Expired(s.now()) {
		if err := s.DeleteTicket(context.Background(), userID); err != nil {
			return storage.Ticket{}, err
		}
		return storage.Ticket{}, storage.ErrNotFound
	}
	return ticket, nil
}

func (s *Store) SaveTicket(_ context.Context, userID string, ticket storage.Ticket) error {
	data, err := json.Marshal(ticket)
	if err != nil {
		return fmt.Errorf("encoding ticket: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketTickets)
		if err != nil {
			return err
		}
		return b.Put([]byte(userID), data)
	})
}

func (s *Store) DeleteTicket(_ context.Context, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTickets)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(userID))
	})
}

func (s *Store) LoadFingerprint(_ context.Context) (string, error) {
	var fp string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if b == nil {
			return nil
		}
		fp = string(b.Get(keyFingerprint))
		return nil
	})
	if err != nil {
		return "", err
	}
	if fp == "" {
		return "", storage.ErrNotFound
	}
	return fp, nil
}

func (s *Store) SaveFingerprint(_ context.Context, fingerprint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		return b.Put(keyFingerprint, []byte(fingerprint))
	})
}

func (s *Store) LoadCorrelation(_ context.Context, keyHash string) (string, error) {
	var token string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketCorrelations)
		if b == nil {
			return nil
		}
		token = string(b.Get([]byte(keyHash)))
		return nil
	})
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", storage.ErrNotFound
	}
	return token, nil
}

func (s *Store) SaveCorrelation(_ context.Context, keyHash, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketCorrelations)
		if err != nil {
			return err
		}
		return b.Put([]byte(keyHash), []byte(token))
	})
}
