// Package redis provides a Redis-backed storage.Store for callers that
// share persisted sessions across processes. Expiry is delegated to Redis
// key TTLs; concurrent refreshers still need external coordination, Redis
// only makes the reads consistent.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/campusgate/seuauth/storage"
)

// correlation tokens outlive their key server-side by an unknown margin;
// keep them around for a day and let lookups miss harmlessly after that.
const correlationTTL = 24 * time.Hour

// Store implements storage.Store backed by Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

// NewStore creates a Store on the given Redis client. The prefix
// namespaces all keys; empty means "seuauth".
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "seuauth"
	}
	return &Store{rdb: rdb, prefix: prefix, now: time.Now}
}

func (s *Store) key(kind, id string) string {
	return s.prefix + ":" + kind + ":" + id
}

func (s *Store) LoadTicket(ctx context.Context, userID string) (storage.Ticket, error) {
	value, err := s.rdb.Get(ctx, s.key("tgt", userID)).Result()
	if errors.Is(err, redis.Nil) {
		return storage.Ticket{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Ticket{}, fmt.Errorf("loading ticket: %w", err)
	}
	ttl, err := s.rdb.TTL(ctx, s.key("tgt", userID)).Result()
	if err != nil {
		return storage.Ticket{}, fmt.Errorf("loading ticket ttl: %w", err)
	}
	ticket := storage.Ticket{Value: value}
	if ttl > 0 {
		ticket.ExpiresAt = s.now().Add(ttl)
	}
	return ticket, nil
}

func (s *Store) SaveTicket(ctx context.Context, userID string, ticket storage.Ticket) error {
	var ttl time.Duration
	if !ticket.ExpiresAt.IsZero() {
		ttl = time.Until(ticket.ExpiresAt)
		if ttl <= 0 {
			return nil // already expired, nothing to persist
		}
	}
	if err := s.rdb.Set(ctx, s.key("tgt", userID), ticket.Value, ttl).Err(); err != nil {
		return fmt.Errorf("saving ticket: %w", err)
	}
	return nil
}

func (s *Store) DeleteTicket(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, s.key("tgt", userID)).Err(); err != nil {
		return fmt.Errorf("deleting ticket: %w", err)
	}
	return nil
}

func (s *Store) LoadFingerprint(ctx context.Context) (string, error) {
	fp, err := s.rdb.Get(ctx, s.key("meta", "fingerprint")).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading fingerprint: %w", err)
	}
	return fp, nil
}

func (s *Store) SaveFingerprint(ctx context.Context, fingerprint string) error {
	if err := s.rdb.Set(ctx, s.key("meta", "fingerprint"), fingerprint, 0).Err(); err != nil {
		return fmt.Errorf("saving fingerprint: %w", err)
	}
	return nil
}

func (s *Store) LoadCorrelation(ctx context.Context, keyHash string) (string, error) {
	token, err := s.rdb.Get(ctx, s.key("chiper", keyHash)).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading correlation token: %w", err)
	}
	return token, nil
}

func (s *Store) SaveCorrelation(ctx context.Context, keyHash, token string) error {
	if err := s.rdb.Set(ctx, s.key("chiper", keyHash), token, correlationTTL).Err(); err != nil {
		return fmt.Errorf("saving correlation token: %w", err)
	}
	return nil
}
