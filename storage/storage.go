// Package storage defines the persisted-session store used to resume
// authenticated sessions across process restarts.
//
// A store holds three kinds of records: per-user session tickets, the
// shared device fingerprint, and correlation tokens indexed by the hash
// of the public key they were issued with. All of it is small, mutable,
// caller-owned state; backends are expected to be single-writer across
// processes unless the caller coordinates externally.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist or has
// expired.
var ErrNotFound = errors.New("record not found")

// Ticket is a persisted session credential. A zero ExpiresAt means the
// provider issued a session-scoped ticket with no fixed lifetime.
type Ticket struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the ticket is past its expiry at the given time.
func (t Ticket) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// Store persists session state between authentication runs.
//
// Tickets must only be written after a fully validated login; expired
// tickets are reported as ErrNotFound.
type Store interface {
	// LoadTicket returns the persisted ticket for the user, or ErrNotFound.
	LoadTicket(ctx context.Context, userID string) (Ticket, error)
	// SaveTicket stores the ticket for the user.
	SaveTicket(ctx context.Context, userID string, ticket Ticket) error
	// DeleteTicket removes the user's ticket. Deleting an absent ticket is
	// not an error.
	DeleteTicket(ctx context.Context, userID string) error

	// LoadFingerprint returns the persisted device fingerprint, or
	// ErrNotFound.
	LoadFingerprint(ctx context.Context) (string, error)
	// SaveFingerprint stores the device fingerprint.
	SaveFingerprint(ctx context.Context, fingerprint string) error

	// LoadCorrelation returns the correlation token recorded for the given
	// public-key hash, or ErrNotFound.
	LoadCorrelation(ctx context.Context, keyHash string) (string, error)
	// SaveCorrelation records the correlation token for a public-key hash.
	SaveCorrelation(ctx context.Context, keyHash, token string) error
}
