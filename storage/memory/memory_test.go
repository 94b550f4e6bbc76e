package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/seuauth/storage"
)

func TestTicketRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.LoadTicket(ctx, "123456789")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	want := storage.Ticket{Value: "tgt-abc", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.SaveTicket(ctx, "123456789", want))

	got, err := s.LoadTicket(ctx, "123456789")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, s.DeleteTicket(ctx, "123456789"))
	_, err = s.LoadTicket(ctx, "123456789")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Deleting again is not an error.
	assert.NoError(t, s.DeleteTicket(ctx, "123456789"))
}

func TestTicketExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.SaveTicket(ctx, "u", storage.Ticket{Value: "tgt", ExpiresAt: now.Add(time.Minute)}))

	_, err := s.LoadTicket(ctx, "u")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.LoadTicket(ctx, "u")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFingerprintAndCorrelation(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	_, err := s.LoadFingerprint(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.SaveFingerprint(ctx, "deadbeef"))
	fp, err := s.LoadFingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", fp)

	_, err = s.LoadCorrelation(ctx, "hash-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.SaveCorrelation(ctx, "hash-1", "uid-1"))
	token, err := s.LoadCorrelation(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", token)
}
