package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/seuauth/storage"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, ""), mr
}

func TestTicketRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.LoadTicket(ctx, "123456789")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	want := storage.Ticket{Value: "tgt-abc", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, s.SaveTicket(ctx, "123456789", want))

	got, err := s.LoadTicket(ctx, "123456789")
	require.NoError(t, err)
	assert.Equal(t, want.Value, got.Value)
	assert.WithinDuration(t, want.ExpiresAt, got.ExpiresAt, 5*time.Second)

	require.NoError(t, s.DeleteTicket(ctx, "123456789"))
	_, err = s.LoadTicket(ctx, "123456789")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTicketExpiresWithTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.SaveTicket(ctx, "u", storage.Ticket{Value: "tgt", ExpiresAt: time.Now().Add(time.Minute)}))

	mr.FastForward(2 * time.Minute)
	_, err := s.LoadTicket(ctx, "u")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionScopedTicketHasNoTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	require.NoError(t, s.SaveTicket(ctx, "u", storage.Ticket{Value: "tgt"}))
	mr.FastForward(48 * time.Hour)

	got, err := s.LoadTicket(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "tgt", got.Value)
	assert.True(t, got.ExpiresAt.IsZero())
}

func TestFingerprintAndCorrelation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, err := s.LoadFingerprint(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, s.SaveFingerprint(ctx, "deadbeef"))
	fp, err := s.LoadFingerprint(ctx)
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", fp)

	require.NoError(t, s.SaveCorrelation(ctx, "hash-1", "uid-1"))
	token, err := s.LoadCorrelation(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", token)
}
