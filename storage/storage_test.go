package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTicketExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.False(t, Ticket{Value: "tgt"}.Expired(now), "zero expiry never expires")
	assert.False(t, Ticket{Value: "tgt", ExpiresAt: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Ticket{Value: "tgt", ExpiresAt: now}.Expired(now))
	assert.True(t, Ticket{Value: "tgt", ExpiresAt: now.Add(-time.Minute)}.Expired(now))
}
