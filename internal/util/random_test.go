package util

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomHex(t *testing.T) {
	a, err := RandomHex(16)
	require.NoError(t, err)
	assert.Len(t, a, 32)

	raw, err := hex.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 16)

	b, err := RandomHex(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
