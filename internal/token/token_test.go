package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	tok, err := Generate()
	require.NoError(t, err)
	assert.Len(t, tok, Length)
	assert.True(t, Valid(tok))
}

func TestGenerateDistinct(t *testing.T) {
	const n = 10000
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		tok, err := Generate()
		require.NoError(t, err)
		seen[tok] = struct{}{}
	}
	assert.Len(t, seen, n)
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("short"))
	assert.False(t, Valid("zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"))
	assert.True(t, Valid("0123456789abcdef0123456789abcdef"))
}
