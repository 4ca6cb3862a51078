package chatcrypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)
	return s
}

func TestSealOpen(t *testing.T) {
	s := newSealer(t)

	sealed, err := s.Seal("meet at the north gate", "conv-1")
	require.NoError(t, err)
	assert.True(t, IsSealed(sealed))
	assert.NotContains(t, sealed, "north gate")

	again, err := s.Seal("meet at the north gate", "conv-1")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces are random")

	plain, err := s.Open(sealed, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "meet at the north gate", plain)

	t.Run("other conversation", func(t *testing.T) {
		_, err := s.Open(sealed, "conv-2")
		assert.Error(t, err)
	})

	t.Run("other key", func(t *testing.T) {
		_, err := newSealer(t).Open(sealed, "conv-1")
		assert.Error(t, err)
	})

	t.Run("tampered", func(t *testing.T) {
		b := []byte(sealed)
		i := len(b) - 5
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		_, err := s.Open(string(b), "conv-1")
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := s.Open(sealedPrefix+"AAAA", "conv-1")
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestOpenPassesPlaintextThrough(t *testing.T) {
	s := newSealer(t)

	plain, err := s.Open("written before sealing", "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "written before sealing", plain)

	empty, err := s.Seal("", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNewSealerRejectsBadKeys(t *testing.T) {
	for _, key := range []string{"", "not base64!", "c2hvcnQ="} {
		_, err := NewSealer(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}
