package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretCipherSealsAndOpens(t *testing.T) {
	key, err := GenerateSecureKey(64)
	require.NoError(t, err)

	c, err := NewSecretCipher(key)
	require.NoError(t, err)
	require.True(t, c.Enabled())

	sealed, err := c.Seal("whsec_abc123")
	require.NoError(t, err)
	assert.NotEqual(t, "whsec_abc123", sealed)

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "whsec_abc123", opened)
}

func TestSecretCipherWithoutKeyPassesThrough(t *testing.T) {
	c, err := NewSecretCipher("")
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	sealed, err := c.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)
}

func TestSecretCipherRejectsBadKeys(t *testing.T) {
	_, err := NewSecretCipher("short")
	assert.ErrorIs(t, err, ErrInvalidKeyLength)
}

func TestSecretCipherRejectsTamperedCiphertext(t *testing.T) {
	c, err := NewSecretCipher("0123456789abcdef0123456789abcdef")
	require.NoError(t, err)

	_, err = c.Open("AAAA")
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestGenerateULIDIsSortable(t *testing.T) {
	a := GenerateULID()
	b := GenerateULID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
