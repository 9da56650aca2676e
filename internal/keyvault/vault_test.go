package keyvault

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passport-gateway/pkg/platform/sentinel"
)

func newKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestVaultRoundTrip(t *testing.T) {
	vault, err := New(newKey(t))
	require.NoError(t, err)

	seed := make([]byte, 32)
	_, err = rand.Read(seed)
	require.NoError(t, err)

	enc, err := vault.Encrypt(seed)
	require.NoError(t, err)
	assert.Len(t, enc.Nonce, 12)
	assert.NotEqual(t, seed, enc.Ciphertext)

	got, err := vault.Decrypt(enc)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(seed, got))
}

func TestVaultWrongMasterKey(t *testing.T) {
	vault, err := New(newKey(t))
	require.NoError(t, err)
	other, err := New(newKey(t))
	require.NoError(t, err)

	enc, err := vault.Encrypt([]byte("seed material"))
	require.NoError(t, err)

	_, err = other.Decrypt(enc)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrKeyMismatch), "wrong key must surface as key mismatch, got %v", err)
}

func TestVaultCorruptedCiphertext(t *testing.T) {
	vault, err := New(newKey(t))
	require.NoError(t, err)

	enc, err := vault.Encrypt([]byte("seed material"))
	require.NoError(t, err)
	enc.Ciphertext[0] ^= 0xff

	_, err = vault.Decrypt(enc)
	assert.True(t, errors.Is(err, sentinel.ErrKeyMismatch))
}

func TestVaultRejectsShortMasterKey(t *testing.T) {
	_, err := New([]byte("too short"))
	assert.Error(t, err)
}

func TestVaultNoncesAreUnique(t *testing.T) {
	vault, err := New(newKey(t))
	require.NoError(t, err)

	a, err := vault.Encrypt([]byte("seed"))
	require.NoError(t, err)
	b, err := vault.Encrypt([]byte("seed"))
	require.NoError(t, err)

	assert.False(t, bytes.Equal(a.Nonce, b.Nonce))
	assert.False(t, bytes.Equal(a.Ciphertext, b.Ciphertext))
}
