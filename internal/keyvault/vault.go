// Package keyvault provides at-rest custody of issuer signing seeds.
//
// Seeds are sealed with ChaCha20-Poly1305 under an operator-supplied master
// key. The master key is handed over once at construction and never persisted;
// losing it permanently strands every sealed seed. That is a documented
// operational property, not a bug.
package keyvault

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"passport-gateway/pkg/platform/sentinel"
)

// EncryptedKey is ciphertext plus the nonce it was sealed with. The Poly1305
// auth tag is part of the ciphertext.
type EncryptedKey struct {
	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
}

// Vault seals and opens signing seeds under a single master key.
type Vault struct {
	masterKey []byte
}

// New validates the master key length up front so misconfigured deployments
// fail at startup instead of on first use.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Vault{masterKey: key}, nil
}

// Encrypt seals a plaintext seed with a fresh random nonce.
func (v *Vault) Encrypt(plaintext []byte) (EncryptedKey, error) {
	aead, err := chacha20poly1305.New(v.masterKey)
	if err != nil {
		return EncryptedKey{}, fmt.Errorf("create cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedKey{}, fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return EncryptedKey{Ciphertext: ciphertext, Nonce: nonce}, nil
}

// Decrypt opens a sealed seed. Authentication failure (wrong master key or
// corrupted ciphertext) yields sentinel.ErrKeyMismatch so operators can tell a
// misconfigured master key apart from I/O errors.
func (v *Vault) Decrypt(enc EncryptedKey) ([]byte, error) {
	aead, err := chacha20poly1305.New(v.masterKey)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	if len(enc.Nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", aead.NonceSize(), len(enc.Nonce))
	}

	plaintext, err := aead.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", sentinel.ErrKeyMismatch, err)
	}
	return plaintext, nil
}
