// Package securebox provides the encrypt/decrypt capability consumed by the
// conversation memory store. Content is encrypted with AES-256-GCM under a
// per-user key derived from a master key and a per-user random salt, so a
// leaked database never yields plaintext without the master key.
package securebox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// ErrDecryptionFailed indicates ciphertext that could not be authenticated
// or decrypted. Callers isolate the failure to the affected record.
var ErrDecryptionFailed = errors.New("securebox: decryption failed")

const (
	keyLen   = 32
	saltLen  = 32
	nonceLen = 12
)

// Cipher encrypts and decrypts byte content. Key management stays behind
// this interface; the memory store never sees key material.
type Cipher interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(ct []byte) ([]byte, error)
	// KeyID identifies the key used, e.g. "user:u1:v2". Stored alongside
	// ciphertext so rotation can tell old records from new.
	KeyID() string
}

// aeadCipher is an AES-GCM Cipher with a fixed derived key.
type aeadCipher struct {
	aead  cipher.AEAD
	keyID string
}

// NewUserCipher derives a per-user cipher from the master key, the user id
// and the user's salt. Iterations follow the original deployment (PBKDF2
// with SHA-256).
func NewUserCipher(masterKey, userID string, salt []byte, keyVersion, iterations int) (Cipher, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("master key is empty")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("user salt is empty")
	}

	key := pbkdf2.Key([]byte(masterKey+":"+userID), salt, iterations, keyLen, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &aeadCipher{
		aead:  aead,
		keyID: fmt.Sprintf("user:%s:v%d", userID, keyVersion),
	}, nil
}

// NewSalt returns a fresh random salt for a new user or key version.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

func (c *aeadCipher) Encrypt(plain []byte) ([]byte, error) {
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	// Nonce is prepended to the sealed payload.
	return c.aead.Seal(nonce, nonce, plain, nil), nil
}

func (c *aeadCipher) Decrypt(ct []byte) ([]byte, error) {
	if len(ct) < nonceLen {
		return nil, ErrDecryptionFailed
	}
	plain, err := c.aead.Open(nil, ct[:nonceLen], ct[nonceLen:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plain, nil
}

func (c *aeadCipher) KeyID() string { return c.keyID }
