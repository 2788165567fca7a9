package securebox

import (
	"context"
	"errors"
	"testing"

	"github.com/solos-app/sol-engine/internal/db"
)

// Low iteration count keeps key derivation fast in tests.
const testIterations = 1000

func setupKeyring(t *testing.T) *Keyring {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewKeyring(database, "test-master-key", testIterations)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	c, err := NewUserCipher("master", "u1", salt, 1, testIterations)
	if err != nil {
		t.Fatalf("NewUserCipher: %v", err)
	}

	plain := []byte("some days are just heavier than others")
	ct, err := c.Encrypt(plain)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if string(ct) == string(plain) {
		t.Fatal("ciphertext equals plaintext")
	}

	got, err := c.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(got) != string(plain) {
		t.Errorf("round trip mismatch: got %q", got)
	}
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	salt, _ := NewSalt()
	c1, err := NewUserCipher("master", "u1", salt, 1, testIterations)
	if err != nil {
		t.Fatalf("NewUserCipher: %v", err)
	}
	c2, err := NewUserCipher("master", "u2", salt, 1, testIterations)
	if err != nil {
		t.Fatalf("NewUserCipher: %v", err)
	}

	ct, err := c1.Encrypt([]byte("private"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	if _, err := c2.Decrypt(ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestDecryptTruncatedCiphertext(t *testing.T) {
	salt, _ := NewSalt()
	c, err := NewUserCipher("master", "u1", salt, 1, testIterations)
	if err != nil {
		t.Fatalf("NewUserCipher: %v", err)
	}
	if _, err := c.Decrypt([]byte{0x01, 0x02}); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestKeyringCreatesAndReusesSalt(t *testing.T) {
	kr := setupKeyring(t)
	ctx := context.Background()

	c1, err := kr.CipherFor(ctx, "u1")
	if err != nil {
		t.Fatalf("CipherFor: %v", err)
	}
	if c1.KeyID() != "user:u1:v1" {
		t.Errorf("expected key id user:u1:v1, got %s", c1.KeyID())
	}

	// Same user gets the same cipher; content encrypted earlier stays readable.
	ct, err := c1.Encrypt([]byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	c2, err := kr.CipherFor(ctx, "u1")
	if err != nil {
		t.Fatalf("CipherFor again: %v", err)
	}
	if _, err := c2.Decrypt(ct); err != nil {
		t.Errorf("second cipher could not decrypt: %v", err)
	}
}

func TestKeyringRotate(t *testing.T) {
	kr := setupKeyring(t)
	ctx := context.Background()

	old, err := kr.CipherFor(ctx, "u1")
	if err != nil {
		t.Fatalf("CipherFor: %v", err)
	}
	ct, _ := old.Encrypt([]byte("pre-rotation"))

	rotated, err := kr.Rotate(ctx, "u1")
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.KeyID() != "user:u1:v2" {
		t.Errorf("expected key id user:u1:v2, got %s", rotated.KeyID())
	}

	// New cipher must not read old ciphertext, old version still can.
	if _, err := rotated.Decrypt(ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("rotated cipher decrypted old ciphertext: %v", err)
	}
	v1, err := kr.CipherForVersion(ctx, "u1", 1)
	if err != nil {
		t.Fatalf("CipherForVersion: %v", err)
	}
	if _, err := v1.Decrypt(ct); err != nil {
		t.Errorf("v1 cipher failed on v1 ciphertext: %v", err)
	}
}
