package securebox

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/solos-app/sol-engine/internal/db"
)

// Keyring hands out per-user ciphers, creating salts on first use and
// tracking key versions for rotation. Ciphers are cached; deriving a PBKDF2
// key on every append would dominate the request path.
type Keyring struct {
	db         *db.DB
	masterKey  string
	iterations int

	mu      sync.Mutex
	ciphers map[string]Cipher // user id -> current cipher
}

// NewKeyring creates a Keyring backed by the given database.
func NewKeyring(database *db.DB, masterKey string, iterations int) *Keyring {
	return &Keyring{
		db:         database,
		masterKey:  masterKey,
		iterations: iterations,
		ciphers:    make(map[string]Cipher),
	}
}

// CipherFor returns the current cipher for a user, creating a salt and key
// version 1 if the user has none.
func (k *Keyring) CipherFor(ctx context.Context, userID string) (Cipher, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if c, ok := k.ciphers[userID]; ok {
		return c, nil
	}

	version, salt, err := k.currentKey(ctx, userID)
	if err == sql.ErrNoRows {
		version = 1
		salt, err = NewSalt()
		if err != nil {
			return nil, err
		}
		if _, err := k.db.ExecContext(ctx,
			`INSERT INTO user_keys (user_id, key_version, salt) VALUES (?, ?, ?)`,
			userID, version, salt,
		); err != nil {
			return nil, fmt.Errorf("storing user salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("loading user key: %w", err)
	}

	c, err := NewUserCipher(k.masterKey, userID, salt, version, k.iterations)
	if err != nil {
		return nil, err
	}
	k.ciphers[userID] = c
	return c, nil
}

// Rotate creates a fresh salt and key version for the user and returns the
// new cipher. Existing records stay readable through CipherForVersion until
// they are re-encrypted.
func (k *Keyring) Rotate(ctx context.Context, userID string) (Cipher, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	version, _, err := k.currentKey(ctx, userID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("loading user key: %w", err)
	}

	salt, err := NewSalt()
	if err != nil {
		return nil, err
	}
	version++
	if _, err := k.db.ExecContext(ctx,
		`INSERT INTO user_keys (user_id, key_version, salt) VALUES (?, ?, ?)`,
		userID, version, salt,
	); err != nil {
		return nil, fmt.Errorf("storing rotated salt: %w", err)
	}

	c, err := NewUserCipher(k.masterKey, userID, salt, version, k.iterations)
	if err != nil {
		return nil, err
	}
	k.ciphers[userID] = c
	return c, nil
}

// CipherForVersion returns the cipher for a specific key version, used when
// re-encrypting records written under an older key.
func (k *Keyring) CipherForVersion(ctx context.Context, userID string, version int) (Cipher, error) {
	var salt []byte
	err := k.db.QueryRowContext(ctx,
		`SELECT salt FROM user_keys WHERE user_id = ? AND key_version = ?`,
		userID, version,
	).Scan(&salt)
	if err != nil {
		return nil, fmt.Errorf("loading key version %d: %w", version, err)
	}
	return NewUserCipher(k.masterKey, userID, salt, version, k.iterations)
}

func (k *Keyring) currentKey(ctx context.Context, userID string) (int, []byte, error) {
	var (
		version int
		salt    []byte
	)
	err := k.db.QueryRowContext(ctx,
		`SELECT key_version, salt FROM user_keys WHERE user_id = ? ORDER BY key_version DESC LIMIT 1`,
		userID,
	).Scan(&version, &salt)
	return version, salt, err
}
