package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solos-app/sol-engine/internal/db"
	"github.com/solos-app/sol-engine/internal/persona"
	"github.com/solos-app/sol-engine/internal/securebox"
)

// Options tunes the store, built from config.MemoryConfig.
type Options struct {
	WindowTurns int
	CacheTTL    time.Duration
}

// Store persists conversation turns encrypted per user. Appends are durable
// before they are acknowledged; reads decrypt on the way out.
type Store struct {
	database *db.DB
	keys     *securebox.Keyring
	recall   *Recall
	logger   *slog.Logger
	opts     Options

	mu    sync.Mutex
	cache map[windowKey]windowEntry
}

type windowKey struct {
	user    string
	session string
}

type windowEntry struct {
	turns   []Turn
	expires time.Time
}

// NewStore constructs a Store. recall may be nil when semantic recall is
// disabled.
func NewStore(database *db.DB, keys *securebox.Keyring, recall *Recall, logger *slog.Logger, opts Options) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WindowTurns <= 0 {
		opts.WindowTurns = 10
	}
	return &Store{
		database: database,
		keys:     keys,
		recall:   recall,
		logger:   logger,
		opts:     opts,
		cache:    make(map[windowKey]windowEntry),
	}
}

// Append encrypts and persists a turn. The turn's ID and CreatedAt are
// assigned when empty. On success the turn is indexed for recall; a recall
// indexing failure is logged and never fails the append.
func (s *Store) Append(ctx context.Context, t *Turn) error {
	if t.UserID == "" || t.SessionID == "" {
		return fmt.Errorf("turn missing user or session id")
	}
	if t.Role != RoleUser && t.Role != RoleCompanion {
		return fmt.Errorf("invalid role %q", t.Role)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	cipher, err := s.keys.CipherFor(ctx, t.UserID)
	if err != nil {
		return fmt.Errorf("obtaining cipher: %w", err)
	}
	sealed, err := cipher.Encrypt([]byte(t.Content))
	if err != nil {
		return fmt.Errorf("encrypting turn: %w", err)
	}
	t.KeyID = cipher.KeyID()

	var traits sql.NullString
	if t.Traits != nil {
		raw, err := json.Marshal(t.Traits)
		if err != nil {
			return fmt.Errorf("encoding traits: %w", err)
		}
		traits = sql.NullString{String: string(raw), Valid: true}
	}

	res, err := s.database.ExecContext(ctx,
		`INSERT INTO turns (id, user_id, session_id, role, content, trait_vector, key_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.SessionID, string(t.Role), sealed, traits, t.KeyID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	if seq, err := res.LastInsertId(); err == nil {
		t.Seq = seq
	}

	s.mu.Lock()
	delete(s.cache, windowKey{user: t.UserID, session: t.SessionID})
	s.mu.Unlock()

	if s.recall != nil {
		if err := s.recall.Index(ctx, *t); err != nil {
			s.logger.Warn("recall indexing failed", "turn", t.ID, "error", err)
		}
	}
	return nil
}

// ContextWindow returns the last WindowTurns turns of a session in
// chronological order. Results are cached briefly; Append invalidates the
// cache so a window never misses the turn just written.
func (s *Store) ContextWindow(ctx context.Context, userID, sessionID string) ([]Turn, error) {
	key := windowKey{user: userID, session: sessionID}

	s.mu.Lock()
	if entry, ok := s.cache[key]; ok && time.Now().Before(entry.expires) {
		turns := make([]Turn, len(entry.turns))
		copy(turns, entry.turns)
		s.mu.Unlock()
		return turns, nil
	}
	s.mu.Unlock()

	turns, err := s.queryTurns(ctx,
		`SELECT seq, id, user_id, session_id, role, content, trait_vector, key_id, created_at
		 FROM turns WHERE user_id = ? AND session_id = ?
		 ORDER BY seq DESC LIMIT ?`,
		userID, sessionID, s.opts.WindowTurns)
	if err != nil {
		return nil, err
	}
	reverse(turns)

	if s.opts.CacheTTL > 0 {
		cached := make([]Turn, len(turns))
		copy(cached, turns)
		s.mu.Lock()
		s.cache[key] = windowEntry{turns: cached, expires: time.Now().Add(s.opts.CacheTTL)}
		s.mu.Unlock()
	}
	return turns, nil
}

// History returns up to limit most recent turns for a user across all
// sessions, newest first. sessionID narrows to one session when non-empty.
func (s *Store) History(ctx context.Context, userID, sessionID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT seq, id, user_id, session_id, role, content, trait_vector, key_id, created_at
	          FROM turns WHERE user_id = ?`
	args := []any{userID}
	if sessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)
	return s.queryTurns(ctx, query, args...)
}

// Users returns the IDs of all users with stored turns.
func (s *Store) Users(ctx context.Context) ([]string, error) {
	rows, err := s.database.QueryContext(ctx, `SELECT DISTINCT user_id FROM turns ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// TraitHistory returns the trait vectors of the user's most recent
// companion turns, for persona cold starts. Implements persona.HistorySource.
func (s *Store) TraitHistory(ctx context.Context, userID string, limit int) ([]persona.TraitVector, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.database.QueryContext(ctx,
		`SELECT trait_vector FROM turns
		 WHERE user_id = ? AND role = 'companion' AND trait_vector IS NOT NULL
		 ORDER BY seq DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying trait history: %w", err)
	}
	defer rows.Close()

	var vectors []persona.TraitVector
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning trait vector: %w", err)
		}
		var v persona.TraitVector
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			s.logger.Warn("skipping malformed trait vector", "user", userID, "error", err)
			continue
		}
		vectors = append(vectors, v)
	}
	return vectors, rows.Err()
}

// RotateKey derives a new key version for the user and re-encrypts every
// readable turn under it. Turns whose old ciphertext fails authentication
// are left on their old key and counted separately. Returns the number of
// turns re-encrypted.
func (s *Store) RotateKey(ctx context.Context, userID string) (int, error) {
	fresh, err := s.keys.Rotate(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("rotating key: %w", err)
	}

	turns, err := s.queryTurns(ctx,
		`SELECT seq, id, user_id, session_id, role, content, trait_vector, key_id, created_at
		 FROM turns WHERE user_id = ? ORDER BY seq`,
		userID)
	if err != nil {
		return 0, err
	}

	tx, err := s.database.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning rotation tx: %w", err)
	}
	defer tx.Rollback()

	var rotated, skipped int
	for _, t := range turns {
		if t.Unavailable {
			skipped++
			continue
		}
		sealed, err := fresh.Encrypt([]byte(t.Content))
		if err != nil {
			return 0, fmt.Errorf("re-encrypting turn %s: %w", t.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE turns SET content = ?, key_id = ? WHERE id = ?`,
			sealed, fresh.KeyID(), t.ID); err != nil {
			return 0, fmt.Errorf("updating turn %s: %w", t.ID, err)
		}
		rotated++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing rotation: %w", err)
	}
	if skipped > 0 {
		s.logger.Warn("rotation skipped unreadable turns", "user", userID, "skipped", skipped)
	}

	s.mu.Lock()
	for key := range s.cache {
		if key.user == userID {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()

	return rotated, nil
}

func (s *Store) queryTurns(ctx context.Context, query string, args ...any) ([]Turn, error) {
	rows, err := s.database.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t      Turn
			role   string
			sealed []byte
			traits sql.NullString
		)
		if err := rows.Scan(&t.Seq, &t.ID, &t.UserID, &t.SessionID, &role, &sealed, &traits, &t.KeyID, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = Role(role)
		if traits.Valid {
			if err := json.Unmarshal([]byte(traits.String), &t.Traits); err != nil {
				s.logger.Warn("skipping malformed trait vector", "turn", t.ID, "error", err)
				t.Traits = nil
			}
		}
		s.open(ctx, &t, sealed)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// open decrypts one turn in place. A record that fails authentication is
// marked Unavailable rather than failing the whole read.
func (s *Store) open(ctx context.Context, t *Turn, sealed []byte) {
	version, err := keyVersion(t.KeyID)
	if err != nil {
		s.logger.Warn("turn has malformed key id", "turn", t.ID, "key_id", t.KeyID)
		t.Unavailable = true
		return
	}
	cipher, err := s.keys.CipherForVersion(ctx, t.UserID, version)
	if err != nil {
		s.logger.Warn("no cipher for turn", "turn", t.ID, "version", version, "error", err)
		t.Unavailable = true
		return
	}
	plain, err := cipher.Decrypt(sealed)
	if err != nil {
		if errors.Is(err, securebox.ErrDecryptionFailed) {
			s.logger.Warn("turn failed decryption", "turn", t.ID)
		}
		t.Unavailable = true
		return
	}
	t.Content = string(plain)
}

// keyVersion extracts the version from a key id like "user:u1:v2".
func keyVersion(keyID string) (int, error) {
	idx := strings.LastIndex(keyID, ":v")
	if idx < 0 {
		return 0, fmt.Errorf("malformed key id %q", keyID)
	}
	return strconv.Atoi(keyID[idx+2:])
}

func reverse(turns []Turn) {
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
}
