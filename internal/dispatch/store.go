package dispatch

import (
	"context"
	"fmt"

	"github.com/solos-app/sol-engine/internal/db"
	"github.com/solos-app/sol-engine/internal/feature"
)

// Store persists dispatched notifications. Only dispatched ones are ever
// stored; suppressed offers leave no record.
type Store struct {
	database *db.DB
}

// NewStore creates a Store over the given database.
func NewStore(database *db.DB) *Store {
	return &Store{database: database}
}

// Create inserts a dispatched notification.
func (s *Store) Create(ctx context.Context, n Notification) error {
	_, err := s.database.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, signal, message, cooldown_until, dispatched_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, string(n.Signal), n.Message, n.CooldownUntil, n.DispatchedAt)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListRecent returns the user's most recent notifications, newest first.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.database.QueryContext(ctx,
		`SELECT id, user_id, signal, message, cooldown_until, dispatched_at
		 FROM notifications WHERE user_id = ?
		 ORDER BY dispatched_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var (
			n      Notification
			signal string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &signal, &n.Message, &n.CooldownUntil, &n.DispatchedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		n.Signal = feature.Signal(signal)
		out = append(out, n)
	}
	return out, rows.Err()
}
