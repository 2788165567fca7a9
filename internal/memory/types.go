// Package memory is the encrypted, append-only conversation store. Turns are
// sealed per user before they reach sqlite; the context window and semantic
// recall both read back through the keyring.
package memory

import (
	"time"

	"github.com/solos-app/sol-engine/internal/persona"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleCompanion Role = "companion"
)

// Turn is one message in a conversation. Content is plaintext on the way in
// and out; it only exists encrypted at rest.
type Turn struct {
	Seq       int64               `json:"-"`
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	SessionID string              `json:"session_id"`
	Role      Role                `json:"role"`
	Content   string              `json:"content"`
	Traits    persona.TraitVector `json:"traits,omitempty"`
	KeyID     string              `json:"-"`
	CreatedAt time.Time           `json:"created_at"`

	// Unavailable marks a turn whose ciphertext failed authentication.
	// The rest of the window is still served.
	Unavailable bool `json:"unavailable,omitempty"`
}

// RecallResult is a semantically similar past turn with its match score.
type RecallResult struct {
	Turn       Turn    `json:"turn"`
	Similarity float32 `json:"similarity"`
}
