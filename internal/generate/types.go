// Package generate produces companion replies in Sol's voice. Providers sit
// behind the Generator interface; the companion engine falls back to canned
// replies when a provider fails or times out.
package generate

import (
	"context"
	"errors"
	"time"

	"github.com/solos-app/sol-engine/internal/memory"
	"github.com/solos-app/sol-engine/internal/persona"
)

// ErrUnavailable indicates the reply provider could not produce a reply.
// Callers switch to the fallback path; the conversation never dies on it.
var ErrUnavailable = errors.New("generate: reply provider unavailable")

// Kind classifies a conversation exchange for analytics.
type Kind string

const (
	KindSupport       Kind = "support"
	KindPhilosophical Kind = "philosophical"
	KindProductivity  Kind = "productivity"
	KindEmotional     Kind = "emotional"
	KindGeneral       Kind = "general"
	KindFallback      Kind = "fallback"
)

// Request carries everything a provider needs to reply in context.
type Request struct {
	UserID    string
	SessionID string
	Message   string

	// Window is the session's recent turns, chronological.
	Window []memory.Turn
	// Recalled holds semantically similar turns from older sessions.
	Recalled []memory.RecallResult
	// Persona is the live session personality, used to steer tone.
	Persona persona.TraitVector

	// Latest signal readings on the 1-5 scale; zero means unknown.
	Mood      int
	Energy    int
	TimeOfDay string
}

// Reply is a generated companion response with its analysis.
type Reply struct {
	Text    string              `json:"text"`
	Kind    Kind                `json:"kind"`
	Traits  persona.TraitVector `json:"traits"`
	Elapsed time.Duration       `json:"-"`
}

// Generator produces replies. Implementations must honor ctx cancellation.
type Generator interface {
	Reply(ctx context.Context, req Request) (*Reply, error)
	Name() string
}
