// Package persona keeps the companion's expressed personality bounded and
// coherent within a session. Blending is a pure function over
// (previous state, new signal); no reply can whiplash the tone.
package persona

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// TraitVector maps a personality trait name to an intensity in [0,1].
type TraitVector map[string]float64

// traitPriority orders Sol's signature traits for dominance tie-breaks.
// Anything not listed sorts after these, alphabetically.
var traitPriority = map[string]int{
	"existential":   0,
	"thoughtful":    1,
	"companionship": 2,
	"engagement":    3,
}

// DefaultTraits is Sol's configured core voice, used when a user has no
// conversation history to cold-start from.
func DefaultTraits() TraitVector {
	return TraitVector{
		"existential":   0.9,
		"thoughtful":    0.95,
		"companionship": 0.9,
		"engagement":    0.7,
	}
}

// Blend folds a raw trait reading into the previous state with exponential
// smoothing: next = alpha*raw + (1-alpha)*prev, clamped to [0,1]. Traits
// present on only one side decay toward (or grow from) zero, so a trait the
// generator stops reporting fades rather than freezing.
func Blend(prev TraitVector, raw TraitVector, alpha float64) TraitVector {
	next := make(TraitVector, len(prev)+len(raw))
	for name, p := range prev {
		next[name] = clamp01((1 - alpha) * p)
	}
	for name, r := range raw {
		p := prev[name]
		next[name] = clamp01(alpha*r + (1-alpha)*p)
	}
	return next
}

// Dominant returns the trait with the highest intensity. Equal intensities
// resolve by trait priority (existential > thoughtful > companionship >
// engagement), an explicit choice favoring Sol's signature voice.
func Dominant(v TraitVector) string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if v[a] != v[b] {
			return v[a] > v[b]
		}
		pa, aok := traitPriority[a]
		pb, bok := traitPriority[b]
		switch {
		case aok && bok:
			return pa < pb
		case aok:
			return true
		case bok:
			return false
		}
		return a < b
	})
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// State is the live personality of one session.
type State struct {
	UserID    string      `json:"user_id"`
	SessionID string      `json:"session_id"`
	Traits    TraitVector `json:"traits"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// HistorySource supplies a user's recent companion-turn trait vectors so a
// returning user's session starts from their historical average instead of
// a flat default. The memory store implements it.
type HistorySource interface {
	TraitHistory(ctx context.Context, userID string, limit int) ([]TraitVector, error)
}

// Options tunes the tracker, built from config.PersonaConfig.
type Options struct {
	Alpha        float64
	HistoryTurns int
	SessionIdle  time.Duration
}

// Tracker owns the live per-session states. One live State exists per
// active session; history keeps its own snapshots on the turns themselves.
type Tracker struct {
	history HistorySource
	logger  *slog.Logger
	opts    Options

	mu       sync.Mutex
	sessions map[sessionKey]*State
}

type sessionKey struct {
	user    string
	session string
}

// NewTracker constructs a Tracker. history may be nil, in which case every
// session cold-starts from the default voice.
func NewTracker(history HistorySource, logger *slog.Logger, opts Options) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		history:  history,
		logger:   logger,
		opts:     opts,
		sessions: make(map[sessionKey]*State),
	}
}

// Current returns the live state for (user, session), creating it on first
// use. A new session seeds from the user's historical trait average when
// any exists; long-term users get a warmer cold start.
func (t *Tracker) Current(ctx context.Context, userID, sessionID string) *State {
	key := sessionKey{user: userID, session: sessionID}

	t.mu.Lock()
	if s, ok := t.sessions[key]; ok {
		// Reads count as activity, so a session that only ever asks for
		// its state is not evicted out from under it.
		s.UpdatedAt = time.Now().UTC()
		t.mu.Unlock()
		return s
	}
	t.mu.Unlock()

	seed := t.seedTraits(ctx, userID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[key]; ok {
		return s
	}
	t.evictIdleLocked()
	s := &State{
		UserID:    userID,
		SessionID: sessionID,
		Traits:    seed,
		UpdatedAt: time.Now().UTC(),
	}
	t.sessions[key] = s
	return s
}

// Observe blends a raw trait vector from a companion reply into the live
// session state and returns the updated state.
func (t *Tracker) Observe(ctx context.Context, userID, sessionID string, raw TraitVector) *State {
	seeded := t.Current(ctx, userID, sessionID)

	t.mu.Lock()
	defer t.mu.Unlock()
	key := sessionKey{user: userID, session: sessionID}
	s, ok := t.sessions[key]
	if !ok {
		// The idle sweep ran between the lookup and this lock; reinstate
		// the state we already hold rather than losing the observation.
		s = seeded
		t.sessions[key] = s
	}
	s.Traits = Blend(s.Traits, raw, t.opts.Alpha)
	s.UpdatedAt = time.Now().UTC()
	return s
}

// EndSession discards the live state. Persisted turns keep their own trait
// snapshots; nothing is deleted from history.
func (t *Tracker) EndSession(userID, sessionID string) {
	t.mu.Lock()
	delete(t.sessions, sessionKey{user: userID, session: sessionID})
	t.mu.Unlock()
}

func (t *Tracker) seedTraits(ctx context.Context, userID string) TraitVector {
	if t.history == nil {
		return DefaultTraits()
	}
	vectors, err := t.history.TraitHistory(ctx, userID, t.opts.HistoryTurns)
	if err != nil {
		t.logger.Warn("trait history unavailable, using default voice", "user", userID, "error", err)
		return DefaultTraits()
	}
	if len(vectors) == 0 {
		return DefaultTraits()
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, v := range vectors {
		for name, intensity := range v {
			sums[name] += intensity
			counts[name]++
		}
	}
	avg := make(TraitVector, len(sums))
	for name, sum := range sums {
		avg[name] = clamp01(sum / float64(counts[name]))
	}
	return avg
}

// evictIdleLocked drops sessions nobody has touched within the idle
// timeout. Caller holds t.mu.
func (t *Tracker) evictIdleLocked() {
	if t.opts.SessionIdle <= 0 {
		return
	}
	cutoff := time.Now().Add(-t.opts.SessionIdle)
	for key, s := range t.sessions {
		if s.UpdatedAt.Before(cutoff) {
			delete(t.sessions, key)
		}
	}
}
