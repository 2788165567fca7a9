// Package companion orchestrates a conversation exchange: memory in,
// generation with personality steering, memory out. It also hosts the
// proactive loop that turns logged samples into forecasts and nudges.
package companion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/generate"
	"github.com/solos-app/sol-engine/internal/memory"
	"github.com/solos-app/sol-engine/internal/metrics"
	"github.com/solos-app/sol-engine/internal/persona"
)

// Options tunes the exchange path.
type Options struct {
	// ReplyTimeout bounds one generation attempt. On expiry the fallback
	// reply goes out instead.
	ReplyTimeout  time.Duration
	RecallResults int
}

// Exchange is the outcome of one user message.
type Exchange struct {
	Reply    *generate.Reply `json:"reply"`
	Persona  *persona.State  `json:"persona"`
	Fallback bool            `json:"fallback"`
}

// Engine handles user messages end to end.
type Engine struct {
	memories  *memory.Store
	recall    *memory.Recall
	tracker   *persona.Tracker
	generator generate.Generator
	features  *feature.Store
	logger    *slog.Logger
	opts      Options
}

// NewEngine constructs the exchange engine. recall may be nil when
// semantic recall is disabled.
func NewEngine(memories *memory.Store, recall *memory.Recall, tracker *persona.Tracker, generator generate.Generator, features *feature.Store, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		memories:  memories,
		recall:    recall,
		tracker:   tracker,
		generator: generator,
		features:  features,
		logger:    logger,
		opts:      opts,
	}
}

// HandleMessage runs one exchange. The user turn is persisted before
// anything else; if that fails the message is rejected outright. A
// generation failure or timeout degrades to a canned fallback reply, which
// is persisted without traits and leaves the session persona untouched.
func (e *Engine) HandleMessage(ctx context.Context, userID, sessionID, message string) (*Exchange, error) {
	userTurn := &memory.Turn{
		UserID:    userID,
		SessionID: sessionID,
		Role:      memory.RoleUser,
		Content:   message,
	}
	if err := e.memories.Append(ctx, userTurn); err != nil {
		return nil, fmt.Errorf("persisting user turn: %w", err)
	}

	window, err := e.memories.ContextWindow(ctx, userID, sessionID)
	if err != nil {
		e.logger.Warn("context window unavailable", "user", userID, "error", err)
		window = nil
	}
	// The window includes the turn just appended; the prompt carries the
	// current message separately.
	if n := len(window); n > 0 && window[n-1].ID == userTurn.ID {
		window = window[:n-1]
	}

	var recalled []memory.RecallResult
	if e.recall != nil {
		recalled, err = e.recall.Query(ctx, userID, sessionID, message, e.opts.RecallResults)
		if err != nil {
			e.logger.Warn("recall query failed", "user", userID, "error", err)
			recalled = nil
		}
	}

	state := e.tracker.Current(ctx, userID, sessionID)
	now := time.Now()
	req := generate.Request{
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
		Window:    window,
		Recalled:  recalled,
		Persona:   state.Traits,
		Mood:      e.latestValue(userID, feature.SignalMood),
		Energy:    e.latestValue(userID, feature.SignalEnergy),
		TimeOfDay: feature.TimeOfDayBucket(now),
	}

	genCtx := ctx
	if e.opts.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, e.opts.ReplyTimeout)
		defer cancel()
	}

	start := time.Now()
	reply, genErr := e.generator.Reply(genCtx, req)
	if genErr != nil {
		e.logger.Warn("generation failed, serving fallback",
			"user", userID, "provider", e.generator.Name(), "error", genErr)
		return e.fallback(ctx, userID, sessionID, message, state, time.Since(start))
	}

	companionTurn := &memory.Turn{
		UserID:    userID,
		SessionID: sessionID,
		Role:      memory.RoleCompanion,
		Content:   reply.Text,
		Traits:    reply.Traits,
	}
	if err := e.memories.Append(ctx, companionTurn); err != nil {
		return nil, fmt.Errorf("persisting companion turn: %w", err)
	}

	state = e.tracker.Observe(ctx, userID, sessionID, reply.Traits)
	metrics.ObserveReply(reply.Elapsed, false)

	return &Exchange{Reply: reply, Persona: state, Fallback: false}, nil
}

// fallback serves a canned reply. The companion turn is stored without a
// trait vector so fallback text never skews the personality.
func (e *Engine) fallback(ctx context.Context, userID, sessionID, message string, state *persona.State, elapsed time.Duration) (*Exchange, error) {
	reply := &generate.Reply{
		Text:    generate.FallbackReply(message),
		Kind:    generate.KindFallback,
		Elapsed: elapsed,
	}
	turn := &memory.Turn{
		UserID:    userID,
		SessionID: sessionID,
		Role:      memory.RoleCompanion,
		Content:   reply.Text,
	}
	if err := e.memories.Append(ctx, turn); err != nil {
		return nil, fmt.Errorf("persisting fallback turn: %w", err)
	}
	metrics.ObserveReply(elapsed, true)
	return &Exchange{Reply: reply, Persona: state, Fallback: true}, nil
}

// EndSession closes the live persona session.
func (e *Engine) EndSession(userID, sessionID string) {
	e.tracker.EndSession(userID, sessionID)
}

// latestValue returns the most recent in-window reading of a signal on the
// 1-5 scale, or 0 when the user has none.
func (e *Engine) latestValue(userID string, signal feature.Signal) int {
	if e.features == nil {
		return 0
	}
	var latest float64
	for s := range e.features.Window(userID, signal, time.Time{}) {
		latest = s.Value
	}
	return int(latest)
}
