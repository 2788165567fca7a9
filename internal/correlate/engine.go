// Package correlate computes per-user statistical associations between
// context tags and signal deviations from the user's own rolling baseline.
// Every user is compared only to their own history: absolute mood or energy
// numbers are subjective, deviations are not.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solos-app/sol-engine/internal/db"
	"github.com/solos-app/sol-engine/internal/feature"
)

// ErrInsufficientData distinguishes "not enough history to correlate" from
// a genuine zero-strength result. Callers must not treat it as an error in
// the failure sense; it is an explicit empty outcome.
var ErrInsufficientData = errors.New("insufficient data")

// Correlation is the association between one context tag and a signal's
// deviation from the user's baseline. Strength is a signed coefficient in
// [-1,1]. Ineligible correlations (below minimum support) are retained for
// audit but never used for inference.
type Correlation struct {
	UserID      string         `json:"user_id"`
	Signal      feature.Signal `json:"signal"`
	ContextTag  string         `json:"context_tag"`
	Strength    float64        `json:"strength"`
	SampleCount int            `json:"sample_count"`
	Eligible    bool           `json:"eligible"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Snapshot is an immutable committed view of a (user, signal) correlation
// state. Predictor queries read the last committed snapshot and never block
// on an in-progress recompute.
type Snapshot struct {
	UserID       string
	Signal       feature.Signal
	BaselineMean float64
	BaselineStd  float64
	TotalSamples int
	Correlations []Correlation // sorted by strength desc, ties by sample count desc
	CommittedAt  time.Time
}

// Eligible returns the correlations usable for inference.
func (s *Snapshot) Eligible() []Correlation {
	out := make([]Correlation, 0, len(s.Correlations))
	for _, c := range s.Correlations {
		if c.Eligible {
			out = append(out, c)
		}
	}
	return out
}

// Options tunes the engine, built from config.PatternConfig.
type Options struct {
	MinSupport      int
	MinTotalSamples int
}

// Engine maintains incremental per-(user, signal) accumulators fed by the
// feature store and commits correlation snapshots on recompute.
type Engine struct {
	db     *db.DB
	logger *slog.Logger
	opts   Options

	mu    sync.RWMutex
	cells map[cellKey]*cell
}

type cellKey struct {
	user   string
	signal feature.Signal
}

type cell struct {
	mu       sync.Mutex
	baseline welford
	tags     map[string]*welford

	snapshot    atomic.Pointer[Snapshot]
	recomputing atomic.Bool
}

// NewEngine constructs a correlation engine.
func NewEngine(database *db.DB, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:     database,
		logger: logger,
		opts:   opts,
		cells:  make(map[cellKey]*cell),
	}
}

// SampleAdded implements feature.Observer.
func (e *Engine) SampleAdded(s feature.Sample) {
	c := e.cell(s.UserID, s.Signal)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseline.add(s.Value)
	for _, tag := range s.Tags {
		w := c.tags[tag]
		if w == nil {
			w = &welford{}
			c.tags[tag] = w
		}
		w.add(s.Value)
	}
}

// SampleEvicted implements feature.Observer.
func (e *Engine) SampleEvicted(s feature.Sample) {
	c := e.cell(s.UserID, s.Signal)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseline.remove(s.Value)
	for _, tag := range s.Tags {
		if w := c.tags[tag]; w != nil {
			w.remove(s.Value)
			if w.n == 0 {
				delete(c.tags, tag)
			}
		}
	}
}

// Recompute builds and commits a fresh snapshot for (user, signal). It is
// single-flight per cell: if a recompute is already running, concurrent
// triggers are coalesced into a no-op, since the in-flight pass already
// covers the new data once it commits.
func (e *Engine) Recompute(ctx context.Context, userID string, signal feature.Signal) error {
	c := e.cell(userID, signal)
	if !c.recomputing.CompareAndSwap(false, true) {
		return nil
	}
	defer c.recomputing.Store(false)

	snap := e.buildSnapshot(c, userID, signal)
	c.snapshot.Store(snap)

	if err := e.persist(ctx, snap); err != nil {
		// The committed snapshot is still authoritative; the audit table
		// catches up on the next recompute.
		e.logger.Warn("persisting correlations failed", "user", userID, "signal", signal, "error", err)
	}

	e.logger.Debug("correlations recomputed",
		"user", userID, "signal", signal,
		"tags", len(snap.Correlations), "samples", snap.TotalSamples)
	return nil
}

// Correlations returns the eligible correlations from the last committed
// snapshot, or ErrInsufficientData when the user has too little history for
// this signal. The empty-but-valid and insufficient cases are distinct.
func (e *Engine) Correlations(userID string, signal feature.Signal) ([]Correlation, error) {
	snap, err := e.Snapshot(userID, signal)
	if err != nil {
		return nil, err
	}
	return snap.Eligible(), nil
}

// Snapshot returns the last committed snapshot for (user, signal), or
// ErrInsufficientData when none exists or it has too few samples.
func (e *Engine) Snapshot(userID string, signal feature.Signal) (*Snapshot, error) {
	c := e.cell(userID, signal)
	snap := c.snapshot.Load()
	if snap == nil || snap.TotalSamples < e.opts.MinTotalSamples {
		return nil, fmt.Errorf("%w: user %s signal %s", ErrInsufficientData, userID, signal)
	}
	return snap, nil
}

// Audit returns every correlation in the last committed snapshot, including
// those below minimum support, for transparency endpoints.
func (e *Engine) Audit(userID string, signal feature.Signal) []Correlation {
	snap := e.cell(userID, signal).snapshot.Load()
	if snap == nil {
		return nil
	}
	return snap.Correlations
}

func (e *Engine) buildSnapshot(c *cell, userID string, signal feature.Signal) *Snapshot {
	c.mu.Lock()
	baseMean := c.baseline.mean
	baseStd := c.baseline.std()
	total := c.baseline.n

	type tagStat struct {
		tag  string
		mean float64
		std  float64
		n    int
	}
	stats := make([]tagStat, 0, len(c.tags))
	for tag, w := range c.tags {
		stats = append(stats, tagStat{tag: tag, mean: w.mean, std: w.std(), n: w.n})
	}
	c.mu.Unlock()

	now := time.Now().UTC()
	snap := &Snapshot{
		UserID:       userID,
		Signal:       signal,
		BaselineMean: baseMean,
		BaselineStd:  baseStd,
		TotalSamples: total,
		CommittedAt:  now,
	}

	for _, st := range stats {
		snap.Correlations = append(snap.Correlations, Correlation{
			UserID:      userID,
			Signal:      signal,
			ContextTag:  st.tag,
			Strength:    strength(st.mean-baseMean, st.std, baseStd),
			SampleCount: st.n,
			Eligible:    st.n >= e.opts.MinSupport,
			LastUpdated: now,
		})
	}

	// Strongest first; equal strengths break toward the better-evidenced tag.
	sort.Slice(snap.Correlations, func(i, j int) bool {
		a, b := snap.Correlations[i], snap.Correlations[j]
		if a.Strength != b.Strength {
			return a.Strength > b.Strength
		}
		if a.SampleCount != b.SampleCount {
			return a.SampleCount > b.SampleCount
		}
		return a.ContextTag < b.ContextTag
	})
	return snap
}

// strength normalizes a deviation from the baseline into [-1,1] using the
// tag's own spread, falling back to the baseline spread when the tagged
// samples have none. Adding a constant to every value of a user changes
// neither the deviation nor either spread, so strengths are shift-invariant.
func strength(dev, tagStd, baseStd float64) float64 {
	if dev == 0 {
		return 0
	}
	denom := tagStd
	if denom == 0 {
		denom = baseStd
	}
	if denom == 0 {
		// Constant history deviating anyway: saturate.
		if dev < 0 {
			return -1
		}
		return 1
	}
	s := dev / denom
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

func (e *Engine) persist(ctx context.Context, snap *Snapshot) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM correlations WHERE user_id = ? AND signal = ?`,
		snap.UserID, string(snap.Signal),
	); err != nil {
		return fmt.Errorf("clearing correlations: %w", err)
	}
	for _, c := range snap.Correlations {
		eligible := 0
		if c.Eligible {
			eligible = 1
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO correlations (user_id, signal, context_tag, strength, sample_count, eligible, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.UserID, string(c.Signal), c.ContextTag, c.Strength, c.SampleCount, eligible, c.LastUpdated,
		); err != nil {
			return fmt.Errorf("inserting correlation: %w", err)
		}
	}
	return tx.Commit()
}

func (e *Engine) cell(userID string, signal feature.Signal) *cell {
	key := cellKey{user: userID, signal: signal}
	e.mu.RLock()
	c := e.cells[key]
	e.mu.RUnlock()
	if c != nil {
		return c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c = e.cells[key]; c == nil {
		c = &cell{tags: make(map[string]*welford)}
		e.cells[key] = c
	}
	return c
}
