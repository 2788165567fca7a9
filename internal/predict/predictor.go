// Package predict turns committed correlation snapshots into short-horizon
// forecasts for a user's current context.
package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/solos-app/sol-engine/internal/correlate"
	"github.com/solos-app/sol-engine/internal/feature"
)

// ErrNoForecast is the distinguished "nothing to say" outcome: no eligible
// correlations, insufficient history, or a timed-out query. Callers must
// treat it differently from a low-confidence forecast.
var ErrNoForecast = errors.New("no forecast")

// Forecast is an ephemeral prediction for one signal. It is never persisted
// beyond the dedup cache.
type Forecast struct {
	UserID           string         `json:"user_id"`
	Signal           feature.Signal `json:"signal"`
	PredictedDelta   float64        `json:"predicted_delta"`
	Confidence       float64        `json:"confidence"`
	LeadTimeMinutes  int            `json:"lead_time_minutes"`
	ProducedAt       time.Time      `json:"produced_at"`
	ContributingTags []string       `json:"contributing_tags"`
}

// Options tunes the predictor, built from config.PredictConfig. The weight
// constants are configuration on purpose: their values are a product-tuning
// decision, not an algorithmic one.
type Options struct {
	LeadTimes         map[feature.Signal]time.Duration
	EvidenceWeight    float64
	StalenessHalfLife time.Duration
	QueryTimeout      time.Duration
}

// Predictor reads the last committed correlation snapshot; it never blocks
// on an in-progress recompute.
type Predictor struct {
	engine *correlate.Engine
	logger *slog.Logger
	opts   Options

	mu    sync.Mutex
	cache map[cacheKey]*Forecast
}

type cacheKey struct {
	user   string
	signal feature.Signal
}

// New constructs a Predictor over the given correlation engine.
func New(engine *correlate.Engine, logger *slog.Logger, opts Options) *Predictor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Predictor{
		engine: engine,
		logger: logger,
		opts:   opts,
		cache:  make(map[cacheKey]*Forecast),
	}
}

// Forecast produces a prediction for one signal given the current context
// tags, or ErrNoForecast. A forecast already produced within the signal's
// lead window is returned from cache so one predicted dip cannot fan out
// into duplicate notifications.
func (p *Predictor) Forecast(ctx context.Context, userID string, signal feature.Signal, nowTags []string) (*Forecast, error) {
	if p.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.QueryTimeout)
		defer cancel()
	}

	lead := p.opts.LeadTimes[signal]
	now := time.Now().UTC()

	key := cacheKey{user: userID, signal: signal}
	p.mu.Lock()
	if cached, ok := p.cache[key]; ok && now.Before(cached.ProducedAt.Add(lead)) {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: query cancelled: %v", ErrNoForecast, err)
	}

	snap, err := p.engine.Snapshot(userID, signal)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoForecast, err)
	}

	tagSet := make(map[string]struct{}, len(nowTags))
	for _, tag := range nowTags {
		tagSet[tag] = struct{}{}
	}

	var (
		weightedSum float64
		weightTotal float64
		evidence    float64
		tags        []string
	)
	for _, c := range snap.Eligible() {
		if _, ok := tagSet[c.ContextTag]; !ok {
			continue
		}
		w := math.Log1p(float64(c.SampleCount))
		weightedSum += c.Strength * w
		weightTotal += w
		evidence += math.Abs(c.Strength) * w
		tags = append(tags, c.ContextTag)
	}
	if weightTotal == 0 {
		return nil, fmt.Errorf("%w: no eligible correlations match current context", ErrNoForecast)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: query cancelled: %v", ErrNoForecast, err)
	}

	// Delta is expressed in the user's own signal units via the baseline
	// spread. Confidence grows with evidence and decays with snapshot age:
	// a stale recompute lowers confidence, it never hard-fails the query.
	delta := weightedSum / weightTotal * snap.BaselineStd
	confidence := 1 - math.Exp(-p.opts.EvidenceWeight*evidence)
	if age := now.Sub(snap.CommittedAt); age > 0 && p.opts.StalenessHalfLife > 0 {
		confidence *= math.Exp(-math.Ln2 * age.Seconds() / p.opts.StalenessHalfLife.Seconds())
	}

	f := &Forecast{
		UserID:           userID,
		Signal:           signal,
		PredictedDelta:   delta,
		Confidence:       confidence,
		LeadTimeMinutes:  int(lead.Minutes()),
		ProducedAt:       now,
		ContributingTags: tags,
	}

	p.mu.Lock()
	p.cache[key] = f
	p.mu.Unlock()

	return f, nil
}

// ForecastAll queries every signal and returns the forecasts that exist.
// Signals without one are simply absent.
func (p *Predictor) ForecastAll(ctx context.Context, userID string, nowTags []string) []*Forecast {
	var out []*Forecast
	for _, signal := range feature.AllSignals {
		f, err := p.Forecast(ctx, userID, signal, nowTags)
		if err != nil {
			if !errors.Is(err, ErrNoForecast) {
				p.logger.Warn("forecast failed", "user", userID, "signal", signal, "error", err)
			}
			continue
		}
		out = append(out, f)
	}
	return out
}

// Invalidate drops the cached forecast for (user, signal). Used by tests
// and by recomputes that should be allowed to change an in-window forecast.
func (p *Predictor) Invalidate(userID string, signal feature.Signal) {
	p.mu.Lock()
	delete(p.cache, cacheKey{user: userID, signal: signal})
	p.mu.Unlock()
}
