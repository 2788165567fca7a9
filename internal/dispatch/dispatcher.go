package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/metrics"
	"github.com/solos-app/sol-engine/internal/predict"
)

// Options tunes dispatch gating, built from config.DispatchConfig.
type Options struct {
	// ConfidenceThreshold is the minimum forecast confidence to dispatch.
	ConfidenceThreshold float64
	// MinNegativeDelta is the smallest predicted drop worth a nudge,
	// expressed as a positive magnitude.
	MinNegativeDelta float64
	// Cooldown is the minimum quiet period after a dispatch. The effective
	// cooldown is the larger of this and the forecast's lead time.
	Cooldown time.Duration
}

type cellState int

const (
	stateIdle cellState = iota
	stateArmed
	stateDispatched
	stateCooldown
)

type cell struct {
	mu            sync.Mutex
	state         cellState
	cooldownUntil time.Time
}

// Dispatcher gates forecasts into at-most-once notifications. Each
// (user, signal) pair carries its own state; cooldown expiry is evaluated
// lazily on the next offer, there is no background timer.
type Dispatcher struct {
	store      *Store
	deliveries []Delivery
	logger     *slog.Logger
	opts       Options

	mu    sync.Mutex
	cells map[cellKey]*cell
}

type cellKey struct {
	user   string
	signal feature.Signal
}

// New constructs a Dispatcher delivering through the given channels.
func New(store *Store, deliveries []Delivery, logger *slog.Logger, opts Options) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:      store,
		deliveries: deliveries,
		logger:     logger,
		opts:       opts,
		cells:      make(map[cellKey]*cell),
	}
}

// Offer evaluates a forecast for dispatch. It returns true when a
// notification went out. Forecasts below the confidence or delta gate, or
// arriving during a cooldown, are silently suppressed. Each armed event
// dispatches at most once: per-channel delivery failures are logged, never
// retried, and the cooldown starts regardless of delivery outcome.
func (d *Dispatcher) Offer(ctx context.Context, f *predict.Forecast) (bool, error) {
	if f == nil {
		return false, nil
	}
	if f.Confidence < d.opts.ConfidenceThreshold {
		return false, nil
	}
	if f.PredictedDelta > -d.opts.MinNegativeDelta {
		return false, nil
	}

	c := d.cell(cellKey{user: f.UserID, signal: f.Signal})
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if c.state == stateCooldown {
		if now.Before(c.cooldownUntil) {
			return false, nil
		}
		c.state = stateIdle
	}
	if c.state != stateIdle {
		return false, nil
	}
	c.state = stateArmed

	lead := time.Duration(f.LeadTimeMinutes) * time.Minute
	cooldown := d.opts.Cooldown
	if lead > cooldown {
		cooldown = lead
	}
	n := Notification{
		ID:            uuid.NewString(),
		UserID:        f.UserID,
		Signal:        f.Signal,
		Message:       message(f.Signal, f.LeadTimeMinutes),
		CooldownUntil: now.Add(cooldown),
		DispatchedAt:  now,
	}

	delivered := 0
	for _, delivery := range d.deliveries {
		if err := delivery.Deliver(ctx, n); err != nil {
			d.logger.Warn("delivery failed",
				"channel", delivery.Name(), "user", n.UserID, "signal", n.Signal, "error", err)
			continue
		}
		delivered++
	}
	c.state = stateDispatched

	if d.store != nil {
		if err := d.store.Create(ctx, n); err != nil {
			d.logger.Warn("persisting notification failed", "user", n.UserID, "error", err)
		}
	}
	metrics.NotificationDispatched()
	d.logger.Info("notification dispatched",
		"user", n.UserID, "signal", n.Signal, "confidence", f.Confidence,
		"delta", f.PredictedDelta, "channels", delivered)

	c.state = stateCooldown
	c.cooldownUntil = n.CooldownUntil
	return true, nil
}

func (d *Dispatcher) cell(key cellKey) *cell {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.cells[key]
	if !ok {
		c = &cell{}
		d.cells[key] = c
	}
	return c
}
