package companion

import (
	"context"
	"errors"
	"log/slog"

	"github.com/solos-app/sol-engine/internal/correlate"
	"github.com/solos-app/sol-engine/internal/dispatch"
	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/metrics"
	"github.com/solos-app/sol-engine/internal/predict"
)

// Proactive drives the log-to-nudge loop: a sample comes in, correlations
// recompute when the batch threshold was crossed, a forecast is attempted
// for the sample's context, and a qualifying one is offered for dispatch.
type Proactive struct {
	engine     *correlate.Engine
	predictor  *predict.Predictor
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewProactive wires the proactive loop.
func NewProactive(engine *correlate.Engine, predictor *predict.Predictor, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *Proactive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Proactive{
		engine:     engine,
		predictor:  predictor,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// SampleLogged runs after a sample was accepted. crossed reports whether
// the ingest crossed the recompute batch threshold. Everything here is
// best effort; the sample is already durable.
func (p *Proactive) SampleLogged(ctx context.Context, sample feature.Sample, crossed bool) {
	if crossed {
		if err := p.engine.Recompute(ctx, sample.UserID, sample.Signal); err != nil {
			p.logger.Warn("recompute failed", "user", sample.UserID, "signal", sample.Signal, "error", err)
		} else {
			metrics.RecomputeRan()
		}
	}

	forecast, err := p.predictor.Forecast(ctx, sample.UserID, sample.Signal, sample.Tags)
	if err != nil {
		if !errors.Is(err, predict.ErrNoForecast) {
			p.logger.Warn("forecast failed", "user", sample.UserID, "signal", sample.Signal, "error", err)
		}
		metrics.ForecastServed(false)
		return
	}
	metrics.ForecastServed(true)

	if _, err := p.dispatcher.Offer(ctx, forecast); err != nil {
		p.logger.Warn("notification delivery failed", "user", sample.UserID, "signal", sample.Signal, "error", err)
	}
}
