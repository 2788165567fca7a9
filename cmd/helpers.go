package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/solos-app/sol-engine/internal/companion"
	"github.com/solos-app/sol-engine/internal/config"
	"github.com/solos-app/sol-engine/internal/correlate"
	"github.com/solos-app/sol-engine/internal/db"
	"github.com/solos-app/sol-engine/internal/dispatch"
	"github.com/solos-app/sol-engine/internal/embeddings"
	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/generate"
	"github.com/solos-app/sol-engine/internal/memory"
	"github.com/solos-app/sol-engine/internal/persona"
	"github.com/solos-app/sol-engine/internal/predict"
	"github.com/solos-app/sol-engine/internal/securebox"
)

// engineStack bundles the wired engine components shared by the serve and
// mcp commands.
type engineStack struct {
	database      *db.DB
	features      *feature.Store
	patterns      *correlate.Engine
	predictor     *predict.Predictor
	memories      *memory.Store
	recall        *memory.Recall
	tracker       *persona.Tracker
	companion     *companion.Engine
	proactive     *companion.Proactive
	notifications *dispatch.Store
}

// buildEngine wires the full component graph from config. deliveries are the
// notification sinks the dispatcher fans out to; the caller picks them
// (websocket hub + webhook for serve, log-only for mcp).
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, deliveries []dispatch.Delivery) (*engineStack, error) {
	if cfg.Security.MasterKey == "" {
		return nil, fmt.Errorf("SOLENGINE_MASTER_KEY must be set")
	}

	database, err := db.Open(filepath.Join(cfg.DataDir, "solengine.db"))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	patterns := correlate.NewEngine(database, logger, correlate.Options{
		MinSupport:      cfg.Pattern.MinSupport,
		MinTotalSamples: cfg.Pattern.MinTotalSamples,
	})

	features := feature.NewStore(database, logger, feature.Options{
		ScaleMin:       cfg.Pattern.ScaleMin,
		ScaleMax:       cfg.Pattern.ScaleMax,
		Retention:      time.Duration(cfg.Pattern.RetentionDays) * 24 * time.Hour,
		BatchThreshold: cfg.Pattern.BatchThreshold,
		ClockSkew:      time.Duration(cfg.Pattern.ClockSkewSeconds) * time.Second,
	}, patterns)

	// Replay durable samples into the rolling windows and accumulators.
	if err := features.Load(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("loading samples: %w", err)
	}

	leadTimes := make(map[feature.Signal]time.Duration, len(cfg.Predict.LeadTimeMinutes))
	for name, minutes := range cfg.Predict.LeadTimeMinutes {
		sig, err := feature.ParseSignal(name)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("predict.lead_time_minutes: %w", err)
		}
		leadTimes[sig] = time.Duration(minutes) * time.Minute
	}
	predictor := predict.New(patterns, logger, predict.Options{
		LeadTimes:         leadTimes,
		EvidenceWeight:    cfg.Predict.EvidenceWeight,
		StalenessHalfLife: time.Duration(cfg.Predict.StalenessHalfLifeMinutes * float64(time.Minute)),
		QueryTimeout:      time.Duration(cfg.Predict.QueryTimeoutMillis) * time.Millisecond,
	})

	keys := securebox.NewKeyring(database, cfg.Security.MasterKey, cfg.Security.PBKDF2Iterations)

	var recall *memory.Recall
	if cfg.Memory.RecallEnabled {
		embedder, err := embeddings.FromConfig(cfg.Reply)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		recall = memory.NewRecall(embedder)
	}

	memories := memory.NewStore(database, keys, recall, logger, memory.Options{
		WindowTurns: cfg.Memory.WindowTurns,
		CacheTTL:    time.Duration(cfg.Memory.CacheTTLSeconds) * time.Second,
	})

	// The recall index lives only in memory; repopulate it from the
	// encrypted store on startup.
	if recall != nil {
		if err := rebuildRecall(ctx, memories, recall, logger); err != nil {
			database.Close()
			return nil, err
		}
	}

	tracker := persona.NewTracker(memories, logger, persona.Options{
		Alpha:        cfg.Persona.Alpha,
		HistoryTurns: cfg.Persona.HistoryTurns,
		SessionIdle:  time.Duration(cfg.Persona.SessionIdleMinutes) * time.Minute,
	})

	generator, err := generate.FromConfig(cfg.Reply)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("creating generator: %w", err)
	}

	engine := companion.NewEngine(memories, recall, tracker, generator, features, logger, companion.Options{
		ReplyTimeout:  time.Duration(cfg.Reply.TimeoutSeconds) * time.Second,
		RecallResults: cfg.Memory.RecallResults,
	})

	notifications := dispatch.NewStore(database)
	dispatcher := dispatch.New(notifications, deliveries, logger, dispatch.Options{
		ConfidenceThreshold: cfg.Dispatch.ConfidenceThreshold,
		MinNegativeDelta:    cfg.Dispatch.MinNegativeDelta,
		Cooldown:            time.Duration(cfg.Dispatch.CooldownMinutes) * time.Minute,
	})
	proactive := companion.NewProactive(patterns, predictor, dispatcher, logger)

	return &engineStack{
		database:      database,
		features:      features,
		patterns:      patterns,
		predictor:     predictor,
		memories:      memories,
		recall:        recall,
		tracker:       tracker,
		companion:     engine,
		proactive:     proactive,
		notifications: notifications,
	}, nil
}

func rebuildRecall(ctx context.Context, memories *memory.Store, recall *memory.Recall, logger *slog.Logger) error {
	users, err := memories.Users(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	for _, userID := range users {
		turns, err := memories.History(ctx, userID, "", 500)
		if err != nil {
			return fmt.Errorf("loading history for %s: %w", userID, err)
		}
		if err := recall.Rebuild(ctx, userID, turns); err != nil {
			logger.Warn("recall rebuild failed", "user", userID, "error", err)
		}
	}
	return nil
}
