package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/solos-app/sol-engine/internal/config"
	"github.com/solos-app/sol-engine/internal/correlate"
	"github.com/solos-app/sol-engine/internal/db"
	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/progress"
)

// sampleRecord is one JSONL line of historical sample data.
type sampleRecord struct {
	UserID            string   `json:"user_id"`
	Signal            string   `json:"signal"`
	Value             float64  `json:"value"`
	Timestamp         string   `json:"timestamp"`
	TaskCategory      string   `json:"task_category"`
	MinutesSinceFocus *int     `json:"minutes_since_focus"`
	Tags              []string `json:"tags"`
}

var importCmd = &cobra.Command{
	Use:   "import <samples.jsonl>",
	Short: "Backfill historical samples from a JSONL file",
	Long: `Reads one sample per line from a JSONL export (mood, energy, focus events)
into the pattern store, then recomputes correlations for every affected
user and signal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger := newLogger()
		ctx := cmd.Context()

		records, err := readRecords(args[0])
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "Nothing to import.")
			return nil
		}

		database, err := db.Open(filepath.Join(cfg.DataDir, "solengine.db"))
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer database.Close()

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
		if err := features.Load(ctx); err != nil {
			return fmt.Errorf("loading samples: %w", err)
		}

		reporter := progress.NewReporter("Importing samples")
		reporter.Start(len(records))

		type cell struct {
			userID string
			signal feature.Signal
		}
		touched := make(map[cell]struct{})
		var accepted, rejected int

		for i, rec := range records {
			sample, err := toSample(rec)
			if err == nil {
				_, err = features.Ingest(ctx, sample)
			}
			if err != nil {
				rejected++
				logger.Debug("sample rejected", "line", i+1, "error", err)
			} else {
				accepted++
				touched[cell{sample.UserID, sample.Signal}] = struct{}{}
			}
			reporter.Update(i+1, "")
		}
		reporter.Finish()

		for c := range touched {
			if err := patterns.Recompute(ctx, c.userID, c.signal); err != nil &&
				!errors.Is(err, correlate.ErrInsufficientData) {
				logger.Warn("recompute failed", "user", c.userID, "signal", c.signal, "error", err)
			}
		}

		fmt.Fprintf(os.Stderr, "Imported %d samples (%d rejected), recomputed %d pattern cells\n",
			accepted, rejected, len(touched))
		return nil
	},
}

func readRecords(path string) ([]sampleRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []sampleRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec sampleRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return records, nil
}

func toSample(rec sampleRecord) (feature.Sample, error) {
	signal, err := feature.ParseSignal(rec.Signal)
	if err != nil {
		return feature.Sample{}, err
	}
	ts, err := time.Parse(time.RFC3339, rec.Timestamp)
	if err != nil {
		return feature.Sample{}, fmt.Errorf("timestamp: %w", err)
	}
	tags := rec.Tags
	if len(tags) == 0 {
		sinceFocus := -1
		if rec.MinutesSinceFocus != nil {
			sinceFocus = *rec.MinutesSinceFocus
		}
		tags = feature.ContextTags(ts, rec.TaskCategory, sinceFocus)
	}
	return feature.Sample{
		UserID:    rec.UserID,
		Signal:    signal,
		Value:     rec.Value,
		Timestamp: ts,
		Tags:      tags,
	}, nil
}

func init() {
	rootCmd.AddCommand(importCmd)
}
