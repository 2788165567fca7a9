package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solos-app/sol-engine/internal/db"
)

// Observer is notified as samples enter and leave a user's feature window.
// The correlation engine implements it to keep its accumulators incremental.
type Observer interface {
	SampleAdded(s Sample)
	SampleEvicted(s Sample)
}

// Options tunes the store. Zero values are not usable; callers build this
// from config.PatternConfig.
type Options struct {
	ScaleMin       float64
	ScaleMax       float64
	Retention      time.Duration
	BatchThreshold int
	ClockSkew      time.Duration
}

// Store normalizes raw logged events into per-user, per-signal rolling
// windows and persists every accepted sample for durability and audit.
// Locking is per (user, signal): writers for different users, or different
// signals of one user, never contend.
type Store struct {
	db       *db.DB
	logger   *slog.Logger
	opts     Options
	observer Observer

	mu    sync.RWMutex
	users map[string]*userWindows
}

type userWindows struct {
	mu      sync.Mutex
	windows map[Signal]*window
}

type window struct {
	mu             sync.Mutex
	samples        []Sample // kept in timestamp order
	sinceRecompute int
}

// NewStore creates a feature store. observer may be nil.
func NewStore(database *db.DB, logger *slog.Logger, opts Options, observer Observer) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:       database,
		logger:   logger,
		opts:     opts,
		observer: observer,
		users:    make(map[string]*userWindows),
	}
}

// Ingest validates and stores one sample. It returns true when this sample
// crossed the batch-recompute threshold for its (user, signal) window.
// Validation failures wrap ErrInvalidSample and store nothing.
func (s *Store) Ingest(ctx context.Context, sample Sample) (bool, error) {
	if err := s.validate(sample); err != nil {
		return false, err
	}
	if sample.ID == "" {
		sample.ID = uuid.New().String()
	}
	sample.Timestamp = sample.Timestamp.UTC()

	// Durability first: the in-memory window only sees samples the database
	// has accepted, so a failed insert stores nothing anywhere.
	tags, err := json.Marshal(sample.Tags)
	if err != nil {
		return false, fmt.Errorf("marshalling tags: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO samples (id, user_id, signal, value, tags, logged_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sample.ID, sample.UserID, string(sample.Signal), sample.Value, string(tags), sample.Timestamp,
	); err != nil {
		return false, fmt.Errorf("inserting sample: %w", err)
	}

	w := s.window(sample.UserID, sample.Signal)
	w.mu.Lock()
	evicted := w.append(sample, time.Now().Add(-s.opts.Retention))
	w.sinceRecompute++
	crossed := w.sinceRecompute >= s.opts.BatchThreshold
	if crossed {
		w.sinceRecompute = 0
	}
	w.mu.Unlock()

	if s.observer != nil {
		s.observer.SampleAdded(sample)
		for _, old := range evicted {
			s.observer.SampleEvicted(old)
		}
	}

	return crossed, nil
}

// Window returns a lazy, restartable, timestamp-ordered sequence of the
// user's samples for a signal at or after since. Each restart observes the
// window as of that moment.
func (s *Store) Window(userID string, signal Signal, since time.Time) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		w := s.window(userID, signal)
		w.mu.Lock()
		snapshot := make([]Sample, len(w.samples))
		copy(snapshot, w.samples)
		w.mu.Unlock()

		for _, sample := range snapshot {
			if sample.Timestamp.Before(since) {
				continue
			}
			if !yield(sample) {
				return
			}
		}
	}
}

// Load rebuilds in-memory windows from persisted samples within the
// retention horizon. Called once at startup, before concurrent ingestion.
func (s *Store) Load(ctx context.Context) error {
	horizon := time.Now().Add(-s.opts.Retention).UTC()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, signal, value, tags, logged_at FROM samples WHERE logged_at >= ? ORDER BY logged_at`,
		horizon,
	)
	if err != nil {
		return fmt.Errorf("loading samples: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var (
			sample  Sample
			sigStr  string
			tagsRaw string
		)
		if err := rows.Scan(&sample.ID, &sample.UserID, &sigStr, &sample.Value, &tagsRaw, &sample.Timestamp); err != nil {
			return fmt.Errorf("scanning sample: %w", err)
		}
		sample.Signal = Signal(sigStr)
		if err := json.Unmarshal([]byte(tagsRaw), &sample.Tags); err != nil {
			return fmt.Errorf("unmarshalling tags for sample %s: %w", sample.ID, err)
		}

		w := s.window(sample.UserID, sample.Signal)
		w.mu.Lock()
		w.append(sample, horizon)
		w.mu.Unlock()
		if s.observer != nil {
			s.observer.SampleAdded(sample)
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating samples: %w", err)
	}

	s.logger.Info("feature windows restored", "samples", loaded)
	return nil
}

// Prune deletes persisted samples older than the retention horizon. The
// in-memory windows evict on ingest; this bounds the audit table.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM samples WHERE logged_at < ?`,
		time.Now().Add(-s.opts.Retention).UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning samples: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) validate(sample Sample) error {
	if sample.UserID == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidSample)
	}
	if _, err := ParseSignal(string(sample.Signal)); err != nil {
		return err
	}
	if sample.Value < s.opts.ScaleMin || sample.Value > s.opts.ScaleMax {
		return fmt.Errorf("%w: value %.2f outside scale [%.0f,%.0f]",
			ErrInvalidSample, sample.Value, s.opts.ScaleMin, s.opts.ScaleMax)
	}
	if sample.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidSample)
	}
	if sample.Timestamp.After(time.Now().Add(s.opts.ClockSkew)) {
		return fmt.Errorf("%w: timestamp %s is in the future", ErrInvalidSample, sample.Timestamp.Format(time.RFC3339))
	}
	for _, key := range []string{TagTimeOfDay, TagDayOfWeek} {
		if !hasTagKey(sample.Tags, key) {
			return fmt.Errorf("%w: missing required context tag %s", ErrInvalidSample, key)
		}
	}
	return nil
}

// window returns the window cell for (user, signal), creating it on demand.
func (s *Store) window(userID string, signal Signal) *window {
	s.mu.RLock()
	uw := s.users[userID]
	s.mu.RUnlock()

	if uw == nil {
		s.mu.Lock()
		uw = s.users[userID]
		if uw == nil {
			uw = &userWindows{windows: make(map[Signal]*window)}
			s.users[userID] = uw
		}
		s.mu.Unlock()
	}

	uw.mu.Lock()
	defer uw.mu.Unlock()
	w := uw.windows[signal]
	if w == nil {
		w = &window{}
		uw.windows[signal] = w
	}
	return w
}

// append inserts the sample in timestamp order and evicts everything before
// the horizon. Caller holds w.mu. Returns the evicted samples.
func (w *window) append(sample Sample, horizon time.Time) []Sample {
	i := sort.Search(len(w.samples), func(i int) bool {
		return w.samples[i].Timestamp.After(sample.Timestamp)
	})
	w.samples = append(w.samples, Sample{})
	copy(w.samples[i+1:], w.samples[i:])
	w.samples[i] = sample

	cut := 0
	for cut < len(w.samples) && w.samples[cut].Timestamp.Before(horizon) {
		cut++
	}
	if cut == 0 {
		return nil
	}
	evicted := make([]Sample, cut)
	copy(evicted, w.samples[:cut])
	w.samples = append(w.samples[:0], w.samples[cut:]...)
	return evicted
}
