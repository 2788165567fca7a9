package feature

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/solos-app/sol-engine/internal/db"
)

func testOptions() Options {
	return Options{
		ScaleMin:       1,
		ScaleMax:       5,
		Retention:      30 * 24 * time.Hour,
		BatchThreshold: 5,
		ClockSkew:      2 * time.Minute,
	}
}

func setupStore(t *testing.T, opts Options, obs Observer) *Store {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewStore(database, nil, opts, obs)
}

func validSample(user string, sig Signal, value float64, at time.Time) Sample {
	return Sample{
		UserID:    user,
		Signal:    sig,
		Value:     value,
		Timestamp: at,
		Tags:      ContextTags(at, "deep_work", 45),
	}
}

func TestIngestAndWindowOrder(t *testing.T) {
	store := setupStore(t, testOptions(), nil)
	ctx := context.Background()
	now := time.Now()

	// Ingest out of order; the window must come back timestamp sorted.
	offsets := []time.Duration{-2 * time.Hour, -5 * time.Hour, -1 * time.Hour, -4 * time.Hour}
	for _, off := range offsets {
		if _, err := store.Ingest(ctx, validSample("u1", SignalMood, 3, now.Add(off))); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	var got []Sample
	for s := range store.Window("u1", SignalMood, now.Add(-24*time.Hour)) {
		got = append(got, s)
	}
	if len(got) != len(offsets) {
		t.Fatalf("expected %d samples, got %d", len(offsets), len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("window out of order at %d", i)
		}
	}

	// A restart of the sequence yields the same samples.
	count := 0
	for range store.Window("u1", SignalMood, now.Add(-24*time.Hour)) {
		count++
	}
	if count != len(offsets) {
		t.Errorf("restarted sequence returned %d samples, want %d", count, len(offsets))
	}
}

func TestIngestValidation(t *testing.T) {
	store := setupStore(t, testOptions(), nil)
	ctx := context.Background()
	now := time.Now()

	cases := []struct {
		name   string
		sample Sample
	}{
		{"value above scale", validSampleWith(func(s *Sample) { s.Value = 9 }, now)},
		{"value below scale", validSampleWith(func(s *Sample) { s.Value = 0 }, now)},
		{"unknown signal", validSampleWith(func(s *Sample) { s.Signal = "bliss" }, now)},
		{"future timestamp", validSampleWith(func(s *Sample) { s.Timestamp = now.Add(time.Hour) }, now)},
		{"zero timestamp", validSampleWith(func(s *Sample) { s.Timestamp = time.Time{} }, now)},
		{"missing user", validSampleWith(func(s *Sample) { s.UserID = "" }, now)},
		{"missing required tags", validSampleWith(func(s *Sample) { s.Tags = []string{"active_task_category=email"} }, now)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.Ingest(ctx, tc.sample); !errors.Is(err, ErrInvalidSample) {
				t.Errorf("expected ErrInvalidSample, got %v", err)
			}
		})
	}

	// Nothing was stored for any rejected sample.
	for range store.Window("u1", SignalMood, now.Add(-24*time.Hour)) {
		t.Fatal("rejected sample leaked into the window")
	}
}

func validSampleWith(mutate func(*Sample), now time.Time) Sample {
	s := validSample("u1", SignalMood, 3, now.Add(-time.Minute))
	mutate(&s)
	return s
}

func TestClockSkewTolerance(t *testing.T) {
	store := setupStore(t, testOptions(), nil)

	// A minute ahead is within the two-minute skew tolerance.
	s := validSample("u1", SignalMood, 3, time.Now().Add(time.Minute))
	if _, err := store.Ingest(context.Background(), s); err != nil {
		t.Errorf("sample within skew tolerance rejected: %v", err)
	}
}

func TestBatchThreshold(t *testing.T) {
	opts := testOptions()
	opts.BatchThreshold = 3
	store := setupStore(t, opts, nil)
	ctx := context.Background()
	now := time.Now()

	crossings := 0
	for i := 0; i < 7; i++ {
		crossed, err := store.Ingest(ctx, validSample("u1", SignalEnergy, 3, now.Add(-time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("Ingest %d: %v", i, err)
		}
		if crossed {
			crossings++
		}
	}
	// 7 samples with threshold 3 crosses at the 3rd and 6th.
	if crossings != 2 {
		t.Errorf("expected 2 threshold crossings, got %d", crossings)
	}
}

func TestEviction(t *testing.T) {
	opts := testOptions()
	opts.Retention = 24 * time.Hour
	var evicted evictionRecorder
	store := setupStore(t, opts, &evicted)
	ctx := context.Background()
	now := time.Now()

	old := validSample("u1", SignalFocus, 2, now.Add(-30*time.Hour))
	old.Tags = ContextTags(old.Timestamp, "", -1)
	if _, err := store.Ingest(ctx, old); err != nil {
		t.Fatalf("Ingest old: %v", err)
	}
	if _, err := store.Ingest(ctx, validSample("u1", SignalFocus, 4, now.Add(-time.Hour))); err != nil {
		t.Fatalf("Ingest fresh: %v", err)
	}

	var got []Sample
	for s := range store.Window("u1", SignalFocus, now.Add(-48*time.Hour)) {
		got = append(got, s)
	}
	if len(got) != 1 || got[0].Value != 4 {
		t.Errorf("expected only the fresh sample after eviction, got %+v", got)
	}
	if n := evicted.count(); n != 1 {
		t.Errorf("expected 1 eviction callback, got %d", n)
	}
}

type evictionRecorder struct {
	mu       sync.Mutex
	evicted  int
	observed int
}

func (r *evictionRecorder) SampleAdded(Sample) {
	r.mu.Lock()
	r.observed++
	r.mu.Unlock()
}

func (r *evictionRecorder) SampleEvicted(Sample) {
	r.mu.Lock()
	r.evicted++
	r.mu.Unlock()
}

func (r *evictionRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evicted
}

func TestLoadRestoresWindows(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	now := time.Now()

	first := NewStore(database, nil, testOptions(), nil)
	for i := 0; i < 4; i++ {
		if _, err := first.Ingest(ctx, validSample("u1", SignalMood, 3, now.Add(-time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	// A fresh store over the same database sees the same window after Load.
	second := NewStore(database, nil, testOptions(), nil)
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	count := 0
	for range second.Window("u1", SignalMood, now.Add(-24*time.Hour)) {
		count++
	}
	if count != 4 {
		t.Errorf("expected 4 restored samples, got %d", count)
	}
}

func TestConcurrentIngestAcrossUsers(t *testing.T) {
	store := setupStore(t, testOptions(), nil)
	ctx := context.Background()
	now := time.Now()

	var wg sync.WaitGroup
	for u := 0; u < 8; u++ {
		user := fmt.Sprintf("user-%d", u)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				sig := AllSignals[i%len(AllSignals)]
				if _, err := store.Ingest(ctx, validSample(user, sig, 3, now.Add(-time.Duration(i)*time.Minute))); err != nil {
					t.Errorf("Ingest %s: %v", user, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for u := 0; u < 8; u++ {
		user := fmt.Sprintf("user-%d", u)
		count := 0
		for _, sig := range AllSignals {
			for range store.Window(user, sig, now.Add(-24*time.Hour)) {
				count++
			}
		}
		if count != 20 {
			t.Errorf("%s: expected 20 samples across signals, got %d", user, count)
		}
	}
}
