package persona

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func TestBlendStaysWithinBounds(t *testing.T) {
	state := TraitVector{"existential": 0.5, "thoughtful": 0.5}
	for i := 0; i < 1000; i++ {
		state = Blend(state, TraitVector{"existential": 1.0, "thoughtful": 0.0}, 0.3)
		for name, v := range state {
			if v < 0 || v > 1 {
				t.Fatalf("iteration %d: trait %s = %v out of [0,1]", i, name, v)
			}
		}
	}
}

func TestBlendApproachesButNeverExceedsOne(t *testing.T) {
	state := TraitVector{"engagement": 0.1}
	for i := 0; i < 200; i++ {
		state = Blend(state, TraitVector{"engagement": 1.0}, 0.3)
		if state["engagement"] >= 1.0 && state["engagement"] != 1.0 {
			t.Fatalf("iteration %d: engagement %v exceeds 1", i, state["engagement"])
		}
	}
	if got := state["engagement"]; got < 0.999 {
		t.Fatalf("engagement = %v, want asymptotically close to 1", got)
	}
}

func TestBlendSmoothing(t *testing.T) {
	prev := TraitVector{"witty": 0.8}
	next := Blend(prev, TraitVector{"witty": 0.2}, 0.3)
	want := 0.3*0.2 + 0.7*0.8
	if math.Abs(next["witty"]-want) > 1e-9 {
		t.Fatalf("witty = %v, want %v", next["witty"], want)
	}
}

func TestBlendDecaysUnreportedTrait(t *testing.T) {
	prev := TraitVector{"broody": 0.9}
	next := Blend(prev, TraitVector{"witty": 1.0}, 0.5)
	if next["broody"] != 0.45 {
		t.Fatalf("broody = %v, want 0.45", next["broody"])
	}
}

func TestDominantTieBreakPriority(t *testing.T) {
	cases := []struct {
		name string
		v    TraitVector
		want string
	}{
		{"all equal favors existential", TraitVector{"engagement": 0.8, "companionship": 0.8, "thoughtful": 0.8, "existential": 0.8}, "existential"},
		{"thoughtful beats companionship", TraitVector{"companionship": 0.6, "thoughtful": 0.6}, "thoughtful"},
		{"higher intensity wins over priority", TraitVector{"existential": 0.5, "engagement": 0.9}, "engagement"},
		{"unknown trait loses ties to known", TraitVector{"witty": 0.7, "engagement": 0.7}, "engagement"},
		{"empty vector", TraitVector{}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Dominant(tc.v); got != tc.want {
				t.Fatalf("Dominant = %q, want %q", got, tc.want)
			}
		})
	}
}

type stubHistory struct {
	vectors []TraitVector
	err     error
}

func (s *stubHistory) TraitHistory(ctx context.Context, userID string, limit int) ([]TraitVector, error) {
	return s.vectors, s.err
}

func TestColdStartFromHistory(t *testing.T) {
	history := &stubHistory{vectors: []TraitVector{
		{"existential": 0.8, "witty": 0.4},
		{"existential": 0.6, "witty": 0.6},
	}}
	tracker := NewTracker(history, nil, Options{Alpha: 0.3, HistoryTurns: 10})

	state := tracker.Current(context.Background(), "u1", "s1")
	if math.Abs(state.Traits["existential"]-0.7) > 1e-9 {
		t.Fatalf("existential = %v, want 0.7", state.Traits["existential"])
	}
	if math.Abs(state.Traits["witty"]-0.5) > 1e-9 {
		t.Fatalf("witty = %v, want 0.5", state.Traits["witty"])
	}
}

func TestColdStartDefaultsWhenHistoryEmpty(t *testing.T) {
	tracker := NewTracker(&stubHistory{}, nil, Options{Alpha: 0.3})
	state := tracker.Current(context.Background(), "u1", "s1")
	if state.Traits["thoughtful"] != 0.95 {
		t.Fatalf("thoughtful = %v, want default 0.95", state.Traits["thoughtful"])
	}
}

func TestColdStartDefaultsWhenHistoryFails(t *testing.T) {
	tracker := NewTracker(&stubHistory{err: errors.New("db closed")}, nil, Options{Alpha: 0.3})
	state := tracker.Current(context.Background(), "u1", "s1")
	if state.Traits["existential"] != 0.9 {
		t.Fatalf("existential = %v, want default 0.9", state.Traits["existential"])
	}
}

func TestObserveUpdatesSessionState(t *testing.T) {
	tracker := NewTracker(nil, nil, Options{Alpha: 0.5})
	ctx := context.Background()

	first := tracker.Current(ctx, "u1", "s1")
	before := first.Traits["engagement"]

	updated := tracker.Observe(ctx, "u1", "s1", TraitVector{"engagement": 1.0})
	want := 0.5*1.0 + 0.5*before
	if math.Abs(updated.Traits["engagement"]-want) > 1e-9 {
		t.Fatalf("engagement = %v, want %v", updated.Traits["engagement"], want)
	}

	// Separate sessions do not share state.
	other := tracker.Current(ctx, "u1", "s2")
	if other.Traits["engagement"] != before {
		t.Fatalf("session s2 engagement = %v, want untouched %v", other.Traits["engagement"], before)
	}
}

func TestEndSessionResetsState(t *testing.T) {
	tracker := NewTracker(nil, nil, Options{Alpha: 0.5})
	ctx := context.Background()

	tracker.Observe(ctx, "u1", "s1", TraitVector{"engagement": 1.0})
	tracker.EndSession("u1", "s1")

	fresh := tracker.Current(ctx, "u1", "s1")
	if fresh.Traits["engagement"] != DefaultTraits()["engagement"] {
		t.Fatalf("engagement after EndSession = %v, want default", fresh.Traits["engagement"])
	}
}

func TestReadActivityKeepsSessionAlive(t *testing.T) {
	tracker := NewTracker(nil, nil, Options{Alpha: 0.5, SessionIdle: time.Minute})
	ctx := context.Background()

	s := tracker.Current(ctx, "u1", "chatty")
	tracker.mu.Lock()
	s.UpdatedAt = time.Now().UTC().Add(-2 * time.Minute)
	tracker.mu.Unlock()

	// A read-only lookup refreshes the session, so the sweep triggered by
	// a new session leaves it alone.
	tracker.Current(ctx, "u1", "chatty")
	tracker.Current(ctx, "u1", "fresh")

	if got := tracker.Current(ctx, "u1", "chatty"); got != s {
		t.Fatal("read-active session was evicted")
	}
}

func TestObserveSurvivesConcurrentSessionChurn(t *testing.T) {
	// An aggressive idle timeout makes every new session sweep away the
	// others, forcing Observe to race session creation and eviction.
	tracker := NewTracker(nil, nil, Options{Alpha: 0.3, SessionIdle: time.Nanosecond})
	ctx := context.Background()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", g%2)
			for i := 0; i < 200; i++ {
				state := tracker.Observe(ctx, "u1", session, TraitVector{"thoughtful": 0.8})
				if v := state.Traits["thoughtful"]; v < 0 || v > 1 {
					t.Errorf("thoughtful = %v out of [0,1]", v)
					return
				}
				tracker.Current(ctx, "u1", "churn")
				tracker.EndSession("u1", "churn")
			}
		}(g)
	}
	wg.Wait()
}

func TestIdleSessionsEvicted(t *testing.T) {
	tracker := NewTracker(nil, nil, Options{Alpha: 0.5, SessionIdle: time.Minute})
	ctx := context.Background()

	stale := tracker.Current(ctx, "u1", "old")
	stale.UpdatedAt = time.Now().Add(-2 * time.Minute)

	tracker.Current(ctx, "u1", "new")

	tracker.mu.Lock()
	_, ok := tracker.sessions[sessionKey{user: "u1", session: "old"}]
	tracker.mu.Unlock()
	if ok {
		t.Fatal("idle session survived eviction")
	}
}
