package companion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/solos-app/sol-engine/internal/correlate"
	"github.com/solos-app/sol-engine/internal/db"
	"github.com/solos-app/sol-engine/internal/dispatch"
	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/generate"
	"github.com/solos-app/sol-engine/internal/memory"
	"github.com/solos-app/sol-engine/internal/persona"
	"github.com/solos-app/sol-engine/internal/predict"
	"github.com/solos-app/sol-engine/internal/securebox"
)

type fakeGenerator struct {
	reply   *generate.Reply
	err     error
	delay   time.Duration
	lastReq generate.Request
}

func (g *fakeGenerator) Name() string { return "fake" }

func (g *fakeGenerator) Reply(ctx context.Context, req generate.Request) (*generate.Reply, error) {
	g.lastReq = req
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", generate.ErrUnavailable, ctx.Err())
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.reply, nil
}

func solReply() *generate.Reply {
	return &generate.Reply{
		Text:   "I wonder what that means for you. Want to explore it together?",
		Kind:   generate.KindGeneral,
		Traits: persona.TraitVector{"existential": 0.6, "engagement": 1.0},
	}
}

func newTestEngine(t *testing.T, gen generate.Generator) (*Engine, *memory.Store) {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	keys := securebox.NewKeyring(database, "test-master-key", 1000)
	memories := memory.NewStore(database, keys, nil, nil, memory.Options{WindowTurns: 10})
	tracker := persona.NewTracker(memories, nil, persona.Options{Alpha: 0.3, HistoryTurns: 10})

	engine := NewEngine(memories, nil, tracker, gen, nil, nil, Options{ReplyTimeout: time.Second})
	return engine, memories
}

func TestHandleMessagePersistsExchange(t *testing.T) {
	gen := &fakeGenerator{reply: solReply()}
	engine, memories := newTestEngine(t, gen)
	ctx := context.Background()

	ex, err := engine.HandleMessage(ctx, "u1", "s1", "what's the point of all this")
	if err != nil {
		t.Fatalf("handling message: %v", err)
	}
	if ex.Fallback {
		t.Fatal("healthy generator produced a fallback")
	}
	if ex.Reply.Text != solReply().Text {
		t.Fatalf("reply text = %q", ex.Reply.Text)
	}

	window, err := memories.ContextWindow(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("reading window: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("stored %d turns, want 2", len(window))
	}
	if window[0].Role != memory.RoleUser || window[1].Role != memory.RoleCompanion {
		t.Fatalf("roles wrong: %s, %s", window[0].Role, window[1].Role)
	}
	if window[1].Traits == nil {
		t.Fatal("companion turn stored without traits")
	}
}

func TestHandleMessageBlendsPersona(t *testing.T) {
	gen := &fakeGenerator{reply: solReply()}
	engine, _ := newTestEngine(t, gen)
	ctx := context.Background()

	before := persona.DefaultTraits()["engagement"]
	ex, err := engine.HandleMessage(ctx, "u1", "s1", "hello")
	if err != nil {
		t.Fatalf("handling message: %v", err)
	}
	want := 0.3*1.0 + 0.7*before
	got := ex.Persona.Traits["engagement"]
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("engagement = %v, want %v", got, want)
	}
}

func TestGenerationFailureFallsBack(t *testing.T) {
	gen := &fakeGenerator{err: generate.ErrUnavailable}
	engine, memories := newTestEngine(t, gen)
	ctx := context.Background()

	ex, err := engine.HandleMessage(ctx, "u1", "s1", "I'm exhausted")
	if err != nil {
		t.Fatalf("handling message: %v", err)
	}
	if !ex.Fallback || ex.Reply.Kind != generate.KindFallback {
		t.Fatalf("expected fallback exchange, got %+v", ex.Reply)
	}
	if ex.Reply.Text == "" {
		t.Fatal("fallback reply is empty")
	}

	// Fallback text carries no traits and leaves the persona at its seed.
	window, err := memories.ContextWindow(ctx, "u1", "s1")
	if err != nil {
		t.Fatalf("reading window: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("stored %d turns, want 2", len(window))
	}
	if window[1].Traits != nil {
		t.Fatal("fallback turn stored with traits")
	}
	if ex.Persona.Traits["engagement"] != persona.DefaultTraits()["engagement"] {
		t.Fatal("fallback updated the persona")
	}
}

func TestSlowGeneratorTimesOutToFallback(t *testing.T) {
	gen := &fakeGenerator{reply: solReply(), delay: 5 * time.Second}
	engine, _ := newTestEngine(t, gen)
	engine.opts.ReplyTimeout = 50 * time.Millisecond

	ex, err := engine.HandleMessage(context.Background(), "u1", "s1", "hello")
	if err != nil {
		t.Fatalf("handling message: %v", err)
	}
	if !ex.Fallback {
		t.Fatal("slow generator did not degrade to fallback")
	}
}

func TestWindowExcludesCurrentMessage(t *testing.T) {
	gen := &fakeGenerator{reply: solReply()}
	engine, _ := newTestEngine(t, gen)
	ctx := context.Background()

	if _, err := engine.HandleMessage(ctx, "u1", "s1", "first message"); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	if _, err := engine.HandleMessage(ctx, "u1", "s1", "second message"); err != nil {
		t.Fatalf("second exchange: %v", err)
	}

	req := gen.lastReq
	if req.Message != "second message" {
		t.Fatalf("request message = %q", req.Message)
	}
	for _, turn := range req.Window {
		if turn.Content == "second message" {
			t.Fatal("current message duplicated into the window")
		}
	}
	if len(req.Window) != 2 {
		t.Fatalf("window has %d turns, want the 2 prior ones", len(req.Window))
	}
}

func TestProactiveLoopDispatchesOnPattern(t *testing.T) {
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	corr := correlate.NewEngine(database, nil, correlate.Options{MinSupport: 3, MinTotalSamples: 10})
	features := feature.NewStore(database, nil, feature.Options{
		ScaleMin: 1, ScaleMax: 5, Retention: 30 * 24 * time.Hour, BatchThreshold: 5, ClockSkew: 2 * time.Minute,
	}, corr)
	predictor := predict.New(corr, nil, predict.Options{
		LeadTimes:         map[feature.Signal]time.Duration{feature.SignalEnergy: 30 * time.Minute},
		EvidenceWeight:    0.6,
		StalenessHalfLife: 4 * time.Hour,
	})
	delivered := &countingDelivery{}
	disp := dispatch.New(nil, []dispatch.Delivery{delivered}, nil, dispatch.Options{
		ConfidenceThreshold: 0.2, MinNegativeDelta: 0.1, Cooldown: time.Hour,
	})
	proactive := NewProactive(corr, predictor, disp, nil)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	log := func(i int, value float64, tod string) feature.Sample {
		s := feature.Sample{
			UserID:    "u1",
			Signal:    feature.SignalEnergy,
			Value:     value,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Tags:      []string{"time_of_day=" + tod, "day_of_week=monday"},
		}
		crossed, err := features.Ingest(ctx, s)
		if err != nil {
			t.Fatalf("ingesting sample %d: %v", i, err)
		}
		proactive.SampleLogged(ctx, s, crossed)
		return s
	}

	// Mornings are fine, afternoons slump.
	for i := 0; i < 8; i++ {
		log(i, 4+float64(i%2), "morning")
	}
	for i := 8; i < 16; i++ {
		log(i, 2, "afternoon")
	}

	if delivered.count == 0 {
		t.Fatal("proactive loop never dispatched a nudge for the afternoon slump")
	}
}

type countingDelivery struct {
	count int
}

func (d *countingDelivery) Name() string { return "counting" }

func (d *countingDelivery) Deliver(ctx context.Context, n dispatch.Notification) error {
	d.count++
	return nil
}

