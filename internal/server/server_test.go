package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solos-app/sol-engine/internal/companion"
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

func newTestServer(t *testing.T) *Server {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	patterns := correlate.NewEngine(database, nil, correlate.Options{MinSupport: 3, MinTotalSamples: 10})
	features := feature.NewStore(database, nil, feature.Options{
		ScaleMin: 1, ScaleMax: 5, Retention: 30 * 24 * time.Hour, BatchThreshold: 5, ClockSkew: 2 * time.Minute,
	}, patterns)
	predictor := predict.New(patterns, nil, predict.Options{
		LeadTimes: map[feature.Signal]time.Duration{
			feature.SignalMood:    45 * time.Minute,
			feature.SignalEnergy:  30 * time.Minute,
			feature.SignalFocus:   30 * time.Minute,
			feature.SignalAnxiety: 60 * time.Minute,
		},
		EvidenceWeight:    0.6,
		StalenessHalfLife: 4 * time.Hour,
	})

	keys := securebox.NewKeyring(database, "test-master-key", 1000)
	memories := memory.NewStore(database, keys, nil, nil, memory.Options{WindowTurns: 10})
	tracker := persona.NewTracker(memories, nil, persona.Options{Alpha: 0.3, HistoryTurns: 10})
	hub := NewHub(nil)
	notifStore := dispatch.NewStore(database)
	dispatcher := dispatch.New(notifStore, []dispatch.Delivery{hub}, nil, dispatch.Options{
		ConfidenceThreshold: 0.5, MinNegativeDelta: 0.3, Cooldown: time.Hour,
	})
	engine := companion.NewEngine(memories, nil, tracker, generate.NewStaticGenerator(), features, nil, companion.Options{ReplyTimeout: time.Second})
	proactive := companion.NewProactive(patterns, predictor, dispatcher, nil)

	return New(Config{Port: 0, AllowAll: true}, Deps{
		Database:      database,
		Features:      features,
		Patterns:      patterns,
		Predictor:     predictor,
		Tracker:       tracker,
		Memories:      memories,
		Companion:     engine,
		Proactive:     proactive,
		Notifications: notifStore,
		Hub:           hub,
	}, nil)
}

func postJSON(t *testing.T, srv *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func getJSON(t *testing.T, srv *Server, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
			t.Fatalf("unmarshal %s: %v", path, err)
		}
	}
	return w
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t)

	var body map[string]string
	w := getJSON(t, srv, "/healthz", &body)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", body["status"])
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("OPTIONS", "/healthz", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected CORS Allow-Origin header")
	}
}

func TestChatExchangeAndHistory(t *testing.T) {
	srv := newTestServer(t)

	w := postJSON(t, srv, "/api/v1/chat", chatRequest{UserID: "u1", SessionID: "s1", Message: "hey sol"})
	if w.Code != http.StatusOK {
		t.Fatalf("chat returned %d: %s", w.Code, w.Body.String())
	}
	var exchange companion.Exchange
	if err := json.Unmarshal(w.Body.Bytes(), &exchange); err != nil {
		t.Fatalf("unmarshal exchange: %v", err)
	}
	if exchange.Reply == nil || exchange.Reply.Text == "" {
		t.Fatal("exchange has no reply text")
	}

	var history struct {
		Turns []memory.Turn `json:"turns"`
	}
	if w := getJSON(t, srv, "/api/v1/chat/history?user_id=u1&session_id=s1", &history); w.Code != http.StatusOK {
		t.Fatalf("history returned %d", w.Code)
	}
	if len(history.Turns) != 2 {
		t.Fatalf("history has %d turns, want 2", len(history.Turns))
	}
}

func TestChatValidation(t *testing.T) {
	srv := newTestServer(t)

	if w := postJSON(t, srv, "/api/v1/chat", chatRequest{UserID: "u1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("incomplete chat request returned %d, want 400", w.Code)
	}
	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("malformed body returned %d, want 400", w.Code)
	}
}

func TestLogSampleAcceptedAndRejected(t *testing.T) {
	srv := newTestServer(t)

	w := postJSON(t, srv, "/api/v1/samples", sampleRequest{UserID: "u1", Signal: "mood", Value: 4})
	if w.Code != http.StatusAccepted {
		t.Fatalf("valid sample returned %d: %s", w.Code, w.Body.String())
	}

	cases := []sampleRequest{
		{UserID: "u1", Signal: "happiness", Value: 4},
		{UserID: "u1", Signal: "mood", Value: 9},
		{UserID: "", Signal: "mood", Value: 3},
	}
	for _, tc := range cases {
		if w := postJSON(t, srv, "/api/v1/samples", tc); w.Code != http.StatusBadRequest {
			t.Errorf("invalid sample %+v returned %d, want 400", tc, w.Code)
		}
	}
}

func TestCorrelationsInsufficientData(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/api/v1/samples", sampleRequest{UserID: "u1", Signal: "mood", Value: 4})

	var body map[string]any
	w := getJSON(t, srv, "/api/v1/correlations?user_id=u1&signal=mood", &body)
	if w.Code != http.StatusOK {
		t.Fatalf("correlations returned %d", w.Code)
	}
	if body["status"] != "insufficient_data" {
		t.Fatalf("status = %v, want insufficient_data", body["status"])
	}
}

func TestForecastsWithoutHistory(t *testing.T) {
	srv := newTestServer(t)

	var single map[string]any
	if w := getJSON(t, srv, "/api/v1/forecasts?user_id=u1&signal=mood", &single); w.Code != http.StatusOK {
		t.Fatalf("forecast returned %d", w.Code)
	}
	if single["status"] != "no_forecast" {
		t.Fatalf("status = %v, want no_forecast", single["status"])
	}

	var all struct {
		Status    string            `json:"status"`
		Forecasts []json.RawMessage `json:"forecasts"`
	}
	if w := getJSON(t, srv, "/api/v1/forecasts?user_id=u1", &all); w.Code != http.StatusOK {
		t.Fatalf("forecasts returned %d", w.Code)
	}
	if len(all.Forecasts) != 0 {
		t.Fatalf("got %d forecasts with no history", len(all.Forecasts))
	}
}

func TestPersonalityEndpoint(t *testing.T) {
	srv := newTestServer(t)

	var state persona.State
	w := getJSON(t, srv, "/api/v1/personality?user_id=u1&session_id=s1", &state)
	if w.Code != http.StatusOK {
		t.Fatalf("personality returned %d", w.Code)
	}
	if state.Traits["thoughtful"] != 0.95 {
		t.Fatalf("thoughtful = %v, want the default 0.95", state.Traits["thoughtful"])
	}
}

func TestRotateKeyEndpoint(t *testing.T) {
	srv := newTestServer(t)

	postJSON(t, srv, "/api/v1/chat", chatRequest{UserID: "u1", SessionID: "s1", Message: "hello"})

	w := postJSON(t, srv, "/api/v1/keys/rotate", rotateRequest{UserID: "u1"})
	if w.Code != http.StatusOK {
		t.Fatalf("rotate returned %d: %s", w.Code, w.Body.String())
	}
	var body map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["rotated"] != 2 {
		t.Fatalf("rotated = %d, want 2", body["rotated"])
	}
}

func TestWebSocketNotificationPush(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/notifications?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Give the server a moment to register the connection.
	deadline := time.Now().Add(time.Second)
	for {
		srv.deps.Hub.mu.Lock()
		registered := len(srv.deps.Hub.conns["u1"]) > 0
		srv.deps.Hub.mu.Unlock()
		if registered {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sent := dispatch.Notification{ID: "n1", UserID: "u1", Signal: feature.SignalMood, Message: "heads up"}
	if err := srv.deps.Hub.Deliver(context.Background(), sent); err != nil {
		t.Fatalf("delivering: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received dispatch.Notification
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("reading notification: %v", err)
	}
	if received.ID != "n1" || received.Message != "heads up" {
		t.Fatalf("received %+v", received)
	}
}
