package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/solos-app/sol-engine/internal/correlate"
	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/metrics"
	"github.com/solos-app/sol-engine/internal/predict"
)

type chatRequest struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.SessionID == "" || req.Message == "" {
		http.Error(w, "user_id, session_id and message are required", http.StatusBadRequest)
		return
	}

	exchange, err := s.deps.Companion.HandleMessage(r.Context(), req.UserID, req.SessionID, req.Message)
	if err != nil {
		s.logger.Error("chat exchange failed", "user", req.UserID, "error", err)
		http.Error(w, "exchange failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, exchange)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.SessionID == "" {
		http.Error(w, "user_id and session_id are required", http.StatusBadRequest)
		return
	}
	s.deps.Companion.EndSession(req.UserID, req.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	turns, err := s.deps.Memories.History(r.Context(), userID, q.Get("session_id"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
}

type sampleRequest struct {
	UserID            string   `json:"user_id"`
	Signal            string   `json:"signal"`
	Value             float64  `json:"value"`
	Timestamp         string   `json:"timestamp,omitempty"`
	TaskCategory      string   `json:"task_category,omitempty"`
	MinutesSinceFocus *int     `json:"minutes_since_focus,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}

func (s *Server) handleLogSample(w http.ResponseWriter, r *http.Request) {
	var req sampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	signal, err := feature.ParseSignal(req.Signal)
	if err != nil {
		metrics.SampleRejected()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			metrics.SampleRejected()
			http.Error(w, "timestamp must be RFC3339", http.StatusBadRequest)
			return
		}
		ts = parsed
	}

	tags := req.Tags
	if len(tags) == 0 {
		sinceFocus := -1
		if req.MinutesSinceFocus != nil {
			sinceFocus = *req.MinutesSinceFocus
		}
		tags = feature.ContextTags(ts, req.TaskCategory, sinceFocus)
	}

	sample := feature.Sample{
		UserID:    req.UserID,
		Signal:    signal,
		Value:     req.Value,
		Timestamp: ts,
		Tags:      tags,
	}
	crossed, err := s.deps.Features.Ingest(r.Context(), sample)
	if err != nil {
		if errors.Is(err, feature.ErrInvalidSample) {
			metrics.SampleRejected()
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}
	metrics.SampleIngested(string(signal))

	if s.deps.Proactive != nil {
		s.deps.Proactive.SampleLogged(r.Context(), sample, crossed)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted":            true,
		"recompute_triggered": crossed,
	})
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	signal, err := feature.ParseSignal(q.Get("signal"))
	if userID == "" || err != nil {
		http.Error(w, "user_id and a valid signal are required", http.StatusBadRequest)
		return
	}

	if audit, _ := strconv.ParseBool(q.Get("audit")); audit {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "ok",
			"correlations": s.deps.Patterns.Audit(userID, signal),
		})
		return
	}

	correlations, err := s.deps.Patterns.Correlations(userID, signal)
	if err != nil {
		if errors.Is(err, correlate.ErrInsufficientData) {
			// Not enough history is a real answer, not an empty result.
			writeJSON(w, http.StatusOK, map[string]any{"status": "insufficient_data"})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"correlations": correlations,
	})
}

func (s *Server) handleForecasts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	sinceFocus := -1
	if v := q.Get("minutes_since_focus"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			sinceFocus = n
		}
	}
	tags := feature.ContextTags(time.Now(), q.Get("task_category"), sinceFocus)

	if name := q.Get("signal"); name != "" {
		signal, err := feature.ParseSignal(name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		forecast, err := s.deps.Predictor.Forecast(r.Context(), userID, signal, tags)
		if err != nil {
			if errors.Is(err, predict.ErrNoForecast) {
				metrics.ForecastServed(false)
				writeJSON(w, http.StatusOK, map[string]any{"status": "no_forecast"})
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		metrics.ForecastServed(true)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "forecast": forecast})
		return
	}

	forecasts := s.deps.Predictor.ForecastAll(r.Context(), userID, tags)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "forecasts": forecasts})
}

func (s *Server) handlePersonality(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, sessionID := q.Get("user_id"), q.Get("session_id")
	if userID == "" || sessionID == "" {
		http.Error(w, "user_id and session_id are required", http.StatusBadRequest)
		return
	}
	state := s.deps.Tracker.Current(r.Context(), userID, sessionID)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID := q.Get("user_id")
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	notifications, err := s.deps.Notifications.ListRecent(r.Context(), userID, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": notifications})
}

type rotateRequest struct {
	UserID string `json:"user_id"`
}

func (s *Server) handleRotateKey(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	rotated, err := s.deps.Memories.RotateKey(r.Context(), req.UserID)
	if err != nil {
		s.logger.Error("key rotation failed", "user", req.UserID, "error", err)
		http.Error(w, "rotation failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rotated": rotated})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
