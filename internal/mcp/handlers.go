package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/solos-app/sol-engine/internal/feature"
	"github.com/solos-app/sol-engine/internal/memory"
	"github.com/solos-app/sol-engine/internal/predict"
)

func (s *Server) handleRecallConversations(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}
	limit := request.GetInt("limit", 3)

	if s.deps.Recall == nil {
		return mcp.NewToolResultError("semantic recall is disabled on this instance"), nil
	}
	results, err := s.deps.Recall.Query(ctx, userID, "", query, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("recall failed: %v", err)), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No similar past conversations found."), nil
	}

	return mcp.NewToolResultText(formatRecallResults(results)), nil
}

func (s *Server) handleGetForecast(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	signalName, err := request.RequireString("signal")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: signal"), nil
	}
	signal, err := feature.ParseSignal(signalName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	tags := feature.ContextTags(time.Now(), request.GetString("task_category", ""), -1)
	forecast, err := s.deps.Predictor.Forecast(ctx, userID, signal, tags)
	if err != nil {
		if errors.Is(err, predict.ErrNoForecast) {
			return mcp.NewToolResultText(fmt.Sprintf(
				"No forecast for %s right now: not enough pattern evidence in the current context.", signal)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("forecast failed: %v", err)), nil
	}

	raw, err := json.MarshalIndent(forecast, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding forecast: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (s *Server) handleLogSample(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	signalName, err := request.RequireString("signal")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: signal"), nil
	}
	signal, err := feature.ParseSignal(signalName)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	value, err := request.RequireFloat("value")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: value"), nil
	}

	now := time.Now().UTC()
	sample := feature.Sample{
		UserID:    userID,
		Signal:    signal,
		Value:     value,
		Timestamp: now,
		Tags:      feature.ContextTags(now, request.GetString("task_category", ""), -1),
	}
	crossed, err := s.deps.Features.Ingest(ctx, sample)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("sample rejected: %v", err)), nil
	}
	if s.deps.Proactive != nil {
		s.deps.Proactive.SampleLogged(ctx, sample, crossed)
	}

	return mcp.NewToolResultText(fmt.Sprintf("Logged %s=%g for %s.", signal, value, userID)), nil
}

func (s *Server) handleGetPersonality(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: user_id"), nil
	}
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	state := s.deps.Tracker.Current(ctx, userID, sessionID)
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding state: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func formatRecallResults(results []memory.RecallResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d similar turn(s):\n", len(results))
	for i, res := range results {
		fmt.Fprintf(&b, "\n%d. [%s, %s, similarity %.2f]\n%s\n",
			i+1,
			res.Turn.SessionID,
			res.Turn.CreatedAt.Format("2006-01-02 15:04"),
			res.Similarity,
			res.Turn.Content)
	}
	return b.String()
}
