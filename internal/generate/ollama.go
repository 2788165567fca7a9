package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaGenerator produces replies via a local Ollama instance.
type OllamaGenerator struct {
	baseURL string
	opts    Options
	client  *http.Client
}

// NewOllamaGenerator creates an Ollama-backed generator. baseURL defaults
// to http://localhost:11434 when empty.
func NewOllamaGenerator(baseURL string, opts Options) *OllamaGenerator {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaGenerator{
		baseURL: baseURL,
		opts:    opts,
		client:  &http.Client{},
	}
}

func (g *OllamaGenerator) Name() string {
	return "ollama/" + g.opts.Model
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
}

func (g *OllamaGenerator) Reply(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()

	body, err := json.Marshal(ollamaChatRequest{
		Model: g.opts.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt(req)},
			{Role: "system", Content: contextPrompt(req)},
			{Role: "user", Content: req.Message},
		},
		Stream: false,
		Options: ollamaOptions{
			Temperature: g.opts.Temperature,
			NumPredict:  g.opts.MaxTokens,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama request: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ollama response: %v", ErrUnavailable, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", ErrUnavailable, httpResp.StatusCode, string(respBody))
	}

	var ollamaResp ollamaChatResponse
	if err := json.Unmarshal(respBody, &ollamaResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal ollama response: %v", ErrUnavailable, err)
	}

	text := strings.TrimSpace(ollamaResp.Message.Content)
	return &Reply{
		Text:    text,
		Kind:    ClassifyKind(req.Message),
		Traits:  AnalyzeTraits(text),
		Elapsed: time.Since(start),
	}, nil
}
