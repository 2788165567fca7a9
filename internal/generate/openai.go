package generate

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Options tunes a provider, built from config.ReplyConfig.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIGenerator produces replies via the OpenAI Chat Completions API.
type OpenAIGenerator struct {
	client *openai.Client
	opts   Options
}

// NewOpenAIGenerator creates an OpenAI-backed generator.
func NewOpenAIGenerator(apiKey string, opts Options) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: openai.NewClient(apiKey),
		opts:   opts,
	}
}

func (g *OpenAIGenerator) Name() string {
	return "openai/" + g.opts.Model
}

func (g *OpenAIGenerator) Reply(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(req)},
			{Role: openai.ChatMessageRoleSystem, Content: contextPrompt(req)},
			{Role: openai.ChatMessageRoleUser, Content: req.Message},
		},
		MaxTokens:        g.opts.MaxTokens,
		Temperature:      float32(g.opts.Temperature),
		PresencePenalty:  0.1,
		FrequencyPenalty: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai completion: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", ErrUnavailable)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	return &Reply{
		Text:    text,
		Kind:    ClassifyKind(req.Message),
		Traits:  AnalyzeTraits(text),
		Elapsed: time.Since(start),
	}, nil
}
