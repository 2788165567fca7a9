package generate

import (
	"context"
	"strings"
	"time"
)

// FallbackReply picks a canned response by simple pattern matching on the
// user's message. Used when the reply provider is down or times out; the
// companion should never go silent.
func FallbackReply(message string) string {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "hello", "hi", "hey"):
		return "Hey there. Good to see you. How are you doing today?"
	case containsAny(lower, "tired", "exhausted", "overwhelmed"):
		return "That sounds really tough. ADHD can make everything feel so much heavier sometimes. Want to talk through what's going on?"
	case containsAny(lower, "happy", "good", "great", "excited"):
		return "I can hear some good energy in that. It's nice when things align, isn't it? What's working for you right now?"
	case containsAny(lower, "task", "work", "focus"):
		return "Ah, the eternal ADHD dance with tasks. Some days our brains cooperate, some days they don't. What's the situation you're dealing with?"
	default:
		return "I'm having some technical difficulties right now, but I'm here with you. Want to tell me more about what's on your mind?"
	}
}

// StaticGenerator serves canned replies only. Useful for local development
// and tests; it never errors.
type StaticGenerator struct{}

func NewStaticGenerator() *StaticGenerator { return &StaticGenerator{} }

func (g *StaticGenerator) Name() string { return "static" }

func (g *StaticGenerator) Reply(ctx context.Context, req Request) (*Reply, error) {
	start := time.Now()
	text := FallbackReply(req.Message)
	return &Reply{
		Text:    text,
		Kind:    ClassifyKind(req.Message),
		Traits:  AnalyzeTraits(text),
		Elapsed: time.Since(start),
	}, nil
}
