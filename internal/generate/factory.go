package generate

import (
	"fmt"
	"os"

	"github.com/solos-app/sol-engine/internal/config"
)

// FromConfig builds a Generator for the configured reply provider.
func FromConfig(cfg config.ReplyConfig) (Generator, error) {
	opts := Options{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return NewOpenAIGenerator(apiKey, opts), nil
	case config.ProviderOllama:
		return NewOllamaGenerator(os.Getenv("OLLAMA_HOST"), opts), nil
	case config.ProviderStatic:
		return NewStaticGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown reply provider %q", cfg.Provider)
	}
}
