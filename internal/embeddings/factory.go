package embeddings

import (
	"fmt"
	"os"

	"github.com/solos-app/sol-engine/internal/config"
)

const defaultOllamaDimensions = 768

// FromConfig builds an Embedder for the configured embedding provider.
// The static provider returns a deterministic local embedder so recall
// works without network access.
func FromConfig(cfg config.ReplyConfig) (Embedder, error) {
	switch cfg.EmbeddingProvider {
	case config.ProviderOpenAI:
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		model := OpenAIModel(cfg.EmbeddingModel)
		if cfg.EmbeddingModel == "" {
			model = ModelTextEmbedding3Small
		}
		return NewOpenAIEmbedder(apiKey, model), nil
	case config.ProviderOllama:
		model := cfg.EmbeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaEmbedder(model, defaultOllamaDimensions, os.Getenv("OLLAMA_HOST")), nil
	case config.ProviderStatic:
		return NewLocalEmbedder(64), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.EmbeddingProvider)
	}
}
