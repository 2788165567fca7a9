package embeddings

import "context"

// Embedder turns conversation text into vectors for the recall index.
// Implementations must be deterministic for a given input so rebuilds of
// the in-memory index reproduce the same neighborhoods.
type Embedder interface {
	// Embed embeds one or more texts. Turns are short, so implementations
	// may embed them one call at a time.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the width of the vectors Embed produces.
	Dimensions() int

	// Name identifies the model, e.g. "ollama/nomic-embed-text".
	Name() string
}
