package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/solos-app/sol-engine/internal/embeddings"
)

// Recall is the semantic index over past turns. It lives entirely in
// process memory: turn plaintext is never written to disk unencrypted, so
// the index is rebuilt from the encrypted store on startup.
type Recall struct {
	db       *chromem.DB
	embedFn  chromem.EmbeddingFunc
	embedder embeddings.Embedder

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewRecall creates an empty in-memory recall index.
func NewRecall(embedder embeddings.Embedder) *Recall {
	return &Recall{
		db:          chromem.NewDB(),
		embedFn:     embeddings.ToChromemFunc(embedder),
		embedder:    embedder,
		collections: make(map[string]*chromem.Collection),
	}
}

// Index adds one turn to the user's collection. Empty content is skipped.
func (r *Recall) Index(ctx context.Context, t Turn) error {
	if t.Content == "" || t.Unavailable {
		return nil
	}
	col, err := r.collection(t.UserID)
	if err != nil {
		return err
	}
	doc := chromem.Document{
		ID:      t.ID,
		Content: t.Content,
		Metadata: map[string]string{
			"session_id": t.SessionID,
			"role":       string(t.Role),
			"created_at": t.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
	if err := col.AddDocuments(ctx, []chromem.Document{doc}, 1); err != nil {
		return fmt.Errorf("indexing turn: %w", err)
	}
	return nil
}

// Rebuild replaces the user's index with the given turns. Used on startup
// to repopulate from the encrypted store.
func (r *Recall) Rebuild(ctx context.Context, userID string, turns []Turn) error {
	r.mu.Lock()
	delete(r.collections, userID)
	r.mu.Unlock()
	if err := r.db.DeleteCollection(collectionName(userID)); err != nil {
		return fmt.Errorf("resetting recall index: %w", err)
	}
	for _, t := range turns {
		if err := r.Index(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// Query returns the user's most similar past turns to the query text,
// excluding turns from the given session so recall surfaces older context
// rather than the window the caller already has.
func (r *Recall) Query(ctx context.Context, userID, excludeSession, query string, limit int) ([]RecallResult, error) {
	if limit <= 0 {
		limit = 3
	}
	col, err := r.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size.
	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	n := limit * 4
	if n > count {
		n = count
	}

	results, err := col.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("recall query: %w", err)
	}

	out := make([]RecallResult, 0, limit)
	for _, res := range results {
		if res.Metadata["session_id"] == excludeSession {
			continue
		}
		created, _ := time.Parse(time.RFC3339, res.Metadata["created_at"])
		out = append(out, RecallResult{
			Turn: Turn{
				ID:        res.ID,
				UserID:    userID,
				SessionID: res.Metadata["session_id"],
				Role:      Role(res.Metadata["role"]),
				Content:   res.Content,
				CreatedAt: created,
			},
			Similarity: res.Similarity,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *Recall) collection(userID string) (*chromem.Collection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if col, ok := r.collections[userID]; ok {
		return col, nil
	}
	col, err := r.db.GetOrCreateCollection(collectionName(userID), nil, r.embedFn)
	if err != nil {
		return nil, fmt.Errorf("creating recall collection: %w", err)
	}
	r.collections[userID] = col
	return col, nil
}

func collectionName(userID string) string {
	return "turns-" + userID
}
