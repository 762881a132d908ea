package vectorstore

import (
	"context"
	"fmt"

	chatcore "github.com/creastat/chatcore"
)

// Embedder turns text into a vector in the same space as the stored guide
// chunks.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds a query and returns the matching guide snippets as plain
// text, mode- and language-filtered.
type Retriever struct {
	store    GuideStore
	embedder Embedder
	minScore float32
}

// NewRetriever creates a retriever over the given store and embedder.
// minScore drops low-similarity matches; zero disables the threshold.
func NewRetriever(store GuideStore, embedder Embedder, minScore float32) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		minScore: minScore,
	}
}

// Retrieve returns up to limit guide snippets relevant to the query.
func (r *Retriever) Retrieve(ctx context.Context, mode chatcore.Mode, lang chatcore.Language, query string, limit int) ([]string, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := r.store.Search(ctx, vector, SearchFilter{
		Mode:     mode,
		Language: lang,
		MinScore: r.minScore,
	}, limit)
	if err != nil {
		return nil, err
	}

	snippets := make([]string, 0, len(results))
	for _, res := range results {
		if res.Content != "" {
			snippets = append(snippets, res.Content)
		}
	}
	return snippets, nil
}
