// Package vectorstore provides similarity search over guide passages: short
// curated text chunks (area guides, workout templates, interview tips) that
// ground model replies. Chunks are tagged with the conversation mode and
// language so retrieval never crosses domains.
package vectorstore

import (
	"context"

	chatcore "github.com/creastat/chatcore"
)

// GuideStore is a technology-agnostic interface for guide chunk storage and
// similarity search.
type GuideStore interface {
	// Search performs vector similarity search with optional filtering.
	Search(ctx context.Context, vector []float32, filter SearchFilter, limit int) ([]SearchResult, error)

	// Upsert writes guide chunks, replacing any chunk with the same ID.
	Upsert(ctx context.Context, chunks []GuideChunk) error

	// Close releases any resources held by the store.
	Close() error
}

// SearchFilter defines filtering options for guide search.
type SearchFilter struct {
	// Mode restricts results to one conversation mode. Empty matches all.
	Mode chatcore.Mode

	// Language restricts results to chunks written in one language. Empty
	// matches all.
	Language chatcore.Language

	// MinScore filters results below this similarity threshold (0.0-1.0).
	MinScore float32
}

// SearchResult represents a single result from guide search.
type SearchResult struct {
	// ID is the unique identifier of the chunk.
	ID string

	// Score is the similarity score (0.0-1.0, higher is more similar).
	Score float32

	// Content is the guide text.
	Content string

	// Mode is the conversation mode this chunk belongs to.
	Mode chatcore.Mode

	// Language is the language the chunk is written in.
	Language chatcore.Language

	// Section names where in the source guide the chunk came from.
	Section string
}

// GuideChunk is one unit of guide text with its embedding.
type GuideChunk struct {
	// ID identifies the chunk. Empty IDs are assigned on upsert.
	ID string

	Vector   []float32
	Content  string
	Mode     chatcore.Mode
	Language chatcore.Language
	Section  string
}
