// Package vector provides chunk storage and similarity search over a vector
// database, with retry and idempotent collection bootstrap handled by the
// Gateway so callers never deal with transport failures directly.
package vector

import "context"

// Point is one embedded chunk ready for storage.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]string
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID      string            `json:"id"`
	Score   float32           `json:"score"`
	Text    string            `json:"text"`
	Payload map[string]string `json:"payload,omitempty"`
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount uint64 `json:"point_count"`
	Dimension  uint64 `json:"dimension"`
}

// Transport is the raw vector-database surface. Implementations perform
// single attempts with no retry; the Gateway layers policy on top.
type Transport interface {
	// CollectionExists reports whether the named collection is present.
	CollectionExists(ctx context.Context, name string) (bool, error)
	// CreateCollection creates a collection for cosine-similarity search over
	// vectors of the given dimension.
	CreateCollection(ctx context.Context, name string, dimension uint64) error
	// DeleteCollection removes the named collection and all its points.
	DeleteCollection(ctx context.Context, name string) error
	// CollectionInfo returns point count and vector dimension for the collection.
	CollectionInfo(ctx context.Context, name string) (*CollectionInfo, error)
	// Upsert inserts or replaces points in the collection.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search returns the topK nearest points by cosine similarity.
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]SearchResult, error)
	// Close releases the underlying connection.
	Close() error
}

// PayloadTextKey is the payload field holding the chunk text.
const PayloadTextKey = "text"
