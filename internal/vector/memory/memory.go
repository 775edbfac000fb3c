// Package memory implements vector.Transport with an in-process store. It
// backs tests and local development where no Qdrant instance is available.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/efebarandurmaz/docquery/internal/vector"
)

type collection struct {
	dimension uint64
	points    map[string]vector.Point
}

// Transport is an in-memory vector.Transport using brute-force cosine
// similarity.
type Transport struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New creates an empty in-memory transport.
func New() *Transport {
	return &Transport{collections: make(map[string]*collection)}
}

func (t *Transport) CollectionExists(ctx context.Context, name string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.collections[name]
	return ok, nil
}

func (t *Transport) CreateCollection(ctx context.Context, name string, dimension uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.collections[name]; ok {
		return fmt.Errorf("collection %q already exists", name)
	}
	t.collections[name] = &collection{
		dimension: dimension,
		points:    make(map[string]vector.Point),
	}
	return nil
}

func (t *Transport) DeleteCollection(ctx context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.collections[name]; !ok {
		return fmt.Errorf("collection %q not found", name)
	}
	delete(t.collections, name)
	return nil
}

func (t *Transport) CollectionInfo(ctx context.Context, name string) (*vector.CollectionInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q not found", name)
	}
	return &vector.CollectionInfo{
		Name:       name,
		PointCount: uint64(len(c.points)),
		Dimension:  c.dimension,
	}, nil
}

func (t *Transport) Upsert(ctx context.Context, name string, points []vector.Point) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.collections[name]
	if !ok {
		return fmt.Errorf("collection %q not found", name)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != c.dimension {
			return fmt.Errorf("point %s: dimension %d, collection wants %d", p.ID, len(p.Vector), c.dimension)
		}
		c.points[p.ID] = p
	}
	return nil
}

func (t *Transport) Search(ctx context.Context, name string, vec []float32, topK uint64) ([]vector.SearchResult, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.collections[name]
	if !ok {
		return nil, fmt.Errorf("collection %q not found", name)
	}

	results := make([]vector.SearchResult, 0, len(c.points))
	for _, p := range c.points {
		payload := make(map[string]string, len(p.Payload))
		text := ""
		for k, v := range p.Payload {
			if k == vector.PayloadTextKey {
				text = v
				continue
			}
			payload[k] = v
		}
		results = append(results, vector.SearchResult{
			ID:      p.ID,
			Score:   cosine(vec, p.Vector),
			Text:    text,
			Payload: payload,
		})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if uint64(len(results)) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (t *Transport) Close() error { return nil }

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

var _ vector.Transport = (*Transport)(nil)
