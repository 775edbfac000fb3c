package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// callTimeout bounds each individual transport call so a hung connection
// cannot stall the whole pipeline.
const callTimeout = 30 * time.Second

// Gateway wraps a Transport with retry, per-call timeouts, and idempotent
// collection bootstrap. All store access goes through it.
type Gateway struct {
	transport Transport
	policy    RetryPolicy
	logger    *slog.Logger
}

// NewGateway creates a Gateway over the given transport.
func NewGateway(transport Transport, policy RetryPolicy, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{transport: transport, policy: policy, logger: logger}
}

func (g *Gateway) call(ctx context.Context, op func(context.Context) error) error {
	return g.policy.run(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, callTimeout)
		defer cancel()
		return op(attemptCtx)
	})
}

// EnsureCollection creates the collection if it does not exist. The operation
// is idempotent: a concurrent create racing to the same name succeeds, and a
// failed existence check is treated as "exists" so that a flaky check cannot
// block ingestion — the subsequent upsert recovers if the collection truly is
// missing.
func (g *Gateway) EnsureCollection(ctx context.Context, name string, dimension uint64) error {
	var exists bool
	err := g.call(ctx, func(ctx context.Context) error {
		var checkErr error
		exists, checkErr = g.transport.CollectionExists(ctx, name)
		return checkErr
	})
	if err != nil {
		g.logger.Warn("collection existence check failed, assuming it exists",
			"collection", name, "error", err)
		return nil
	}
	if exists {
		return nil
	}

	err = g.call(ctx, func(ctx context.Context) error {
		createErr := g.transport.CreateCollection(ctx, name, dimension)
		if createErr != nil && Classify(createErr) == KindAlreadyExists {
			return nil
		}
		return createErr
	})
	if err != nil {
		return fmt.Errorf("create collection %q: %w", name, err)
	}
	g.logger.Info("created collection", "collection", name, "dimension", dimension)
	return nil
}

// Upsert stores points, creating the collection on the fly when the store
// reports it missing. Vector dimension is taken from the first point.
func (g *Gateway) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	dimension := uint64(len(points[0].Vector))

	err := g.call(ctx, func(ctx context.Context) error {
		upsertErr := g.transport.Upsert(ctx, collection, points)
		if upsertErr == nil {
			return nil
		}
		if Classify(upsertErr) != KindNotFound {
			return upsertErr
		}

		g.logger.Info("collection missing on upsert, creating it",
			"collection", collection, "dimension", dimension)
		if createErr := g.transport.CreateCollection(ctx, collection, dimension); createErr != nil {
			if Classify(createErr) != KindAlreadyExists {
				return createErr
			}
		}
		return g.transport.Upsert(ctx, collection, points)
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %q: %w", len(points), collection, err)
	}
	return nil
}

// Search returns the topK most similar points from the collection.
func (g *Gateway) Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]SearchResult, error) {
	var results []SearchResult
	err := g.call(ctx, func(ctx context.Context) error {
		var searchErr error
		results, searchErr = g.transport.Search(ctx, collection, vector, topK)
		return searchErr
	})
	if err != nil {
		if Classify(err) == KindNotFound {
			return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
		}
		return nil, fmt.Errorf("search %q: %w", collection, err)
	}
	return results, nil
}

// DeleteCollection removes the collection. Deleting a missing collection is
// not an error.
func (g *Gateway) DeleteCollection(ctx context.Context, collection string) error {
	err := g.call(ctx, func(ctx context.Context) error {
		delErr := g.transport.DeleteCollection(ctx, collection)
		if delErr != nil && Classify(delErr) == KindNotFound {
			return nil
		}
		return delErr
	})
	if err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	return nil
}

// CollectionInfo returns metadata for the collection.
func (g *Gateway) CollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error) {
	var info *CollectionInfo
	err := g.call(ctx, func(ctx context.Context) error {
		var infoErr error
		info, infoErr = g.transport.CollectionInfo(ctx, collection)
		return infoErr
	})
	if err != nil {
		if Classify(err) == KindNotFound {
			return nil, fmt.Errorf("%w: %q", ErrCollectionNotFound, collection)
		}
		return nil, fmt.Errorf("collection info %q: %w", collection, err)
	}
	return info, nil
}

// Close releases the transport connection.
func (g *Gateway) Close() error {
	return g.transport.Close()
}
