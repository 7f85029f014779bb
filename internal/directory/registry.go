package directory

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"
)

// Registry resolves names through the cache, collapsing concurrent misses for
// the same id set into one Source call. Cache failures degrade to the Source.
type Registry struct {
	source Source
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewRegistry builds a Registry. cache may be nil.
func NewRegistry(source Source, cache *Cache, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{source: source, cache: cache, logger: logger}
}

// SupplierNames returns supplier names keyed by id.
func (r *Registry) SupplierNames(ctx context.Context, ids []string) (map[string]string, error) {
	return r.Names(ctx, Suppliers, ids)
}

// CustomerNames returns customer names keyed by id.
func (r *Registry) CustomerNames(ctx context.Context, ids []string) (map[string]string, error) {
	return r.Names(ctx, Customers, ids)
}

// ProductNames returns product names keyed by id.
func (r *Registry) ProductNames(ctx context.Context, ids []string) (map[string]string, error) {
	return r.Names(ctx, Products, ids)
}

// Names resolves ids of entity. Unknown ids are omitted.
func (r *Registry) Names(ctx context.Context, entity Entity, ids []string) (map[string]string, error) {
	ids = normalise(ids)
	if len(ids) == 0 {
		return map[string]string{}, nil
	}
	out, misses, err := r.cache.Get(ctx, entity, ids)
	if err != nil {
		r.logger.Warn("directory cache read failed", slog.String("entity", string(entity)), slog.Any("error", err))
		out, misses = map[string]string{}, ids
	}
	if len(misses) == 0 {
		return out, nil
	}

	flightKey := string(entity) + ":" + strings.Join(misses, ",")
	ch := r.group.DoChan(flightKey, func() (interface{}, error) {
		names, err := r.source.Names(context.WithoutCancel(ctx), entity, misses)
		if err != nil {
			return nil, err
		}
		if err := r.cache.Put(context.WithoutCancel(ctx), entity, misses, names); err != nil {
			r.logger.Warn("directory cache write failed", slog.String("entity", string(entity)), slog.Any("error", err))
		}
		return names, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		for id, name := range res.Val.(map[string]string) {
			out[id] = name
		}
		return out, nil
	}
}
