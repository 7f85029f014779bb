// Package directory resolves display names of the external supplier, customer
// and product registries. Names are presentation data only.
package directory

import (
	"context"
	"sort"
	"strings"
)

// Entity identifies one of the external registries.
type Entity string

const (
	Suppliers Entity = "supplier"
	Customers Entity = "customer"
	Products  Entity = "product"
)

// Source loads names for ids of one entity. Unknown ids are omitted.
type Source interface {
	Names(ctx context.Context, entity Entity, ids []string) (map[string]string, error)
}

// Static is an in-memory Source and name lookup.
type Static struct {
	names map[Entity]map[string]string
}

// NewStatic builds an empty Static directory.
func NewStatic() *Static {
	return &Static{names: make(map[Entity]map[string]string)}
}

// Add registers a name. Static is not safe for concurrent Add.
func (s *Static) Add(entity Entity, id, name string) *Static {
	if s.names[entity] == nil {
		s.names[entity] = make(map[string]string)
	}
	s.names[entity][id] = name
	return s
}

// Names implements Source.
func (s *Static) Names(ctx context.Context, entity Entity, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if name, ok := s.names[entity][id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

// SupplierNames returns supplier names keyed by id.
func (s *Static) SupplierNames(ctx context.Context, ids []string) (map[string]string, error) {
	return s.Names(ctx, Suppliers, ids)
}

func (s *Static) CustomerNames(ctx context.Context, ids []string) (map[string]string, error) {
	return s.Names(ctx, Customers, ids)
}

func (s *Static) ProductNames(ctx context.Context, ids []string) (map[string]string, error) {
	return s.Names(ctx, Products, ids)
}

func normalise(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
