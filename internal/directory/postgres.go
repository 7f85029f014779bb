package directory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tables = map[Entity]string{
	Suppliers: "suppliers",
	Customers: "customers",
	Products:  "products",
}

// PostgresSource reads names from the registry tables owned by the
// surrounding application.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource returns a Source backed by pool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Names implements Source.
func (s *PostgresSource) Names(ctx context.Context, entity Entity, ids []string) (map[string]string, error) {
	table, ok := tables[entity]
	if !ok {
		return nil, fmt.Errorf("directory: unknown entity %q", entity)
	}
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	// table comes from the fixed map above.
	rows, err := s.pool.Query(ctx, "SELECT id::text, name FROM "+pgx.Identifier{table}.Sanitize()+" WHERE id::text = ANY($1::text[])", ids)
	if err != nil {
		return nil, fmt.Errorf("directory: query %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[id] = name
	}
	return out, rows.Err()
}
