package pricelist

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/pricebook/internal/platform/db"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema creates the price list tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("pricelist: ensure schema: %w", err)
	}
	return nil
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PostgresStore provides PostgreSQL backed persistence.
type PostgresStore struct {
	queries
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{queries: queries{db: pool}, pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{queries: queries{db: tx}})
	})
	if err != nil && db.IsTransient(err) && !Retryable(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// CurrentViolations implements IntegrityScanner.
func (s *PostgresStore) CurrentViolations(ctx context.Context) ([]ScopeViolation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT kind, scope_key, array_agg(id::text ORDER BY seq)
		FROM price_lists
		WHERE is_current
		GROUP BY kind, scope_key
		HAVING COUNT(*) > 1
		ORDER BY kind, scope_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScopeViolation
	for rows.Next() {
		var kind, key string
		var ids []string
		if err := rows.Scan(&kind, &key, &ids); err != nil {
			return nil, err
		}
		v := ScopeViolation{Scope: Scope{Kind: Kind(kind), Key: key}}
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				return nil, err
			}
			v.Current = append(v.Current, id)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

const listColumns = `id::text, seq, kind, scope_key, title, effective_date, status, is_current, superseded_at, created_at, updated_at`

type queries struct {
	db dbtx
}

func scanList(row pgx.Row) (PriceList, error) {
	var (
		l          PriceList
		id         string
		kind       string
		status     string
		effective  pgtype.Date
		superseded pgtype.Timestamptz
	)
	if err := row.Scan(&id, &l.Seq, &kind, &l.ScopeKey, &l.Title, &effective, &status, &l.IsCurrent, &superseded, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return PriceList{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return PriceList{}, err
	}
	l.ID = parsed
	l.Kind = Kind(kind)
	l.Status = Status(status)
	if effective.Valid {
		l.EffectiveDate = Date(effective.Time)
	}
	if superseded.Valid {
		t := superseded.Time
		l.SupersededAt = &t
	}
	l.Items = []Item{}
	return l, nil
}

// one loads a single list header plus its items.
func (q queries) one(ctx context.Context, sql string, args ...any) (PriceList, error) {
	l, err := scanList(q.db.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PriceList{}, ErrNotFound
		}
		return PriceList{}, err
	}
	lists := []PriceList{l}
	if err := q.attachItems(ctx, lists); err != nil {
		return PriceList{}, err
	}
	return lists[0], nil
}

func (q queries) many(ctx context.Context, sql string, args ...any) ([]PriceList, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	var lists []PriceList
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		lists = append(lists, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := q.attachItems(ctx, lists); err != nil {
		return nil, err
	}
	return lists, nil
}

func (q queries) attachItems(ctx context.Context, lists []PriceList) error {
	if len(lists) == 0 {
		return nil
	}
	ids := make([]string, len(lists))
	index := make(map[string]int, len(lists))
	for i, l := range lists {
		ids[i] = l.ID.String()
		index[ids[i]] = i
	}
	rows, err := q.db.Query(ctx, `
		SELECT price_list_id::text, product_id, price::text, row_date
		FROM price_list_items
		WHERE price_list_id = ANY($1::uuid[])
		ORDER BY price_list_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var listID, productID, price string
		var rowDate pgtype.Date
		if err := rows.Scan(&listID, &productID, &price, &rowDate); err != nil {
			return err
		}
		amount, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("pricelist: parse price %q: %w", price, err)
		}
		it := Item{ProductID: productID, Price: amount}
		if rowDate.Valid {
			d := Date(rowDate.Time)
			it.RowDate = &d
		}
		i := index[listID]
		lists[i].Items = append(lists[i].Items, it)
	}
	return rows.Err()
}

func (q queries) Get(ctx context.Context, id uuid.UUID) (PriceList, error) {
	return q.one(ctx, `SELECT `+listColumns+` FROM price_lists WHERE id = $1`, id)
}

func (q queries) GetCurrent(ctx context.Context, scope Scope) (PriceList, error) {
	return q.one(ctx, `SELECT `+listColumns+` FROM price_lists WHERE kind = $1 AND scope_key = $2 AND is_current`,
		string(scope.Kind), scope.Key)
}

func (q queries) GetAsOf(ctx context.Context, scope Scope, date time.Time) (PriceList, error) {
	return q.one(ctx, `
		SELECT `+listColumns+` FROM price_lists
		WHERE kind = $1 AND scope_key = $2 AND status = 'SAVED' AND effective_date <= $3
		ORDER BY effective_date DESC, seq DESC
		LIMIT 1`, string(scope.Kind), scope.Key, Date(date))
}

func (q queries) History(ctx context.Context, scope Scope, date time.Time) ([]PriceList, error) {
	return q.many(ctx, `
		SELECT `+listColumns+` FROM price_lists
		WHERE kind = $1 AND scope_key = $2 AND status = 'SAVED' AND effective_date <= $3
		ORDER BY effective_date DESC, seq DESC`, string(scope.Kind), scope.Key, Date(date))
}

func (q queries) Versions(ctx context.Context, scope Scope) ([]PriceList, error) {
	return q.many(ctx, `
		SELECT `+listColumns+` FROM price_lists
		WHERE kind = $1 AND scope_key = $2
		ORDER BY seq DESC`, string(scope.Kind), scope.Key)
}

func (q queries) SuppliersCarrying(ctx context.Context, productIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(productIDs) == 0 {
		return out, nil
	}
	rows, err := q.db.Query(ctx, `
		SELECT DISTINCT i.product_id, l.scope_key
		FROM price_list_items i
		JOIN price_lists l ON l.id = i.price_list_id
		WHERE l.kind = 'PURCHASE' AND l.status = 'SAVED' AND i.product_id = ANY($1::text[])
		ORDER BY 1, 2`, productIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var productID, supplierID string
		if err := rows.Scan(&productID, &supplierID); err != nil {
			return nil, err
		}
		out[productID] = append(out[productID], supplierID)
	}
	return out, rows.Err()
}

type pgTx struct {
	queries
}

func (tx *pgTx) FindEditable(ctx context.Context, scope Scope, date time.Time) (PriceList, error) {
	return tx.one(ctx, `
		SELECT `+listColumns+` FROM price_lists
		WHERE kind = $1 AND scope_key = $2 AND effective_date = $3
		  AND NOT is_current AND superseded_at IS NULL
		ORDER BY (status = 'DRAFT') DESC, seq DESC
		LIMIT 1`, string(scope.Kind), scope.Key, Date(date))
}

func (tx *pgTx) FindDraft(ctx context.Context, scope Scope) (PriceList, error) {
	return tx.one(ctx, `
		SELECT `+listColumns+` FROM price_lists
		WHERE kind = $1 AND scope_key = $2 AND status = 'DRAFT'
		ORDER BY seq DESC
		LIMIT 1`, string(scope.Kind), scope.Key)
}

func (tx *pgTx) CreateDraft(ctx context.Context, scope Scope, date time.Time, title string) (PriceList, bool, error) {
	date = Date(date)
	if date.IsZero() {
		return PriceList{}, false, ErrEffectiveDateRequired
	}
	if _, err := tx.db.Exec(ctx, `INSERT INTO price_list_scopes (kind, scope_key) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		string(scope.Kind), scope.Key); err != nil {
		return PriceList{}, false, mapWriteErr(err)
	}
	id := uuid.New()
	tag, err := tx.db.Exec(ctx, `
		INSERT INTO price_lists (id, kind, scope_key, title, effective_date, status)
		VALUES ($1, $2, $3, $4, $5, 'DRAFT')
		ON CONFLICT (kind, scope_key, effective_date) WHERE status = 'DRAFT' DO NOTHING`,
		id, string(scope.Kind), scope.Key, title, date)
	if err != nil {
		return PriceList{}, false, mapWriteErr(err)
	}
	if tag.RowsAffected() == 1 {
		l, err := tx.Get(ctx, id)
		return l, true, err
	}
	existing, err := tx.one(ctx, `
		SELECT `+listColumns+` FROM price_lists
		WHERE kind = $1 AND scope_key = $2 AND effective_date = $3 AND status = 'DRAFT'`,
		string(scope.Kind), scope.Key, date)
	if errors.Is(err, ErrNotFound) {
		// Committed by a concurrent transaction after our snapshot was taken.
		return PriceList{}, false, ErrConflict
	}
	return existing, false, err
}

func (tx *pgTx) UpdateHeader(ctx context.Context, list PriceList) error {
	tag, err := tx.db.Exec(ctx, `
		UPDATE price_lists SET title = $2, effective_date = $3, status = $4, updated_at = NOW()
		WHERE id = $1`, list.ID, list.Title, Date(list.EffectiveDate), string(list.Status))
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *pgTx) touch(ctx context.Context, listID uuid.UUID) error {
	tag, err := tx.db.Exec(ctx, `UPDATE price_lists SET updated_at = NOW() WHERE id = $1`, listID)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *pgTx) InsertItem(ctx context.Context, listID uuid.UUID, item Item) error {
	if err := tx.touch(ctx, listID); err != nil {
		return err
	}
	_, err := tx.db.Exec(ctx, `
		INSERT INTO price_list_items (price_list_id, product_id, price, row_date, position)
		VALUES ($1, $2, $3::text::numeric, $4,
		        COALESCE((SELECT MAX(position) + 1 FROM price_list_items WHERE price_list_id = $1), 0))`,
		listID, item.ProductID, item.Price.String(), dateParam(item.RowDate))
	return mapWriteErr(err)
}

func (tx *pgTx) UpsertItem(ctx context.Context, listID uuid.UUID, item Item) error {
	if err := tx.touch(ctx, listID); err != nil {
		return err
	}
	_, err := tx.db.Exec(ctx, `
		INSERT INTO price_list_items (price_list_id, product_id, price, row_date, position)
		VALUES ($1, $2, $3::text::numeric, $4,
		        COALESCE((SELECT MAX(position) + 1 FROM price_list_items WHERE price_list_id = $1), 0))
		ON CONFLICT (price_list_id, product_id)
		DO UPDATE SET price = EXCLUDED.price, row_date = EXCLUDED.row_date`,
		listID, item.ProductID, item.Price.String(), dateParam(item.RowDate))
	return mapWriteErr(err)
}

func (tx *pgTx) RemoveItem(ctx context.Context, listID uuid.UUID, productID string) error {
	if err := tx.touch(ctx, listID); err != nil {
		return err
	}
	tag, err := tx.db.Exec(ctx, `DELETE FROM price_list_items WHERE price_list_id = $1 AND product_id = $2`, listID, productID)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (tx *pgTx) ReplaceItems(ctx context.Context, listID uuid.UUID, items []Item) error {
	if err := tx.touch(ctx, listID); err != nil {
		return err
	}
	keep := make([]string, len(items))
	for i, it := range items {
		keep[i] = it.ProductID
	}
	if _, err := tx.db.Exec(ctx, `DELETE FROM price_list_items WHERE price_list_id = $1 AND product_id <> ALL($2::text[])`,
		listID, keep); err != nil {
		return mapWriteErr(err)
	}
	for i, it := range items {
		_, err := tx.db.Exec(ctx, `
			INSERT INTO price_list_items (price_list_id, product_id, price, row_date, position)
			VALUES ($1, $2, $3::text::numeric, $4, $5)
			ON CONFLICT (price_list_id, product_id)
			DO UPDATE SET price = EXCLUDED.price, row_date = EXCLUDED.row_date, position = EXCLUDED.position`,
			listID, it.ProductID, it.Price.String(), dateParam(it.RowDate), i)
		if err != nil {
			return mapWriteErr(err)
		}
	}
	return nil
}

func (tx *pgTx) SetCurrent(ctx context.Context, listID uuid.UUID) (PriceList, error) {
	target, err := tx.one(ctx, `SELECT `+listColumns+` FROM price_lists WHERE id = $1 FOR UPDATE`, listID)
	if err != nil {
		return PriceList{}, mapPromotionErr(err)
	}
	if err := ValidatePromotable(target); err != nil {
		return PriceList{}, err
	}
	if target.IsCurrent {
		return target, nil
	}
	kind, key := string(target.Kind), target.ScopeKey
	var locked int
	if err := tx.db.QueryRow(ctx, `
		SELECT 1 FROM price_list_scopes WHERE kind = $1 AND scope_key = $2 FOR UPDATE NOWAIT`,
		kind, key).Scan(&locked); err != nil {
		return PriceList{}, mapPromotionErr(err)
	}
	if _, err := tx.db.Exec(ctx, `
		UPDATE price_lists SET is_current = FALSE, superseded_at = NOW(), updated_at = NOW()
		WHERE kind = $1 AND scope_key = $2 AND is_current AND id <> $3`, kind, key, listID); err != nil {
		return PriceList{}, mapPromotionErr(err)
	}
	if _, err := tx.db.Exec(ctx, `
		UPDATE price_lists SET is_current = TRUE, status = 'SAVED', superseded_at = NULL, updated_at = NOW()
		WHERE id = $1`, listID); err != nil {
		return PriceList{}, mapPromotionErr(err)
	}
	return tx.Get(ctx, listID)
}

func dateParam(d *time.Time) any {
	if d == nil {
		return nil
	}
	return Date(*d)
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	switch db.Code(err) {
	case db.CodeUniqueViolation:
		switch db.Constraint(err) {
		case "price_lists_open_draft":
			return ErrDuplicateDraft
		case "price_lists_one_current":
			return ErrConcurrentPromotion
		case "price_list_items_pkey":
			return ErrDuplicateProduct
		}
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case "23503":
		return ErrNotFound
	case "23514", "22003":
		return fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if db.IsTransient(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func mapPromotionErr(err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if db.IsTransient(err) || db.Constraint(err) == "price_lists_one_current" {
		return fmt.Errorf("%w: %v", ErrConcurrentPromotion, err)
	}
	return err
}
