package pricelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Directory resolves display names of the external registries. Missing ids
// are simply absent from the result.
type Directory interface {
	SupplierNames(ctx context.Context, ids []string) (map[string]string, error)
	CustomerNames(ctx context.Context, ids []string) (map[string]string, error)
	ProductNames(ctx context.Context, ids []string) (map[string]string, error)
}

// Supplier is a matrix column.
type Supplier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Cell is one resolved (product, supplier) purchase price.
type Cell struct {
	Price         decimal.Decimal `json:"price"`
	ListID        uuid.UUID       `json:"price_list_id"`
	EffectiveDate time.Time       `json:"effective_date"`
}

// Matrix is the per-product table of supplier purchase prices.
type Matrix struct {
	Date       time.Time                  `json:"date"`
	ProductIDs []string                   `json:"product_ids"`
	Suppliers  []Supplier                 `json:"suppliers"`
	Prices     map[string]map[string]Cell `json:"prices"`
	// ProductNames labels the rows; products unknown to the directory are absent.
	ProductNames map[string]string `json:"product_names"`
	// Failed counts pairs whose lookup failed and were reported as absent.
	Failed int `json:"failed"`
}

// MatrixConfig tunes the fan-out.
type MatrixConfig struct {
	Concurrency int
	Collation   language.Tag
}

// MatrixBuilder builds cross-reference matrices.
type MatrixBuilder struct {
	store     Reader
	resolver  PurchaseResolver
	directory Directory
	metrics   Metrics
	logger    *slog.Logger
	cfg       MatrixConfig
}

// PurchaseResolver resolves one (supplier, product) pair. *Resolver implements it.
type PurchaseResolver interface {
	ResolvePurchasePrice(ctx context.Context, supplierID, productID string, date time.Time) (Resolution, error)
}

// NewMatrixBuilder constructs a builder. directory and metrics may be nil.
func NewMatrixBuilder(store Reader, resolver PurchaseResolver, directory Directory, metrics Metrics, logger *slog.Logger, cfg MatrixConfig) *MatrixBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &MatrixBuilder{store: store, resolver: resolver, directory: directory, metrics: metrics, logger: logger, cfg: cfg}
}

// Build resolves, for every product, the purchase price of each supplier that
// ever carried it. Pairs without a price as of date are omitted and failed
// lookups are logged and omitted. Only a cancelled context or a failure to
// enumerate carriers aborts the build.
func (b *MatrixBuilder) Build(ctx context.Context, productIDs []string, date time.Time) (Matrix, error) {
	date = Date(date)
	if date.IsZero() {
		return Matrix{}, ErrEffectiveDateRequired
	}
	products := dedupe(productIDs)
	out := Matrix{
		Date:         date,
		ProductIDs:   products,
		Suppliers:    []Supplier{},
		Prices:       make(map[string]map[string]Cell),
		ProductNames: map[string]string{},
	}
	if len(products) == 0 {
		return out, nil
	}

	carriers, err := b.store.SuppliersCarrying(ctx, products)
	if err != nil {
		return Matrix{}, fmt.Errorf("suppliers carrying: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Concurrency)
	for _, productID := range products {
		for _, supplierID := range carriers[productID] {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				res, err := b.resolver.ResolvePurchasePrice(gctx, supplierID, productID, date)
				switch {
				case err == nil:
					mu.Lock()
					if out.Prices[productID] == nil {
						out.Prices[productID] = make(map[string]Cell)
					}
					out.Prices[productID][supplierID] = Cell{Price: res.Price, ListID: res.ListID, EffectiveDate: res.EffectiveDate}
					mu.Unlock()
					b.observe("hit")
				case errors.Is(err, ErrNotFound):
					b.observe("miss")
				case ctx.Err() != nil:
					return ctx.Err()
				default:
					b.logger.Warn("matrix pair lookup failed",
						slog.String("product_id", productID),
						slog.String("supplier_id", supplierID),
						slog.Any("error", err),
					)
					mu.Lock()
					out.Failed++
					mu.Unlock()
					b.observe("error")
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Matrix{}, err
	}

	out.Suppliers = b.columns(ctx, out.Prices)
	out.ProductNames = b.productNames(ctx, products)
	return out, nil
}

// BuildForList builds the matrix for the items of a sales list. A zero date
// uses the list's effective date.
func (b *MatrixBuilder) BuildForList(ctx context.Context, listID uuid.UUID, date time.Time) (Matrix, error) {
	l, err := b.store.Get(ctx, listID)
	if err != nil {
		return Matrix{}, err
	}
	if l.Kind == KindPurchase {
		return Matrix{}, fmt.Errorf("%w: matrix requires a sales price list", ErrValidation)
	}
	if date.IsZero() {
		date = l.EffectiveDate
	}
	ids := make([]string, 0, len(l.Items))
	for _, it := range l.Items {
		ids = append(ids, it.ProductID)
	}
	return b.Build(ctx, ids, date)
}

func (b *MatrixBuilder) columns(ctx context.Context, prices map[string]map[string]Cell) []Supplier {
	seen := make(map[string]struct{})
	for _, row := range prices {
		for supplierID := range row {
			seen[supplierID] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}

	names := map[string]string{}
	if b.directory != nil && len(ids) > 0 {
		found, err := b.directory.SupplierNames(ctx, ids)
		if err != nil {
			b.logger.Warn("supplier names unavailable", slog.Any("error", err))
		} else if found != nil {
			names = found
		}
	}

	suppliers := make([]Supplier, 0, len(ids))
	for _, id := range ids {
		suppliers = append(suppliers, Supplier{ID: id, Name: names[id]})
	}
	col := collate.New(b.cfg.Collation, collate.IgnoreCase)
	sort.SliceStable(suppliers, func(i, j int) bool {
		a, c := sortName(suppliers[i]), sortName(suppliers[j])
		if cmp := col.CompareString(a, c); cmp != 0 {
			return cmp < 0
		}
		return suppliers[i].ID < suppliers[j].ID
	})
	return suppliers
}

func (b *MatrixBuilder) productNames(ctx context.Context, ids []string) map[string]string {
	if b.directory == nil {
		return map[string]string{}
	}
	names, err := b.directory.ProductNames(ctx, ids)
	if err != nil || names == nil {
		if err != nil {
			b.logger.Warn("product names unavailable", slog.Any("error", err))
		}
		return map[string]string{}
	}
	return names
}

func (b *MatrixBuilder) observe(outcome string) {
	if b.metrics != nil {
		b.metrics.ObserveMatrixPair(outcome)
	}
}

func sortName(s Supplier) string {
	if strings.TrimSpace(s.Name) == "" {
		return s.ID
	}
	return s.Name
}

func dedupe(ids []string) []string {
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
	return out
}
