package pricelist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source names which resolution path produced a price.
type Source string

const (
	SourcePurchase Source = "purchase"
	SourceCustomer Source = "customer"
	SourceGeneral  Source = "general"
)

// Resolution is an authoritative price together with the list it came from.
type Resolution struct {
	ProductID     string          `json:"product_id"`
	Price         decimal.Decimal `json:"price"`
	Source        Source          `json:"source"`
	Scope         Scope           `json:"scope"`
	ListID        uuid.UUID       `json:"price_list_id"`
	EffectiveDate time.Time       `json:"effective_date"`
}

// Metrics receives resolution and matrix outcomes. A nil Metrics is allowed.
type Metrics interface {
	ObserveResolution(source, outcome string)
	ObserveMatrixPair(outcome string)
}

// Resolver answers temporal price lookups. It never caches: every call reads
// the latest committed state.
type Resolver struct {
	store   Reader
	metrics Metrics
}

// NewResolver constructs a Resolver over store.
func NewResolver(store Reader, metrics Metrics) *Resolver {
	return &Resolver{store: store, metrics: metrics}
}

// ResolvePurchasePrice returns the supplier's price for productID as of date.
func (r *Resolver) ResolvePurchasePrice(ctx context.Context, supplierID, productID string, date time.Time) (Resolution, error) {
	scope, err := PurchaseScope(supplierID)
	if err != nil {
		return Resolution{}, err
	}
	res, err := r.resolve(ctx, scope, productID, date)
	if err == nil {
		res.Source = SourcePurchase
	}
	r.observe(SourcePurchase, err)
	return res, err
}

// ResolveSalesPrice returns the sales price of productID as of date. A customer
// list containing the product overrides the general list; otherwise the
// general list applies. customerID may be empty.
func (r *Resolver) ResolveSalesPrice(ctx context.Context, customerID, productID string, date time.Time) (Resolution, error) {
	if strings.TrimSpace(customerID) != "" {
		scope, err := CustomerScope(customerID)
		if err != nil {
			return Resolution{}, err
		}
		res, err := r.resolve(ctx, scope, productID, date)
		switch {
		case err == nil:
			res.Source = SourceCustomer
			r.observe(SourceCustomer, nil)
			return res, nil
		case !errors.Is(err, ErrNotFound):
			r.observe(SourceCustomer, err)
			return Resolution{}, err
		}
	}
	res, err := r.resolve(ctx, GeneralScope(), productID, date)
	if err == nil {
		res.Source = SourceGeneral
	}
	r.observe(SourceGeneral, err)
	return res, err
}

// resolve looks productID up in the scope's version applicable on date. A line
// whose row date falls after date is not effective yet, so the lookup moves on
// to the next older version of the scope. A version that does not price the
// product at all ends the walk.
func (r *Resolver) resolve(ctx context.Context, scope Scope, productID string, date time.Time) (Resolution, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Resolution{}, fmt.Errorf("%w: product id required", ErrValidation)
	}
	date = Date(date)
	if date.IsZero() {
		return Resolution{}, ErrEffectiveDateRequired
	}
	history, err := r.store.History(ctx, scope, date)
	if err != nil {
		return Resolution{}, fmt.Errorf("history %s: %w", scope, err)
	}
	for _, l := range history {
		it, ok := l.Item(productID)
		if !ok {
			break
		}
		if it.EffectiveFrom(l.EffectiveDate).After(date) {
			continue
		}
		return Resolution{
			ProductID:     productID,
			Price:         it.Price,
			Scope:         scope,
			ListID:        l.ID,
			EffectiveDate: it.EffectiveFrom(l.EffectiveDate),
		}, nil
	}
	return Resolution{}, ErrNotFound
}

func (r *Resolver) observe(source Source, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "hit"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		outcome = "miss"
	default:
		outcome = "error"
	}
	r.metrics.ObserveResolution(string(source), outcome)
}
