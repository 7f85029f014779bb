package pricelist

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reader exposes the read paths of the store. Every read observes the latest
// committed state.
type Reader interface {
	Get(ctx context.Context, id uuid.UUID) (PriceList, error)
	GetCurrent(ctx context.Context, scope Scope) (PriceList, error)
	// GetAsOf returns the saved version with the latest effective date on or
	// before date, ties broken by creation order.
	GetAsOf(ctx context.Context, scope Scope, date time.Time) (PriceList, error)
	// History returns every saved version effective on or before date, newest first.
	History(ctx context.Context, scope Scope, date time.Time) ([]PriceList, error)
	// Versions returns all lists of a scope including drafts, newest first.
	Versions(ctx context.Context, scope Scope) ([]PriceList, error)
	// SuppliersCarrying maps each product to the suppliers whose saved purchase
	// lists ever priced it.
	SuppliersCarrying(ctx context.Context, productIDs []string) (map[string][]string, error)
}

// TxStore is the transactional view handed to WithTx callbacks.
type TxStore interface {
	Reader
	// FindEditable returns the editable list of scope at date: a DRAFT first,
	// then the latest SAVED non-current version.
	FindEditable(ctx context.Context, scope Scope, date time.Time) (PriceList, error)
	// FindDraft returns the latest DRAFT of the scope at any date.
	FindDraft(ctx context.Context, scope Scope) (PriceList, error)
	// CreateDraft is get-or-create keyed on (kind, scopeKey, effectiveDate, DRAFT).
	CreateDraft(ctx context.Context, scope Scope, date time.Time, title string) (PriceList, bool, error)
	UpdateHeader(ctx context.Context, list PriceList) error
	InsertItem(ctx context.Context, listID uuid.UUID, item Item) error
	UpsertItem(ctx context.Context, listID uuid.UUID, item Item) error
	RemoveItem(ctx context.Context, listID uuid.UUID, productID string) error
	ReplaceItems(ctx context.Context, listID uuid.UUID, items []Item) error
	// SetCurrent demotes the scope's current list and promotes listID, failing
	// with ErrConcurrentPromotion when another promotion on the scope wins.
	SetCurrent(ctx context.Context, listID uuid.UUID) (PriceList, error)
}

// Store is the durable price list store.
type Store interface {
	Reader
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
}

// ScopeViolation describes a scope holding more than one current list.
type ScopeViolation struct {
	Scope   Scope
	Current []uuid.UUID
}

// IntegrityScanner is implemented by stores able to audit the single-current
// invariant.
type IntegrityScanner interface {
	CurrentViolations(ctx context.Context) ([]ScopeViolation, error)
}
