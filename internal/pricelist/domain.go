package pricelist

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind identifies which family of price list a document belongs to.
type Kind string

const (
	KindPurchase      Kind = "PURCHASE"
	KindSalesGeneral  Kind = "SALES_GENERAL"
	KindSalesCustomer Kind = "SALES_CUSTOMER"
)

// GeneralScopeKey is the sentinel key of the single general sales scope.
const GeneralScopeKey = "*"

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindPurchase, KindSalesGeneral, KindSalesCustomer:
		return true
	}
	return false
}

// Status of a price list document.
type Status string

const (
	StatusDraft Status = "DRAFT"
	StatusSaved Status = "SAVED"
)

// Scope is the (kind, scopeKey) pair a price list belongs to.
type Scope struct {
	Kind Kind   `json:"kind"`
	Key  string `json:"scope_key"`
}

// NewScope validates and normalises a scope. The general sales scope always
// carries GeneralScopeKey regardless of the key supplied.
func NewScope(kind Kind, key string) (Scope, error) {
	if !kind.Valid() {
		return Scope{}, fmt.Errorf("%w: unknown kind %q", ErrValidation, kind)
	}
	key = strings.TrimSpace(key)
	if kind == KindSalesGeneral {
		return Scope{Kind: kind, Key: GeneralScopeKey}, nil
	}
	if key == "" || key == GeneralScopeKey {
		return Scope{}, fmt.Errorf("%w: scope key required for %s", ErrValidation, kind)
	}
	return Scope{Kind: kind, Key: key}, nil
}

// PurchaseScope returns the purchase scope of a supplier.
func PurchaseScope(supplierID string) (Scope, error) {
	return NewScope(KindPurchase, supplierID)
}

// CustomerScope returns the sales scope of a customer.
func CustomerScope(customerID string) (Scope, error) {
	return NewScope(KindSalesCustomer, customerID)
}

// GeneralScope returns the general sales scope.
func GeneralScope() Scope {
	return Scope{Kind: KindSalesGeneral, Key: GeneralScopeKey}
}

func (s Scope) String() string {
	return string(s.Kind) + ":" + s.Key
}

// PriceList is one version of a price list document.
type PriceList struct {
	ID            uuid.UUID  `json:"id"`
	Seq           int64      `json:"seq"`
	Kind          Kind       `json:"kind"`
	ScopeKey      string     `json:"scope_key"`
	Title         string     `json:"title"`
	EffectiveDate time.Time  `json:"effective_date"`
	Status        Status     `json:"status"`
	IsCurrent     bool       `json:"is_current"`
	SupersededAt  *time.Time `json:"superseded_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	Items         []Item     `json:"items"`
}

// Item is a priced product line within a price list.
type Item struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	RowDate   *time.Time      `json:"row_date,omitempty"`
}

// Scope returns the scope of the list.
func (p PriceList) Scope() Scope {
	return Scope{Kind: p.Kind, Key: p.ScopeKey}
}

// Editable reports whether the list may still be mutated in place. Current and
// superseded lists are frozen so history stays resolvable.
func (p PriceList) Editable() bool {
	return !p.IsCurrent && p.SupersededAt == nil
}

// Saved reports whether the list takes part in temporal resolution.
func (p PriceList) Saved() bool {
	return p.Status == StatusSaved
}

// Item returns the line for productID.
func (p PriceList) Item(productID string) (Item, bool) {
	for _, it := range p.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return Item{}, false
}

// Clone returns a deep copy of the list.
func (p PriceList) Clone() PriceList {
	out := p
	if p.SupersededAt != nil {
		t := *p.SupersededAt
		out.SupersededAt = &t
	}
	out.Items = cloneItems(p.Items)
	return out
}

// EffectiveFrom is the first date the line applies: its row date when set and
// later than the list date, otherwise the list date. A row date can defer a
// line but never start it before the list itself applies, so an earlier row
// date is clamped to listDate.
func (it Item) EffectiveFrom(listDate time.Time) time.Time {
	if it.RowDate != nil && it.RowDate.After(listDate) {
		return *it.RowDate
	}
	return listDate
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it
		if it.RowDate != nil {
			d := *it.RowDate
			out[i].RowDate = &d
		}
	}
	return out
}

// Date truncates t to a calendar date at UTC midnight.
func Date(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(raw string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q", ErrValidation, raw)
	}
	return Date(t), nil
}

// Prices are stored as NUMERIC(PricePrecision, PriceScale).
const (
	PricePrecision = 14
	PriceScale     = 4
)

var maxPrice = decimal.New(1, PricePrecision-PriceScale)

// ValidateItems checks a candidate item set. Negative prices and prices the
// storage column cannot hold exactly are never accepted; when promote is set
// every price must also be strictly positive.
func ValidateItems(items []Item, promote bool) error {
	seen := make(map[string]struct{}, len(items))
	for i, it := range items {
		if strings.TrimSpace(it.ProductID) == "" {
			return fmt.Errorf("line %d: %w: product id required", i+1, ErrValidation)
		}
		if _, dup := seen[it.ProductID]; dup {
			return fmt.Errorf("line %d: %w: %s", i+1, ErrDuplicateProduct, it.ProductID)
		}
		seen[it.ProductID] = struct{}{}
		if it.Price.IsNegative() {
			return fmt.Errorf("line %d: %w: %s", i+1, ErrInvalidPrice, it.Price)
		}
		if !it.Price.Equal(it.Price.Truncate(PriceScale)) {
			return fmt.Errorf("line %d: %w: %s has more than %d decimal places", i+1, ErrInvalidPrice, it.Price, PriceScale)
		}
		if it.Price.Cmp(maxPrice) >= 0 {
			return fmt.Errorf("line %d: %w: %s exceeds %d integer digits", i+1, ErrInvalidPrice, it.Price, PricePrecision-PriceScale)
		}
		if promote && !it.Price.IsPositive() {
			return fmt.Errorf("line %d: %w: %s must be greater than zero", i+1, ErrInvalidPrice, it.ProductID)
		}
	}
	return nil
}

// ValidatePromotable checks that a list may become current.
func ValidatePromotable(list PriceList) error {
	if list.EffectiveDate.IsZero() {
		return ErrEffectiveDateRequired
	}
	if len(list.Items) == 0 {
		return ErrEmptyPriceList
	}
	return ValidateItems(list.Items, true)
}
