package pricelist

import (
	"time"
)

// Snapshot is the persisted shape of an editable list a caller compares its
// local draft against before discarding or switching scope.
type Snapshot struct {
	EffectiveDate time.Time
	Title         string
	Items         []Item
}

// SnapshotOf captures the comparable state of l.
func SnapshotOf(l PriceList) Snapshot {
	return Snapshot{EffectiveDate: Date(l.EffectiveDate), Title: l.Title, Items: cloneItems(l.Items)}
}

// Dirty reports whether local differs from persisted. Item order matters and
// prices compare as exact decimals, so 10 and 10.00 are equal.
func Dirty(persisted, local Snapshot) bool {
	if !Date(persisted.EffectiveDate).Equal(Date(local.EffectiveDate)) || persisted.Title != local.Title {
		return true
	}
	if len(persisted.Items) != len(local.Items) {
		return true
	}
	for i := range persisted.Items {
		a, b := persisted.Items[i], local.Items[i]
		if a.ProductID != b.ProductID || !a.Price.Equal(b.Price) {
			return true
		}
		if (a.RowDate == nil) != (b.RowDate == nil) {
			return true
		}
		if a.RowDate != nil && !Date(*a.RowDate).Equal(Date(*b.RowDate)) {
			return true
		}
	}
	return false
}
