package pricelist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDirty(t *testing.T) {
	date := day(t, "2024-01-01")
	rowDate := day(t, "2024-01-10")
	base := Snapshot{EffectiveDate: date, Title: "January", Items: []Item{item("P100", "10.00"), item("P200", "5")}}

	cases := []struct {
		name  string
		local Snapshot
		dirty bool
	}{
		{"identical", base, false},
		{"equal decimals", Snapshot{EffectiveDate: date, Title: "January", Items: []Item{item("P100", "10"), item("P200", "5.000")}}, false},
		{"time of day ignored", Snapshot{EffectiveDate: date.Add(15 * time.Hour), Title: "January", Items: base.Items}, false},
		{"price changed", Snapshot{EffectiveDate: date, Title: "January", Items: []Item{item("P100", "10.01"), item("P200", "5")}}, true},
		{"reordered", Snapshot{EffectiveDate: date, Title: "January", Items: []Item{item("P200", "5"), item("P100", "10")}}, true},
		{"line removed", Snapshot{EffectiveDate: date, Title: "January", Items: base.Items[:1]}, true},
		{"date changed", Snapshot{EffectiveDate: day(t, "2024-01-02"), Title: "January", Items: base.Items}, true},
		{"title changed", Snapshot{EffectiveDate: date, Title: "Jan", Items: base.Items}, true},
		{"row date added", Snapshot{EffectiveDate: date, Title: "January", Items: []Item{{ProductID: "P100", Price: dec("10"), RowDate: &rowDate}, item("P200", "5")}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.dirty, Dirty(base, tc.local))
		})
	}
}

func TestSnapshotOfCopiesItems(t *testing.T) {
	l := PriceList{EffectiveDate: day(t, "2024-01-01"), Title: "x", Items: []Item{item("P100", "1")}}
	snap := SnapshotOf(l)
	l.Items[0].ProductID = "P999"
	assert.Equal(t, "P100", snap.Items[0].ProductID)
	assert.False(t, Dirty(snap, SnapshotOf(PriceList{EffectiveDate: l.EffectiveDate, Title: "x", Items: []Item{item("P100", "1")}})))
}
