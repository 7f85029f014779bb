package pricelist

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/pricebook/internal/shared"
)

func day(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := ParseDate(raw)
	require.NoError(t, err)
	return d
}

func dec(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}

func item(productID, price string) Item {
	return Item{ProductID: productID, Price: dec(price)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
	err  error
}

func (r *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return r.err
}

func (r *recordingAudit) entries() []shared.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shared.AuditLog(nil), r.logs...)
}

type countingMetrics struct {
	mu          sync.Mutex
	resolutions map[string]int
	pairs       map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{resolutions: map[string]int{}, pairs: map[string]int{}}
}

func (m *countingMetrics) ObserveResolution(source, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolutions[source+"/"+outcome]++
}

func (m *countingMetrics) ObserveMatrixPair(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pairs[outcome]++
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, nil, discardLogger(), ServiceConfig{OpenRetries: 3}), store
}

// saveVersion opens scope at date, saves items and optionally promotes.
func saveVersion(t *testing.T, svc *Service, scope Scope, date string, makeCurrent bool, items ...Item) PriceList {
	t.Helper()
	ctx := context.Background()
	l, err := svc.OpenForEditing(ctx, OpenInput{Scope: scope, EffectiveDate: day(t, date)})
	require.NoError(t, err)
	saved, err := svc.Save(ctx, l.ID, SaveInput{Items: items, EffectiveDate: day(t, date), MakeCurrent: makeCurrent})
	require.NoError(t, err)
	return saved
}

func mustScope(t *testing.T, kind Kind, key string) Scope {
	t.Helper()
	s, err := NewScope(kind, key)
	require.NoError(t, err)
	return s
}
