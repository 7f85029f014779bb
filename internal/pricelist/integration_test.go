package pricelist

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/odyssey-erp/pricebook/internal/platform/db"
)

// ============================================================================
// LIFECYCLE SUITE
// ============================================================================

// LifecycleTestSuite runs the end-to-end price list workflow against a Store.
// It runs on the in-memory store, and again on Postgres when
// PRICEBOOK_TEST_PG_DSN is set.
type LifecycleTestSuite struct {
	suite.Suite
	newStore func(t *testing.T) Store
	store    Store
	service  *Service
	resolver *Resolver
	matrix   *MatrixBuilder
	audit    *recordingAudit
	ctx      context.Context
}

// SetupTest runs before each test in the suite.
func (s *LifecycleTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
	s.audit = &recordingAudit{}
	s.service = NewService(s.store, s.audit, discardLogger(), ServiceConfig{OpenRetries: 3})
	s.resolver = NewResolver(s.store, nil)
	s.matrix = NewMatrixBuilder(s.store, s.resolver, nil, nil, discardLogger(), MatrixConfig{})
}

// TestPurchaseVersioningWorkflow walks a supplier list through
// draft → saved → current → superseded.
func (s *LifecycleTestSuite) TestPurchaseVersioningWorkflow() {
	t := s.T()
	scope := mustScope(t, KindPurchase, "SUP-A")

	// Step 1: open a draft and price it line by line
	jan, err := s.service.OpenForEditing(s.ctx, OpenInput{Scope: scope, EffectiveDate: day(t, "2024-01-01"), Title: "January"})
	require.NoError(t, err)
	_, err = s.service.AddItem(s.ctx, jan.ID, item("P100", "50.00"))
	require.NoError(t, err)
	jan, err = s.service.UpsertItem(s.ctx, jan.ID, item("P200", "21.50"))
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, jan.Status)

	// Drafts never resolve
	_, err = s.resolver.ResolvePurchasePrice(s.ctx, "SUP-A", "P100", day(t, "2024-01-15"))
	require.ErrorIs(t, err, ErrNotFound)

	// Step 2: save and promote
	jan, err = s.service.Save(s.ctx, jan.ID, SaveInput{Items: jan.Items, EffectiveDate: jan.EffectiveDate, MakeCurrent: true})
	require.NoError(t, err)
	assert.True(t, jan.IsCurrent)

	// Step 3: derive February from January and reprice
	feb, err := s.service.Derive(s.ctx, jan.ID, day(t, "2024-02-01"), "February")
	require.NoError(t, err)
	feb, err = s.service.UpsertItem(s.ctx, feb.ID, item("P100", "55.00"))
	require.NoError(t, err)
	assert.True(t, Dirty(SnapshotOf(jan), SnapshotOf(feb)))

	feb, err = s.service.Save(s.ctx, feb.ID, SaveInput{Items: feb.Items, EffectiveDate: feb.EffectiveDate, MakeCurrent: true})
	require.NoError(t, err)

	// Step 4: history resolves by date, not by the current flag
	res, err := s.resolver.ResolvePurchasePrice(s.ctx, "SUP-A", "P100", day(t, "2024-01-15"))
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(res.Price))
	assert.Equal(t, jan.ID, res.ListID)

	res, err = s.resolver.ResolvePurchasePrice(s.ctx, "SUP-A", "P100", day(t, "2024-03-01"))
	require.NoError(t, err)
	assert.True(t, dec("55").Equal(res.Price))

	old, err := s.service.Get(s.ctx, jan.ID)
	require.NoError(t, err)
	assert.False(t, old.IsCurrent)
	assert.NotNil(t, old.SupersededAt)

	versions, err := s.service.Versions(s.ctx, scope)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, feb.ID, versions[0].ID)

	assert.Len(t, s.audit.entries(), 2)
}

// TestSalesOverrideWorkflow covers the general list with a customer override.
func (s *LifecycleTestSuite) TestSalesOverrideWorkflow() {
	t := s.T()

	saveVersion(t, s.service, GeneralScope(), "2024-01-01", true, item("P100", "80.00"))
	saveVersion(t, s.service, mustScope(t, KindSalesCustomer, "CUST-C"), "2024-01-05", true, item("P100", "75.00"))

	res, err := s.resolver.ResolveSalesPrice(s.ctx, "CUST-C", "P100", day(t, "2024-01-03"))
	require.NoError(t, err)
	assert.True(t, dec("80").Equal(res.Price))
	assert.Equal(t, SourceGeneral, res.Source)

	res, err = s.resolver.ResolveSalesPrice(s.ctx, "CUST-C", "P100", day(t, "2024-01-10"))
	require.NoError(t, err)
	assert.True(t, dec("75").Equal(res.Price))
	assert.Equal(t, SourceCustomer, res.Source)
}

// TestCrossReferenceWorkflow builds the supplier matrix for a sales list.
func (s *LifecycleTestSuite) TestCrossReferenceWorkflow() {
	t := s.T()

	saveVersion(t, s.service, mustScope(t, KindPurchase, "SUP-A"), "2024-01-01", true, item("P100", "50"), item("P200", "21"))
	saveVersion(t, s.service, mustScope(t, KindPurchase, "SUP-B"), "2024-01-10", true, item("P100", "52.40"))
	sales := saveVersion(t, s.service, GeneralScope(), "2024-02-01", true, item("P100", "80"), item("P200", "34"))

	m, err := s.matrix.BuildForList(s.ctx, sales.ID, day(t, "2024-01-05"))
	require.NoError(t, err)
	assert.Len(t, m.Prices["P100"], 1)
	assert.Contains(t, m.Prices["P100"], "SUP-A")

	m, err = s.matrix.BuildForList(s.ctx, sales.ID, day(t, "2024-02-01"))
	require.NoError(t, err)
	require.Len(t, m.Suppliers, 2)
	assert.Equal(t, "SUP-A", m.Suppliers[0].ID)
	assert.Len(t, m.Prices["P100"], 2)
	assert.Len(t, m.Prices["P200"], 1)
}

// TestSingleCurrentInvariant checks the scanner after many promotions.
func (s *LifecycleTestSuite) TestSingleCurrentInvariant() {
	t := s.T()
	scope := mustScope(t, KindPurchase, "SUP-A")
	for _, date := range []string{"2024-01-01", "2024-02-01", "2024-03-01"} {
		saveVersion(t, s.service, scope, date, true, item("P100", "50"))
	}
	scanner, ok := s.store.(IntegrityScanner)
	require.True(t, ok)
	violations, err := scanner.CurrentViolations(s.ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}

func TestLifecycleMemory(t *testing.T) {
	suite.Run(t, &LifecycleTestSuite{newStore: func(*testing.T) Store { return NewMemoryStore() }})
}

func TestLifecyclePostgres(t *testing.T) {
	dsn := os.Getenv("PRICEBOOK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PRICEBOOK_TEST_PG_DSN not set")
	}
	suite.Run(t, &LifecycleTestSuite{newStore: func(t *testing.T) Store {
		ctx := context.Background()
		pool, err := db.New(ctx, dsn, db.PoolOptions{})
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		require.NoError(t, EnsureSchema(ctx, pool))
		_, err = pool.Exec(ctx, `TRUNCATE price_list_items, price_lists, price_list_scopes CASCADE`)
		require.NoError(t, err)
		return NewPostgresStore(pool)
	}})
}
