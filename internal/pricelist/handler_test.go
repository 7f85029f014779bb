package pricelist

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/odyssey-erp/pricebook/testing"
)

func newTestRouter(t *testing.T) (http.Handler, *Service) {
	t.Helper()
	svc, store := newTestService(t)
	resolver := NewResolver(store, nil)
	names := staticDirectory{names: map[string]string{
		"SUP-A":  "Abattoir Nord",
		"CUST-C": "Café du Marché",
		"P100":   "Beef tenderloin",
	}}
	matrix := NewMatrixBuilder(store, resolver, names, nil, discardLogger(), MatrixConfig{})
	r := chi.NewRouter()
	NewHandler(discardLogger(), svc, resolver, matrix, names).MountRoutes(r)
	return r, svc
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

type problem struct {
	Title     string            `json:"title"`
	Status    int               `json:"status"`
	Retryable bool              `json:"retryable"`
	Fields    map[string]string `json:"fields"`
}

func TestHandlerOpenSaveResolve(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := do(t, router, http.MethodPost, "/price-lists/open", map[string]string{
		"kind": "PURCHASE", "scope_key": "SUP-A", "effective_date": "2024-01-01", "title": "January",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	opened := decode[listResponse](t, rec)
	assert.Equal(t, StatusDraft, opened.Status)
	assert.True(t, opened.Editable)

	again := decode[listResponse](t, do(t, router, http.MethodPost, "/price-lists/open", map[string]string{
		"kind": "PURCHASE", "scope_key": "SUP-A", "effective_date": "2024-01-01",
	}))
	assert.Equal(t, opened.ID, again.ID)

	rec = do(t, router, http.MethodPut, "/price-lists/"+opened.ID.String(), map[string]any{
		"effective_date": "2024-01-01",
		"make_current":   true,
		"items":          []map[string]any{{"product_id": "P100", "price": "50.00"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	saved := decode[listResponse](t, rec)
	assert.True(t, saved.IsCurrent)
	assert.False(t, saved.Editable)

	rec = do(t, router, http.MethodGet, "/prices/purchase?supplier_id=SUP-A&product_id=P100&date=2024-01-15", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[resolutionResponse](t, rec)
	assert.True(t, dec("50").Equal(res.Price))
	assert.Equal(t, saved.ID, res.ListID)
	assert.Equal(t, "2024-01-01", res.EffectiveDate)

	rec = do(t, router, http.MethodGet, "/price-lists/current?kind=PURCHASE&scope_key=SUP-A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, saved.ID, decode[listResponse](t, rec).ID)

	rec = do(t, router, http.MethodGet, "/price-lists/versions?kind=PURCHASE&scope_key=SUP-A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]listResponse](t, rec), 1)
}

func TestHandlerItemRoutes(t *testing.T) {
	router, svc := newTestRouter(t)
	l := saveVersion(t, svc, GeneralScope(), "2024-01-01", false, item("P100", "80"))
	base := "/price-lists/" + l.ID.String()

	rec := do(t, router, http.MethodPost, base+"/items", map[string]any{"product_id": "P200", "price": 30, "row_date": "2024-01-10"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	got := decode[listResponse](t, rec)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "2024-01-10", got.Items[1].RowDate)

	rec = do(t, router, http.MethodPost, base+"/items", map[string]any{"product_id": "P200", "price": 31})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, decode[problem](t, rec).Retryable)

	rec = do(t, router, http.MethodPut, base+"/items/P100", map[string]any{"price": "81.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodDelete, base+"/items/P200", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[listResponse](t, rec).Items, 1)

	rec = do(t, router, http.MethodDelete, base+"/items/P200", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerErrors(t *testing.T) {
	router, svc := newTestRouter(t)
	current := saveVersion(t, svc, mustScope(t, KindPurchase, "SUP-A"), "2024-01-01", true, item("P100", "50"))

	t.Run("bad id", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/price-lists/not-a-uuid", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("not found", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/prices/purchase?supplier_id=SUP-A&product_id=P999&date=2024-01-15", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing date", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/prices/sales?product_id=P100", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "Effective Date Required", decode[problem](t, rec).Title)
	})

	t.Run("field errors", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/price-lists/open", map[string]string{"kind": "RETAIL"})
		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		p := decode[problem](t, rec)
		assert.Equal(t, "oneof", p.Fields["openRequest.Kind"])
		assert.Equal(t, "required", p.Fields["openRequest.EffectiveDate"])
	})

	t.Run("unknown field", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/price-lists/open", map[string]string{"kind": "PURCHASE", "colour": "red"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("immutable", func(t *testing.T) {
		rec := do(t, router, http.MethodPost, "/price-lists/"+current.ID.String()+"/items", map[string]any{"product_id": "P200", "price": 1})
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "Price List Immutable", decode[problem](t, rec).Title)
	})

	t.Run("zero price on promote", func(t *testing.T) {
		draft := saveVersion(t, svc, mustScope(t, KindPurchase, "SUP-B"), "2024-01-01", false, item("P100", "0"))
		rec := do(t, router, http.MethodPost, "/price-lists/"+draft.ID.String()+"/promote", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "Invalid Price", decode[problem](t, rec).Title)
	})

	t.Run("matrix on purchase list", func(t *testing.T) {
		rec := do(t, router, http.MethodGet, "/price-lists/"+current.ID.String()+"/matrix", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestHandlerConflictIsRetryable(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(discardLogger(), nil, nil, nil, nil).fail(rec, httptest.NewRequest(http.MethodPut, "/", nil), ErrConcurrentPromotion)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, decode[problem](t, rec).Retryable)
}

func TestHandlerMatrix(t *testing.T) {
	router, svc := newTestRouter(t)
	saveVersion(t, svc, mustScope(t, KindPurchase, "SUP-A"), "2024-01-01", true, item("P100", "50"))
	saveVersion(t, svc, mustScope(t, KindPurchase, "SUP-B"), "2024-01-01", true, item("P100", "48"))

	rec := do(t, router, http.MethodPost, "/matrix", map[string]any{"product_ids": []string{"P100"}, "date": "2024-02-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode[matrixResponse](t, rec)
	assert.Len(t, m.Suppliers, 2)
	assert.True(t, dec("48").Equal(m.Prices["P100"]["SUP-B"].Price))
	assert.Equal(t, "2024-01-01", m.Prices["P100"]["SUP-B"].EffectiveDate)

	rec = do(t, router, http.MethodPost, "/matrix", map[string]any{"product_ids": []string{}, "date": "2024-02-01"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestHandlerResolutionCarriesDirectoryNames(t *testing.T) {
	router, svc := newTestRouter(t)
	saveVersion(t, svc, mustScope(t, KindPurchase, "SUP-A"), "2024-01-01", true, item("P100", "50"))
	saveVersion(t, svc, GeneralScope(), "2024-01-01", true, item("P100", "80"), item("P200", "30"))
	saveVersion(t, svc, mustScope(t, KindSalesCustomer, "CUST-C"), "2024-01-01", true, item("P100", "75"))

	rec := do(t, router, http.MethodGet, "/prices/purchase?supplier_id=SUP-A&product_id=P100&date=2024-02-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[resolutionResponse](t, rec)
	assert.Equal(t, "Abattoir Nord", res.ScopeName)
	assert.Equal(t, "Beef tenderloin", res.ProductName)

	rec = do(t, router, http.MethodGet, "/prices/sales?customer_id=CUST-C&product_id=P100&date=2024-02-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[resolutionResponse](t, rec)
	assert.Equal(t, SourceCustomer, res.Source)
	assert.Equal(t, "Café du Marché", res.ScopeName)

	rec = do(t, router, http.MethodGet, "/prices/sales?customer_id=CUST-C&product_id=P200&date=2024-02-01", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res = decode[resolutionResponse](t, rec)
	assert.Equal(t, SourceGeneral, res.Source)
	assert.Empty(t, res.ScopeName)
	assert.Empty(t, res.ProductName)

	rec = do(t, router, http.MethodPost, "/matrix", map[string]any{"product_ids": []string{"P100"}, "date": "2024-02-01"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode[matrixResponse](t, rec)
	assert.Equal(t, "Beef tenderloin", m.ProductNames["P100"])
	assert.Equal(t, []Supplier{{ID: "SUP-A", Name: "Abattoir Nord"}}, m.Suppliers)
}
