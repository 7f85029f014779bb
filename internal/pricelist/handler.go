package pricelist

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/pricebook/internal/platform/httpx"
)

var errorRules = []httpx.Rule{
	{Err: ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Err: ErrConcurrentPromotion, Status: http.StatusConflict, Title: "Concurrent Promotion", Retryable: true},
	{Err: ErrConflict, Status: http.StatusConflict, Title: "Conflict", Retryable: true},
	{Err: ErrDuplicateProduct, Status: http.StatusConflict, Title: "Duplicate Product"},
	{Err: ErrDuplicateDraft, Status: http.StatusConflict, Title: "Duplicate Draft"},
	{Err: ErrImmutable, Status: http.StatusConflict, Title: "Price List Immutable"},
	{Err: ErrInvalidPrice, Status: http.StatusUnprocessableEntity, Title: "Invalid Price"},
	{Err: ErrEmptyPriceList, Status: http.StatusUnprocessableEntity, Title: "Empty Price List"},
	{Err: ErrEffectiveDateRequired, Status: http.StatusUnprocessableEntity, Title: "Effective Date Required"},
	{Err: ErrValidation, Status: http.StatusUnprocessableEntity, Title: "Validation Failed"},
}

// Handler exposes price list operations over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	resolver *Resolver
	matrix   *MatrixBuilder
	names    Directory
}

// NewHandler builds a Handler instance. names may be nil, in which case
// resolutions are returned without display names.
func NewHandler(logger *slog.Logger, service *Service, resolver *Resolver, matrix *MatrixBuilder, names Directory) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, resolver: resolver, matrix: matrix, names: names}
}

// MountRoutes registers price list routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/price-lists", func(r chi.Router) {
		r.Post("/open", h.open)
		r.Get("/current", h.current)
		r.Get("/as-of", h.asOf)
		r.Get("/versions", h.versions)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Patch("/", h.update)
			r.Put("/", h.save)
			r.Post("/promote", h.promote)
			r.Post("/derive", h.derive)
			r.Post("/items", h.addItem)
			r.Put("/items/{productID}", h.upsertItem)
			r.Delete("/items/{productID}", h.removeItem)
			r.Get("/matrix", h.listMatrix)
		})
	})
	r.Get("/prices/purchase", h.purchasePrice)
	r.Get("/prices/sales", h.salesPrice)
	r.Post("/matrix", h.buildMatrix)
}

func (h *Handler) open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	scope, err := NewScope(Kind(req.Kind), req.ScopeKey)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := ParseDate(req.EffectiveDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.service.OpenForEditing(r.Context(), OpenInput{Scope: scope, EffectiveDate: date, Title: req.Title})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.service.GetCurrent(r.Context(), scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) asOf(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := dateFromQuery(r, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.service.GetAsOf(r.Context(), scope, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) versions(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lists, err := h.service.Versions(r.Context(), scope)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]listResponse, 0, len(lists))
	for _, l := range lists {
		out = append(out, toListResponse(l))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	l, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := UpdateInput{Title: req.Title}
	if req.EffectiveDate != nil {
		date, err := ParseDate(*req.EffectiveDate)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		in.EffectiveDate = &date
	}
	l, err := h.service.UpdateDraft(r.Context(), id, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) save(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	var req saveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := ParseDate(req.EffectiveDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]Item, 0, len(req.Items))
	for _, line := range req.Items {
		it, err := line.toItem()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		items = append(items, it)
	}
	l, err := h.service.Save(r.Context(), id, SaveInput{Items: items, EffectiveDate: date, MakeCurrent: req.MakeCurrent})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) promote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	l, err := h.service.Promote(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) derive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	var req deriveRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := ParseDate(req.EffectiveDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.service.Derive(r.Context(), id, date, req.Title)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) addItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	var req itemRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	it, err := req.toItem()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.service.AddItem(r.Context(), id, it)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toListResponse(l))
}

func (h *Handler) upsertItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	var req itemPriceRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	it, err := req.toItem(chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	l, err := h.service.UpsertItem(r.Context(), id, it)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	l, err := h.service.RemoveItem(r.Context(), id, chi.URLParam(r, "productID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toListResponse(l))
}

func (h *Handler) listMatrix(w http.ResponseWriter, r *http.Request) {
	id, ok := h.listID(w, r)
	if !ok {
		return
	}
	var date time.Time
	if r.URL.Query().Get("date") != "" {
		d, err := dateFromQuery(r, "date")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		date = d
	}
	m, err := h.matrix.BuildForList(r.Context(), id, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMatrixResponse(m))
}

func (h *Handler) buildMatrix(w http.ResponseWriter, r *http.Request) {
	var req matrixRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	date, err := ParseDate(req.Date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	m, err := h.matrix.Build(r.Context(), req.ProductIDs, date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMatrixResponse(m))
}

func (h *Handler) purchasePrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := dateFromQuery(r, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.resolver.ResolvePurchasePrice(r.Context(), q.Get("supplier_id"), q.Get("product_id"), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.labelled(r.Context(), res))
}

func (h *Handler) salesPrice(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := dateFromQuery(r, "date")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.resolver.ResolveSalesPrice(r.Context(), q.Get("customer_id"), q.Get("product_id"), date)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.labelled(r.Context(), res))
}

type nameLookup func(ctx context.Context, ids []string) (map[string]string, error)

// labelled adds directory names to a resolution. Lookup failures only drop
// the names.
func (h *Handler) labelled(ctx context.Context, res Resolution) resolutionResponse {
	out := toResolutionResponse(res)
	if h.names == nil {
		return out
	}
	out.ProductName = h.lookupName(ctx, h.names.ProductNames, res.ProductID)
	switch res.Scope.Kind {
	case KindPurchase:
		out.ScopeName = h.lookupName(ctx, h.names.SupplierNames, res.Scope.Key)
	case KindSalesCustomer:
		out.ScopeName = h.lookupName(ctx, h.names.CustomerNames, res.Scope.Key)
	}
	return out
}

func (h *Handler) lookupName(ctx context.Context, lookup nameLookup, id string) string {
	names, err := lookup(ctx, []string{id})
	if err != nil {
		h.logger.Warn("directory names unavailable", slog.String("id", id), slog.Any("error", err))
		return ""
	}
	return names[id]
}

func (h *Handler) listID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid price list id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var fields httpx.FieldErrors
	if !errors.As(err, &fields) && !knownError(err) {
		h.logger.Error("price list request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	httpx.RespondError(w, err, errorRules...)
}

func knownError(err error) bool {
	if errors.Is(err, httpx.ErrBadRequest) {
		return true
	}
	for _, rule := range errorRules {
		if errors.Is(err, rule.Err) {
			return true
		}
	}
	return false
}

func scopeFromQuery(r *http.Request) (Scope, error) {
	q := r.URL.Query()
	return NewScope(Kind(q.Get("kind")), q.Get("scope_key"))
}

func dateFromQuery(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, ErrEffectiveDateRequired
	}
	return ParseDate(raw)
}
