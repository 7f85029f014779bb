package pricelist

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type openRequest struct {
	Kind          string `json:"kind" validate:"required,oneof=PURCHASE SALES_GENERAL SALES_CUSTOMER"`
	ScopeKey      string `json:"scope_key" validate:"max=64"`
	EffectiveDate string `json:"effective_date" validate:"required,datetime=2006-01-02"`
	Title         string `json:"title" validate:"max=200"`
}

type updateRequest struct {
	EffectiveDate *string `json:"effective_date" validate:"omitempty,datetime=2006-01-02"`
	Title         *string `json:"title" validate:"omitempty,max=200"`
}

type itemRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Price     decimal.Decimal `json:"price"`
	RowDate   *string         `json:"row_date" validate:"omitempty,datetime=2006-01-02"`
}

type itemPriceRequest struct {
	Price   decimal.Decimal `json:"price"`
	RowDate *string         `json:"row_date" validate:"omitempty,datetime=2006-01-02"`
}

type saveRequest struct {
	Items         []itemRequest `json:"items" validate:"dive"`
	EffectiveDate string        `json:"effective_date" validate:"required,datetime=2006-01-02"`
	MakeCurrent   bool          `json:"make_current"`
}

type deriveRequest struct {
	EffectiveDate string `json:"effective_date" validate:"required,datetime=2006-01-02"`
	Title         string `json:"title" validate:"max=200"`
}

type matrixRequest struct {
	ProductIDs []string `json:"product_ids" validate:"required,min=1,max=500,dive,required,max=64"`
	Date       string   `json:"date" validate:"required,datetime=2006-01-02"`
}

type itemResponse struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	RowDate   string          `json:"row_date,omitempty"`
}

type listResponse struct {
	ID            uuid.UUID      `json:"id"`
	Kind          Kind           `json:"kind"`
	ScopeKey      string         `json:"scope_key"`
	Title         string         `json:"title"`
	EffectiveDate string         `json:"effective_date"`
	Status        Status         `json:"status"`
	IsCurrent     bool           `json:"is_current"`
	Editable      bool           `json:"editable"`
	SupersededAt  *time.Time     `json:"superseded_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	Items         []itemResponse `json:"items"`
}

type resolutionResponse struct {
	ProductID     string          `json:"product_id"`
	Price         decimal.Decimal `json:"price"`
	Source        Source          `json:"source"`
	Kind          Kind            `json:"kind"`
	ScopeKey      string          `json:"scope_key"`
	ListID        uuid.UUID       `json:"price_list_id"`
	EffectiveDate string          `json:"effective_date"`
	ScopeName     string          `json:"scope_name,omitempty"`
	ProductName   string          `json:"product_name,omitempty"`
}

type cellResponse struct {
	Price         decimal.Decimal `json:"price"`
	ListID        uuid.UUID       `json:"price_list_id"`
	EffectiveDate string          `json:"effective_date"`
}

type matrixResponse struct {
	Date       string                             `json:"date"`
	ProductIDs []string                           `json:"product_ids"`
	Suppliers  []Supplier                         `json:"suppliers"`
	Prices       map[string]map[string]cellResponse `json:"prices"`
	ProductNames map[string]string                  `json:"product_names"`
	Failed       int                                `json:"failed"`
}

func toListResponse(l PriceList) listResponse {
	items := make([]itemResponse, 0, len(l.Items))
	for _, it := range l.Items {
		out := itemResponse{ProductID: it.ProductID, Price: it.Price}
		if it.RowDate != nil {
			out.RowDate = it.RowDate.Format(DateLayout)
		}
		items = append(items, out)
	}
	return listResponse{
		ID:            l.ID,
		Kind:          l.Kind,
		ScopeKey:      l.ScopeKey,
		Title:         l.Title,
		EffectiveDate: l.EffectiveDate.Format(DateLayout),
		Status:        l.Status,
		IsCurrent:     l.IsCurrent,
		Editable:      l.Editable(),
		SupersededAt:  l.SupersededAt,
		CreatedAt:     l.CreatedAt,
		UpdatedAt:     l.UpdatedAt,
		Items:         items,
	}
}

func toResolutionResponse(r Resolution) resolutionResponse {
	return resolutionResponse{
		ProductID:     r.ProductID,
		Price:         r.Price,
		Source:        r.Source,
		Kind:          r.Scope.Kind,
		ScopeKey:      r.Scope.Key,
		ListID:        r.ListID,
		EffectiveDate: r.EffectiveDate.Format(DateLayout),
	}
}

func toMatrixResponse(m Matrix) matrixResponse {
	prices := make(map[string]map[string]cellResponse, len(m.Prices))
	for productID, row := range m.Prices {
		cells := make(map[string]cellResponse, len(row))
		for supplierID, c := range row {
			cells[supplierID] = cellResponse{Price: c.Price, ListID: c.ListID, EffectiveDate: c.EffectiveDate.Format(DateLayout)}
		}
		prices[productID] = cells
	}
	return matrixResponse{
		Date:       m.Date.Format(DateLayout),
		ProductIDs: m.ProductIDs,
		Suppliers:  m.Suppliers,
		Prices:       prices,
		ProductNames: m.ProductNames,
		Failed:       m.Failed,
	}
}

func (r itemRequest) toItem() (Item, error) {
	return itemPriceRequest{Price: r.Price, RowDate: r.RowDate}.toItem(r.ProductID)
}

func (r itemPriceRequest) toItem(productID string) (Item, error) {
	it := Item{ProductID: productID, Price: r.Price}
	if r.RowDate != nil && *r.RowDate != "" {
		d, err := ParseDate(*r.RowDate)
		if err != nil {
			return Item{}, err
		}
		it.RowDate = &d
	}
	return it, nil
}
