package pricelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/pricebook/internal/shared"
)

// AuditRecorder persists audit entries for promotions.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig tunes the lifecycle manager.
type ServiceConfig struct {
	// OpenRetries bounds retries of idempotent operations that lost a race.
	OpenRetries int
}

// Service orchestrates the draft -> saved -> current lifecycle on top of a Store.
type Service struct {
	store  Store
	audit  AuditRecorder
	logger *slog.Logger
	cfg    ServiceConfig
}

// NewService constructs a lifecycle service. audit may be nil.
func NewService(store Store, audit AuditRecorder, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpenRetries < 0 {
		cfg.OpenRetries = 0
	}
	return &Service{store: store, audit: audit, logger: logger, cfg: cfg}
}

// OpenInput describes an OpenForEditing request.
type OpenInput struct {
	Scope         Scope
	EffectiveDate time.Time
	Title         string
}

// OpenForEditing returns the editable list of a scope for a date, creating a
// DRAFT when none exists. Calling it repeatedly with the same input returns
// the same list. An open DRAFT of the scope at another date is moved to the
// requested date instead of creating a second draft.
func (s *Service) OpenForEditing(ctx context.Context, in OpenInput) (PriceList, error) {
	date := Date(in.EffectiveDate)
	if date.IsZero() {
		return PriceList{}, ErrEffectiveDateRequired
	}
	var out PriceList
	err := s.retry(func() error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			l, err := tx.FindEditable(ctx, in.Scope, date)
			if err == nil {
				out = l
				return nil
			}
			if !errors.Is(err, ErrNotFound) {
				return err
			}

			draft, err := tx.FindDraft(ctx, in.Scope)
			switch {
			case err == nil:
				draft.EffectiveDate = date
				if err := tx.UpdateHeader(ctx, draft); err != nil {
					return err
				}
				out, err = tx.Get(ctx, draft.ID)
				return err
			case !errors.Is(err, ErrNotFound):
				return err
			}

			out, _, err = tx.CreateDraft(ctx, in.Scope, date, strings.TrimSpace(in.Title))
			return err
		})
	})
	if err != nil {
		return PriceList{}, fmt.Errorf("open price list %s: %w", in.Scope, err)
	}
	return out, nil
}

// UpdateInput carries optional header changes.
type UpdateInput struct {
	EffectiveDate *time.Time
	Title         *string
}

// UpdateDraft changes the header of an editable list. Moving a DRAFT onto a
// date already held by another DRAFT of the scope fails with ErrDuplicateDraft.
func (s *Service) UpdateDraft(ctx context.Context, id uuid.UUID, in UpdateInput) (PriceList, error) {
	return s.mutate(ctx, id, func(ctx context.Context, tx TxStore, l PriceList) error {
		if in.EffectiveDate != nil {
			date := Date(*in.EffectiveDate)
			if date.IsZero() {
				return ErrEffectiveDateRequired
			}
			l.EffectiveDate = date
		}
		if in.Title != nil {
			l.Title = strings.TrimSpace(*in.Title)
		}
		return tx.UpdateHeader(ctx, l)
	})
}

// AddItem inserts a new line, failing with ErrDuplicateProduct when the
// product is already priced in the list.
func (s *Service) AddItem(ctx context.Context, id uuid.UUID, item Item) (PriceList, error) {
	item = normaliseItem(item)
	if err := ValidateItems([]Item{item}, false); err != nil {
		return PriceList{}, err
	}
	return s.mutate(ctx, id, func(ctx context.Context, tx TxStore, l PriceList) error {
		return tx.InsertItem(ctx, l.ID, item)
	})
}

// UpsertItem adds or updates a line. A zero price is accepted while editing.
func (s *Service) UpsertItem(ctx context.Context, id uuid.UUID, item Item) (PriceList, error) {
	item = normaliseItem(item)
	if err := ValidateItems([]Item{item}, false); err != nil {
		return PriceList{}, err
	}
	return s.mutate(ctx, id, func(ctx context.Context, tx TxStore, l PriceList) error {
		return tx.UpsertItem(ctx, l.ID, item)
	})
}

// RemoveItem deletes a product line from an editable list.
func (s *Service) RemoveItem(ctx context.Context, id uuid.UUID, productID string) (PriceList, error) {
	return s.mutate(ctx, id, func(ctx context.Context, tx TxStore, l PriceList) error {
		return tx.RemoveItem(ctx, l.ID, productID)
	})
}

// SaveInput is the complete state persisted by Save.
type SaveInput struct {
	Items         []Item
	EffectiveDate time.Time
	MakeCurrent   bool
}

// Save replaces the item set wholesale, marks the list SAVED and optionally
// promotes it to current. Either every change commits or none does.
func (s *Service) Save(ctx context.Context, id uuid.UUID, in SaveInput) (PriceList, error) {
	if len(in.Items) == 0 {
		return PriceList{}, ErrEmptyPriceList
	}
	date := Date(in.EffectiveDate)
	if date.IsZero() {
		return PriceList{}, ErrEffectiveDateRequired
	}
	items := make([]Item, len(in.Items))
	for i, it := range in.Items {
		items[i] = normaliseItem(it)
	}
	if err := ValidateItems(items, in.MakeCurrent); err != nil {
		return PriceList{}, err
	}

	saved, err := s.mutate(ctx, id, func(ctx context.Context, tx TxStore, l PriceList) error {
		l.EffectiveDate = date
		l.Status = StatusSaved
		if err := tx.UpdateHeader(ctx, l); err != nil {
			return err
		}
		if err := tx.ReplaceItems(ctx, l.ID, items); err != nil {
			return err
		}
		if in.MakeCurrent {
			if _, err := tx.SetCurrent(ctx, l.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PriceList{}, err
	}

	s.logger.Info("price list saved",
		slog.String("id", saved.ID.String()),
		slog.String("scope", saved.Scope().String()),
		slog.Int("items", len(saved.Items)),
		slog.Bool("current", saved.IsCurrent),
	)
	if in.MakeCurrent {
		s.recordPromotion(ctx, saved)
	}
	return saved, nil
}

// Promote makes an existing saved list the current list of its scope.
func (s *Service) Promote(ctx context.Context, id uuid.UUID) (PriceList, error) {
	var out PriceList
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		l, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if l.Status != StatusSaved {
			return fmt.Errorf("%w: draft must be saved before promotion", ErrValidation)
		}
		if l.IsCurrent {
			out = l
			return nil
		}
		out, err = tx.SetCurrent(ctx, id)
		return err
	})
	if err != nil {
		return PriceList{}, fmt.Errorf("promote price list %s: %w", id, err)
	}
	s.recordPromotion(ctx, out)
	return out, nil
}

// Derive creates a new DRAFT version of source's scope at date seeded with
// source's items. Repeating the call returns the same draft untouched.
func (s *Service) Derive(ctx context.Context, sourceID uuid.UUID, date time.Time, title string) (PriceList, error) {
	date = Date(date)
	if date.IsZero() {
		return PriceList{}, ErrEffectiveDateRequired
	}
	var out PriceList
	err := s.retry(func() error {
		return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			src, err := tx.Get(ctx, sourceID)
			if err != nil {
				return err
			}
			if strings.TrimSpace(title) == "" {
				title = src.Title
			}
			draft, created, err := tx.CreateDraft(ctx, src.Scope(), date, strings.TrimSpace(title))
			if err != nil {
				return err
			}
			if created && len(src.Items) > 0 {
				if err := tx.ReplaceItems(ctx, draft.ID, src.Items); err != nil {
					return err
				}
			}
			out, err = tx.Get(ctx, draft.ID)
			return err
		})
	})
	if err != nil {
		return PriceList{}, fmt.Errorf("derive price list from %s: %w", sourceID, err)
	}
	return out, nil
}

// Get returns a list by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (PriceList, error) {
	return s.store.Get(ctx, id)
}

// GetCurrent returns the current list of a scope regardless of date.
func (s *Service) GetCurrent(ctx context.Context, scope Scope) (PriceList, error) {
	return s.store.GetCurrent(ctx, scope)
}

// GetAsOf returns the saved version of a scope applicable on date.
func (s *Service) GetAsOf(ctx context.Context, scope Scope, date time.Time) (PriceList, error) {
	return s.store.GetAsOf(ctx, scope, date)
}

// Versions lists every version of a scope, newest first.
func (s *Service) Versions(ctx context.Context, scope Scope) ([]PriceList, error) {
	return s.store.Versions(ctx, scope)
}

func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(context.Context, TxStore, PriceList) error) (PriceList, error) {
	var out PriceList
	err := s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		l, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if !l.Editable() {
			return ErrImmutable
		}
		if err := fn(ctx, tx, l); err != nil {
			return err
		}
		out, err = tx.Get(ctx, id)
		return err
	})
	if err != nil {
		return PriceList{}, fmt.Errorf("price list %s: %w", id, err)
	}
	return out, nil
}

func (s *Service) retry(fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.cfg.OpenRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		s.logger.Debug("retrying after conflict", slog.Int("attempt", attempt+1), slog.Any("error", err))
	}
	return err
}

func (s *Service) recordPromotion(ctx context.Context, l PriceList) {
	s.logger.Info("price list promoted",
		slog.String("id", l.ID.String()),
		slog.String("scope", l.Scope().String()),
		slog.String("effective_date", l.EffectiveDate.Format(DateLayout)),
	)
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		Action:   "pricelist.promote",
		Entity:   "price_list",
		EntityID: l.ID.String(),
		Meta: map[string]any{
			"kind":           string(l.Kind),
			"scope_key":      l.ScopeKey,
			"effective_date": l.EffectiveDate.Format(DateLayout),
			"items":          len(l.Items),
		},
	})
	if err != nil {
		s.logger.Warn("audit promotion", slog.String("id", l.ID.String()), slog.Any("error", err))
	}
}

func normaliseItem(it Item) Item {
	it.ProductID = strings.TrimSpace(it.ProductID)
	if it.RowDate != nil {
		d := Date(*it.RowDate)
		if d.IsZero() {
			it.RowDate = nil
		} else {
			it.RowDate = &d
		}
	}
	return it
}
