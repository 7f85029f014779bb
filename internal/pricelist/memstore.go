package pricelist

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Transactions are optimistic: writes are
// staged on private copies and validated against per-list versions and
// per-scope promotion generations at commit, so promotions on different scopes
// never contend.
type MemoryStore struct {
	mu     sync.RWMutex
	lists  map[uuid.UUID]*memRecord
	scopes map[Scope]int64
	seq    atomic.Int64
	now    func() time.Time
}

type memRecord struct {
	list    PriceList
	version int64
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lists:  make(map[uuid.UUID]*memRecord),
		scopes: make(map[Scope]int64),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// committed returns shallow copies of every committed list. Records are
// replaced wholesale on commit, never mutated, so the copies stay stable.
func (s *MemoryStore) committed() []PriceList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PriceList, 0, len(s.lists))
	for _, rec := range s.lists {
		out = append(out, rec.list)
	}
	return out
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (PriceList, error) {
	return queryGet(s.committed(), id)
}

func (s *MemoryStore) GetCurrent(ctx context.Context, scope Scope) (PriceList, error) {
	return queryCurrent(s.committed(), scope)
}

func (s *MemoryStore) GetAsOf(ctx context.Context, scope Scope, date time.Time) (PriceList, error) {
	return queryAsOf(s.committed(), scope, date)
}

func (s *MemoryStore) History(ctx context.Context, scope Scope, date time.Time) ([]PriceList, error) {
	return queryHistory(s.committed(), scope, date), nil
}

func (s *MemoryStore) Versions(ctx context.Context, scope Scope) ([]PriceList, error) {
	return queryVersions(s.committed(), scope), nil
}

func (s *MemoryStore) SuppliersCarrying(ctx context.Context, productIDs []string) (map[string][]string, error) {
	return queryCarrying(s.committed(), productIDs), nil
}

// CurrentViolations implements IntegrityScanner.
func (s *MemoryStore) CurrentViolations(ctx context.Context) ([]ScopeViolation, error) {
	byScope := make(map[Scope][]uuid.UUID)
	for _, l := range s.committed() {
		if l.IsCurrent {
			byScope[l.Scope()] = append(byScope[l.Scope()], l.ID)
		}
	}
	var out []ScopeViolation
	for scope, ids := range byScope {
		if len(ids) > 1 {
			out = append(out, ScopeViolation{Scope: scope, Current: ids})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.String() < out[j].Scope.String() })
	return out, nil
}

// WithTx runs fn against a staged view and commits it atomically.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx := &memTx{
		store:      s,
		writes:     make(map[uuid.UUID]*PriceList),
		reads:      make(map[uuid.UUID]int64),
		scopeReads: make(map[Scope]int64),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for scope, gen := range tx.scopeReads {
		if s.scopes[scope] != gen {
			return ErrConcurrentPromotion
		}
	}
	for id, version := range tx.reads {
		rec, ok := s.lists[id]
		if !ok || rec.version != version {
			return ErrConflict
		}
	}
	for id, l := range tx.writes {
		if l.Status != StatusDraft {
			continue
		}
		for otherID, rec := range s.lists {
			if otherID == id {
				continue
			}
			if _, staged := tx.writes[otherID]; staged {
				continue
			}
			if sameDraftKey(rec.list, *l) {
				return ErrConflict
			}
		}
	}

	for id, l := range tx.writes {
		if rec, ok := s.lists[id]; ok {
			rec.list = *l
			rec.version++
			continue
		}
		s.lists[id] = &memRecord{list: *l, version: 1}
	}
	for scope := range tx.scopeReads {
		s.scopes[scope]++
	}
	return nil
}

type memTx struct {
	store      *MemoryStore
	writes     map[uuid.UUID]*PriceList
	reads      map[uuid.UUID]int64
	scopeReads map[Scope]int64
}

// view merges staged writes over committed state.
func (tx *memTx) view() []PriceList {
	base := tx.store.committed()
	out := make([]PriceList, 0, len(base)+len(tx.writes))
	for _, l := range base {
		if _, staged := tx.writes[l.ID]; staged {
			continue
		}
		out = append(out, l)
	}
	for _, l := range tx.writes {
		out = append(out, *l)
	}
	return out
}

// stage returns the tx-owned copy of a list, recording the version it was read at.
func (tx *memTx) stage(id uuid.UUID) (*PriceList, error) {
	if l, ok := tx.writes[id]; ok {
		return l, nil
	}
	tx.store.mu.RLock()
	rec, ok := tx.store.lists[id]
	var copyOf PriceList
	var version int64
	if ok {
		copyOf = rec.list.Clone()
		version = rec.version
	}
	tx.store.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if _, seen := tx.reads[id]; !seen {
		tx.reads[id] = version
	}
	tx.writes[id] = &copyOf
	return &copyOf, nil
}

// Get records the version it observed so a list changed by another commit
// after this read fails the transaction with ErrConflict.
func (tx *memTx) Get(ctx context.Context, id uuid.UUID) (PriceList, error) {
	if _, staged := tx.writes[id]; !staged {
		if _, seen := tx.reads[id]; !seen {
			tx.store.mu.RLock()
			rec, ok := tx.store.lists[id]
			if ok {
				tx.reads[id] = rec.version
			}
			tx.store.mu.RUnlock()
		}
	}
	return queryGet(tx.view(), id)
}

func (tx *memTx) GetCurrent(ctx context.Context, scope Scope) (PriceList, error) {
	return queryCurrent(tx.view(), scope)
}

func (tx *memTx) GetAsOf(ctx context.Context, scope Scope, date time.Time) (PriceList, error) {
	return queryAsOf(tx.view(), scope, date)
}

func (tx *memTx) History(ctx context.Context, scope Scope, date time.Time) ([]PriceList, error) {
	return queryHistory(tx.view(), scope, date), nil
}

func (tx *memTx) Versions(ctx context.Context, scope Scope) ([]PriceList, error) {
	return queryVersions(tx.view(), scope), nil
}

func (tx *memTx) SuppliersCarrying(ctx context.Context, productIDs []string) (map[string][]string, error) {
	return queryCarrying(tx.view(), productIDs), nil
}

func (tx *memTx) FindEditable(ctx context.Context, scope Scope, date time.Time) (PriceList, error) {
	return queryEditable(tx.view(), scope, Date(date))
}

func (tx *memTx) FindDraft(ctx context.Context, scope Scope) (PriceList, error) {
	return queryDraft(tx.view(), scope)
}

func (tx *memTx) CreateDraft(ctx context.Context, scope Scope, date time.Time, title string) (PriceList, bool, error) {
	date = Date(date)
	if date.IsZero() {
		return PriceList{}, false, ErrEffectiveDateRequired
	}
	probe := PriceList{Kind: scope.Kind, ScopeKey: scope.Key, EffectiveDate: date, Status: StatusDraft}
	for _, l := range tx.view() {
		if sameDraftKey(l, probe) {
			return l.Clone(), false, nil
		}
	}
	now := tx.store.now()
	l := &PriceList{
		ID:            uuid.New(),
		Seq:           tx.store.seq.Add(1),
		Kind:          scope.Kind,
		ScopeKey:      scope.Key,
		Title:         title,
		EffectiveDate: date,
		Status:        StatusDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         []Item{},
	}
	tx.writes[l.ID] = l
	return l.Clone(), true, nil
}

func (tx *memTx) UpdateHeader(ctx context.Context, list PriceList) error {
	l, err := tx.stage(list.ID)
	if err != nil {
		return err
	}
	updated := *l
	updated.Title = list.Title
	updated.EffectiveDate = Date(list.EffectiveDate)
	updated.Status = list.Status
	if updated.Status == StatusDraft {
		for _, other := range tx.view() {
			if other.ID != updated.ID && sameDraftKey(other, updated) {
				return ErrDuplicateDraft
			}
		}
	}
	updated.UpdatedAt = tx.store.now()
	*l = updated
	return nil
}

func (tx *memTx) InsertItem(ctx context.Context, listID uuid.UUID, item Item) error {
	l, err := tx.stage(listID)
	if err != nil {
		return err
	}
	if _, ok := l.Item(item.ProductID); ok {
		return ErrDuplicateProduct
	}
	l.Items = append(l.Items, cloneItems([]Item{item})...)
	l.UpdatedAt = tx.store.now()
	return nil
}

func (tx *memTx) UpsertItem(ctx context.Context, listID uuid.UUID, item Item) error {
	l, err := tx.stage(listID)
	if err != nil {
		return err
	}
	item = cloneItems([]Item{item})[0]
	for i := range l.Items {
		if l.Items[i].ProductID == item.ProductID {
			l.Items[i] = item
			l.UpdatedAt = tx.store.now()
			return nil
		}
	}
	l.Items = append(l.Items, item)
	l.UpdatedAt = tx.store.now()
	return nil
}

func (tx *memTx) RemoveItem(ctx context.Context, listID uuid.UUID, productID string) error {
	l, err := tx.stage(listID)
	if err != nil {
		return err
	}
	for i := range l.Items {
		if l.Items[i].ProductID == productID {
			l.Items = append(l.Items[:i:i], l.Items[i+1:]...)
			l.UpdatedAt = tx.store.now()
			return nil
		}
	}
	return ErrNotFound
}

func (tx *memTx) ReplaceItems(ctx context.Context, listID uuid.UUID, items []Item) error {
	l, err := tx.stage(listID)
	if err != nil {
		return err
	}
	l.Items = cloneItems(items)
	if l.Items == nil {
		l.Items = []Item{}
	}
	l.UpdatedAt = tx.store.now()
	return nil
}

func (tx *memTx) SetCurrent(ctx context.Context, listID uuid.UUID) (PriceList, error) {
	target, err := tx.stage(listID)
	if err != nil {
		return PriceList{}, err
	}
	if err := ValidatePromotable(*target); err != nil {
		return PriceList{}, err
	}
	scope := target.Scope()
	if _, seen := tx.scopeReads[scope]; !seen {
		tx.store.mu.RLock()
		tx.scopeReads[scope] = tx.store.scopes[scope]
		tx.store.mu.RUnlock()
	}
	if target.IsCurrent {
		return target.Clone(), nil
	}
	now := tx.store.now()
	if prev, err := queryCurrent(tx.view(), scope); err == nil {
		old, err := tx.stage(prev.ID)
		if err != nil {
			return PriceList{}, err
		}
		old.IsCurrent = false
		old.SupersededAt = &now
		old.UpdatedAt = now
	}
	target.IsCurrent = true
	target.Status = StatusSaved
	target.SupersededAt = nil
	target.UpdatedAt = now
	return target.Clone(), nil
}

func sameDraftKey(a, b PriceList) bool {
	return a.Status == StatusDraft && b.Status == StatusDraft &&
		a.Kind == b.Kind && a.ScopeKey == b.ScopeKey &&
		a.EffectiveDate.Equal(b.EffectiveDate)
}

func inScope(l PriceList, scope Scope) bool {
	return l.Kind == scope.Kind && l.ScopeKey == scope.Key
}

func queryGet(lists []PriceList, id uuid.UUID) (PriceList, error) {
	for _, l := range lists {
		if l.ID == id {
			return l.Clone(), nil
		}
	}
	return PriceList{}, ErrNotFound
}

func queryCurrent(lists []PriceList, scope Scope) (PriceList, error) {
	for _, l := range lists {
		if l.IsCurrent && inScope(l, scope) {
			return l.Clone(), nil
		}
	}
	return PriceList{}, ErrNotFound
}

func queryHistory(lists []PriceList, scope Scope, date time.Time) []PriceList {
	date = Date(date)
	var out []PriceList
	for _, l := range lists {
		if l.Saved() && inScope(l, scope) && !l.EffectiveDate.After(date) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EffectiveDate.Equal(out[j].EffectiveDate) {
			return out[i].EffectiveDate.After(out[j].EffectiveDate)
		}
		return out[i].Seq > out[j].Seq
	})
	return out
}

func queryAsOf(lists []PriceList, scope Scope, date time.Time) (PriceList, error) {
	history := queryHistory(lists, scope, date)
	if len(history) == 0 {
		return PriceList{}, ErrNotFound
	}
	return history[0], nil
}

func queryVersions(lists []PriceList, scope Scope) []PriceList {
	var out []PriceList
	for _, l := range lists {
		if inScope(l, scope) {
			out = append(out, l.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out
}

func queryEditable(lists []PriceList, scope Scope, date time.Time) (PriceList, error) {
	var saved *PriceList
	for i := range lists {
		l := lists[i]
		if !inScope(l, scope) || !l.EffectiveDate.Equal(date) || !l.Editable() {
			continue
		}
		if l.Status == StatusDraft {
			return l.Clone(), nil
		}
		if saved == nil || l.Seq > saved.Seq {
			saved = &lists[i]
		}
	}
	if saved == nil {
		return PriceList{}, ErrNotFound
	}
	return saved.Clone(), nil
}

func queryDraft(lists []PriceList, scope Scope) (PriceList, error) {
	var draft *PriceList
	for i := range lists {
		l := lists[i]
		if l.Status != StatusDraft || !inScope(l, scope) {
			continue
		}
		if draft == nil || l.Seq > draft.Seq {
			draft = &lists[i]
		}
	}
	if draft == nil {
		return PriceList{}, ErrNotFound
	}
	return draft.Clone(), nil
}

func queryCarrying(lists []PriceList, productIDs []string) map[string][]string {
	wanted := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		wanted[id] = struct{}{}
	}
	seen := make(map[string]map[string]struct{})
	for _, l := range lists {
		if l.Kind != KindPurchase || !l.Saved() {
			continue
		}
		for _, it := range l.Items {
			if _, ok := wanted[it.ProductID]; !ok {
				continue
			}
			if seen[it.ProductID] == nil {
				seen[it.ProductID] = make(map[string]struct{})
			}
			seen[it.ProductID][l.ScopeKey] = struct{}{}
		}
	}
	out := make(map[string][]string, len(seen))
	for productID, suppliers := range seen {
		ids := make([]string, 0, len(suppliers))
		for id := range suppliers {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		out[productID] = ids
	}
	return out
}
