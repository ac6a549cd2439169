// Package collections provides typed CRUD over the record store for the
// back-office entities: leads, customers, employees, materials, invoices,
// payroll, expenses and QR codes.
package collections

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meshworks/backoffice/internal/activity"
	"github.com/meshworks/backoffice/internal/rbac"
	"github.com/meshworks/backoffice/internal/shared"
	"github.com/meshworks/backoffice/internal/store"
)

const maxAttempts = 3

// Base carries the identity and timestamps every entity shares.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (b *Base) base() *Base { return b }

// record is satisfied by a pointer to any entity embedding Base.
type record[T any] interface {
	*T
	base() *Base
}

// deriver recomputes read-only fields. It runs after every load and before
// every save.
type deriver interface{ derive() }

// searchable returns the text matched by free-text search.
type searchable interface{ searchText() string }

// Hooks customise one collection. All are optional.
type Hooks[T any] struct {
	// BeforeSave validates cross-record rules. old is nil on create.
	BeforeSave func(ctx context.Context, next, old *T) error
	// AfterSave runs once the write is committed. An error on create removes
	// the new record again and is returned to the caller.
	AfterSave func(ctx context.Context, saved, old *T) error
	// Describe renders the activity detail for a change. old is nil on create.
	Describe func(action string, v, old *T) string
}

// Collection is the typed view of one store collection.
type Collection[T any, P record[T]] struct {
	name     string
	menu     string
	store    store.Store
	activity *activity.Log
	logger   *slog.Logger
	locks    *shared.KeyedLocker
	hooks    Hooks[T]
	sorters  map[string]func(a, b *T) int
	onChange []func(ctx context.Context)
	clock    func() time.Time
	newID    func() string
}

// New builds a collection stored under name and gated by menu.
func New[T any, P record[T]](name, menu string, s store.Store, log *activity.Log, logger *slog.Logger) *Collection[T, P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collection[T, P]{
		name:     name,
		menu:     menu,
		store:    s,
		activity: log,
		logger:   logger.With(slog.String("collection", name)),
		locks:    shared.NewKeyedLocker(),
		sorters: map[string]func(a, b *T) int{
			"createdAt": func(a, b *T) int { return P(a).base().CreatedAt.Compare(P(b).base().CreatedAt) },
			"updatedAt": func(a, b *T) int { return P(a).base().UpdatedAt.Compare(P(b).base().UpdatedAt) },
		},
		clock: func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// Name is the store collection name.
func (c *Collection[T, P]) Name() string { return c.name }

// Menu is the menu gating this collection.
func (c *Collection[T, P]) Menu() string { return c.menu }

// WithHooks installs entity hooks.
func (c *Collection[T, P]) WithHooks(h Hooks[T]) *Collection[T, P] {
	c.hooks = h
	return c
}

// SortBy registers a named ordering usable in ListOptions.
func (c *Collection[T, P]) SortBy(key string, cmp func(a, b *T) int) *Collection[T, P] {
	c.sorters[key] = cmp
	return c
}

// OnChange registers a callback fired after every committed write.
func (c *Collection[T, P]) OnChange(fn func(ctx context.Context)) *Collection[T, P] {
	c.onChange = append(c.onChange, fn)
	return c
}

// ListOptions filters, orders and pages a listing.
type ListOptions[T any] struct {
	// Match is pushed down to the store as field equality.
	Match   map[string]any
	Filter  func(*T) bool
	Search  string
	SortBy  string
	Desc    bool
	Page    int
	PerPage int
}

// Page is one page of a listing.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Create stores a new entity with a fresh id.
func (c *Collection[T, P]) Create(ctx context.Context, v T) (T, error) {
	var zero T
	if _, err := rbac.RequireEdit(ctx, c.menu); err != nil {
		return zero, err
	}
	p := P(&v)
	now := c.clock()
	b := p.base()
	b.ID = c.newID()
	b.CreatedAt = now
	b.UpdatedAt = now
	if err := c.prepare(ctx, p, nil); err != nil {
		return zero, err
	}
	doc := store.NewDocument(b.ID)
	if err := doc.Encode(v); err != nil {
		return zero, err
	}
	if _, err := c.store.Put(ctx, c.name, doc, store.AnyVersion); err != nil {
		return zero, fmt.Errorf("collections: create %s: %w", c.name, err)
	}
	if err := c.afterSave(ctx, p, nil); err != nil {
		if delErr := c.store.Delete(ctx, c.name, b.ID); delErr != nil {
			c.logger.Error("rollback of failed create",
				slog.String("collection", c.name),
				slog.String("id", b.ID),
				slog.Any("error", delErr))
		}
		return zero, fmt.Errorf("collections: create %s: %w", c.name, err)
	}
	c.committed(ctx, "created", p, nil)
	return v, nil
}

// Get loads one entity.
func (c *Collection[T, P]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if _, err := rbac.RequireView(ctx, c.menu); err != nil {
		return zero, err
	}
	return c.load(ctx, id)
}

// Update replaces the editable fields of an entity. Fields stored on the
// same record by other packages are kept.
func (c *Collection[T, P]) Update(ctx context.Context, id string, v T) (T, error) {
	var zero T
	if _, err := rbac.RequireEdit(ctx, c.menu); err != nil {
		return zero, err
	}
	unlock := c.locks.Lock(shared.DocumentLockKey(c.name, id))
	defer unlock()

	var old T
	_, err := store.Update(ctx, c.store, c.name, id, maxAttempts, func(doc *store.Document) error {
		old = *new(T)
		if err := doc.Decode(&old); err != nil {
			return fmt.Errorf("collections: decode %s/%s: %w", c.name, id, err)
		}
		next := v
		p := P(&next)
		b := p.base()
		ob := P(&old).base()
		b.ID = id
		b.CreatedAt = ob.CreatedAt
		b.UpdatedAt = c.clock()
		if err := c.prepare(ctx, p, &old); err != nil {
			return err
		}
		v = next
		return doc.Encode(next)
	})
	if err != nil {
		return zero, fmt.Errorf("collections: update %s/%s: %w", c.name, id, err)
	}
	if err := c.afterSave(ctx, P(&v), &old); err != nil {
		return zero, fmt.Errorf("collections: update %s/%s: %w", c.name, id, err)
	}
	c.committed(ctx, "updated", P(&v), &old)
	return v, nil
}

// Delete removes an entity.
func (c *Collection[T, P]) Delete(ctx context.Context, id string) error {
	if _, err := rbac.RequireEdit(ctx, c.menu); err != nil {
		return err
	}
	old, err := c.load(ctx, id)
	if err != nil {
		return err
	}
	if err := c.store.Delete(ctx, c.name, id); err != nil {
		return fmt.Errorf("collections: delete %s/%s: %w", c.name, id, err)
	}
	c.committed(ctx, "deleted", P(&old), &old)
	return nil
}

// List returns one page of entities.
func (c *Collection[T, P]) List(ctx context.Context, opts ListOptions[T]) (Page[T], error) {
	if _, err := rbac.RequireView(ctx, c.menu); err != nil {
		return Page[T]{}, err
	}
	items, err := c.All(ctx, opts.Match)
	if err != nil {
		return Page[T]{}, err
	}
	needle := strings.ToLower(strings.TrimSpace(opts.Search))
	filtered := items[:0]
	for i := range items {
		item := &items[i]
		if opts.Filter != nil && !opts.Filter(item) {
			continue
		}
		if needle != "" {
			s, ok := any(item).(searchable)
			if !ok || !strings.Contains(strings.ToLower(s.searchText()), needle) {
				continue
			}
		}
		filtered = append(filtered, *item)
	}

	key := opts.SortBy
	if key == "" {
		key = "createdAt"
	}
	cmp, ok := c.sorters[key]
	if !ok {
		return Page[T]{}, shared.Invalid("sort", fmt.Sprintf("unknown field %q", key))
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		r := cmp(&filtered[i], &filtered[j])
		if opts.Desc {
			return r > 0
		}
		return r < 0
	})

	pg := shared.NewPagination(opts.Page, opts.PerPage, len(filtered))
	start, end := pg.Window()
	return Page[T]{
		Items:      append([]T{}, filtered[start:end]...),
		Page:       pg.Page,
		PerPage:    pg.PerPage,
		Total:      pg.Total,
		TotalPages: pg.TotalPages,
	}, nil
}

// All loads every entity matching match without a permission check. It
// serves in-process readers such as the dashboard.
func (c *Collection[T, P]) All(ctx context.Context, match map[string]any) ([]T, error) {
	docs, err := c.store.Query(ctx, c.name, store.Query{Match: match})
	if err != nil {
		return nil, fmt.Errorf("collections: list %s: %w", c.name, err)
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		v, err := c.decode(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection[T, P]) load(ctx context.Context, id string) (T, error) {
	doc, err := c.store.Get(ctx, c.name, id)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("collections: get %s/%s: %w", c.name, id, err)
	}
	return c.decode(doc)
}

func (c *Collection[T, P]) decode(doc store.Document) (T, error) {
	var v T
	if err := doc.Decode(&v); err != nil {
		return v, fmt.Errorf("collections: decode %s/%s: %w", c.name, doc.ID, err)
	}
	P(&v).base().ID = doc.ID
	if d, ok := any(&v).(deriver); ok {
		d.derive()
	}
	return v, nil
}

func (c *Collection[T, P]) prepare(ctx context.Context, p P, old *T) error {
	if d, ok := any(p).(deriver); ok {
		d.derive()
	}
	if err := shared.ValidateStruct(p); err != nil {
		return fmt.Errorf("collections: %s: %w", c.name, err)
	}
	if c.hooks.BeforeSave != nil {
		if err := c.hooks.BeforeSave(ctx, (*T)(p), old); err != nil {
			return fmt.Errorf("collections: %s: %w", c.name, err)
		}
	}
	return nil
}

func (c *Collection[T, P]) afterSave(ctx context.Context, p P, old *T) error {
	if c.hooks.AfterSave == nil {
		return nil
	}
	return c.hooks.AfterSave(ctx, (*T)(p), old)
}

func (c *Collection[T, P]) committed(ctx context.Context, action string, p P, old *T) {
	details := action
	if c.hooks.Describe != nil {
		details = c.hooks.Describe(action, (*T)(p), old)
	}
	c.activity.Record(ctx, activity.Subject(c.name, p.base().ID), c.name+"."+action, details)
	for _, fn := range c.onChange {
		fn(ctx)
	}
	c.logger.Debug("entity "+action, slog.String("id", p.base().ID))
}
