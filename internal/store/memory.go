package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goinginblind/scribe/internal/domain"
)

// MemoryStore keeps orders and settings in process memory. It mirrors the
// semantics of DBStore and backs tests and database-less local runs.
type MemoryStore struct {
	mu           sync.RWMutex
	nextID       int64
	orders       map[int64]*domain.Order
	byPaymentRef map[string]int64
	byInitRef    map[string]int64
	settings     *domain.Settings
	now          func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:       make(map[int64]*domain.Order),
		byPaymentRef: make(map[string]int64),
		byInitRef:    make(map[string]int64),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Create validates the draft and stores a new order in status created.
func (s *MemoryStore) Create(_ context.Context, d domain.OrderDraft) (*domain.Order, error) {
	d.Normalize()
	if err := d.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byInitRef[d.PaymentInitiationRef]; taken {
		return nil, fmt.Errorf("%w: initiation_ref=%s", ErrAlreadyExists, d.PaymentInitiationRef)
	}

	s.nextID++
	now := s.now()
	o := &domain.Order{
		ID:                   s.nextID,
		Topic:                d.Topic,
		WordCount:            d.WordCount,
		Status:               domain.StatusCreated,
		Price:                d.Price,
		CustomerEmail:        d.CustomerEmail,
		PaymentInitiationRef: d.PaymentInitiationRef,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	s.orders[o.ID] = o
	s.byInitRef[o.PaymentInitiationRef] = o.ID
	return o.Clone(), nil
}

// Get retrieves a single order by id.
func (s *MemoryStore) Get(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

// GetByPaymentReference looks an order up by the gateway's payment id.
func (s *MemoryStore) GetByPaymentReference(ctx context.Context, ref string) (*domain.Order, error) {
	s.mu.RLock()
	id, ok := s.byPaymentRef[ref]
	s.mu.RUnlock()
	if !ok || strings.TrimSpace(ref) == "" {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// GetByInitiationRef looks an order up by the reference handed out at creation.
func (s *MemoryStore) GetByInitiationRef(ctx context.Context, ref string) (*domain.Order, error) {
	s.mu.RLock()
	id, ok := s.byInitRef[ref]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Update applies the non-nil fields of u atomically and bumps UpdatedAt.
func (s *MemoryStore) Update(_ context.Context, id int64, u domain.OrderUpdate) (*domain.Order, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.ExpectStatus != nil && o.Status != *u.ExpectStatus {
		return nil, fmt.Errorf("%w: order %d is %s, expected %s", ErrStatusConflict, id, o.Status, *u.ExpectStatus)
	}
	if u.PaymentReference != nil {
		if owner, taken := s.byPaymentRef[*u.PaymentReference]; taken && owner != id {
			return nil, fmt.Errorf("%w: payment_reference is owned by another order", ErrAlreadyExists)
		}
	}

	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.PaymentReference != nil {
		if o.PaymentReference != nil {
			delete(s.byPaymentRef, *o.PaymentReference)
		}
		ref := *u.PaymentReference
		o.PaymentReference = &ref
		s.byPaymentRef[ref] = id
	}
	if u.Content != nil {
		content, cost := *u.Content, *u.APICost
		o.Content = &content
		o.APICost = &cost
	}
	o.UpdatedAt = s.now()
	return o.Clone(), nil
}

// List returns one page of orders, newest first, plus the total number of
// matches below the cursor.
func (s *MemoryStore) List(_ context.Context, f domain.ListFilter) (*domain.OrderPage, error) {
	f.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if f.Before == 0 {
		f.Before = s.nextID
	}

	var matched []*domain.Order
	for _, o := range s.orders {
		if matchesFilter(o, f) {
			matched = append(matched, o)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	page := &domain.OrderPage{
		Items:    make([]*domain.Order, 0, f.PageSize),
		Total:    int64(len(matched)),
		Page:     f.Page,
		PageSize: f.PageSize,
		Before:   f.Before,
	}
	for i := f.Offset(); i < len(matched) && len(page.Items) < f.PageSize; i++ {
		page.Items = append(page.Items, matched[i].Clone())
	}
	return page, nil
}

func matchesFilter(o *domain.Order, f domain.ListFilter) bool {
	if o.ID > f.Before {
		return false
	}
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.From != nil && o.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !o.CreatedAt.Before(*f.To) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		if strings.Contains(strings.ToLower(o.CustomerEmail), q) || strings.Contains(strings.ToLower(o.Topic), q) {
			return true
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(q, "#"), 10, 64)
		return err == nil && id == o.ID
	}
	return true
}

// Stats computes the administrative totals.
func (s *MemoryStore) Stats(_ context.Context) (*domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st domain.Stats
	for _, o := range s.orders {
		st.TotalOrders++
		st.TotalRevenue += o.Price
		if o.Status.IsPending() {
			st.PendingOrders++
		}
	}
	return &st, nil
}

// ListByStatus returns up to limit orders in the given status, oldest first.
func (s *MemoryStore) ListByStatus(_ context.Context, status domain.Status, limit int) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Order
	for _, o := range s.orders {
		if o.Status == status {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetSettings returns the settings, seeding defaults on first use.
func (s *MemoryStore) GetSettings(_ context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		def := domain.DefaultSettings()
		s.settings = &def
	}
	return *s.settings, nil
}

// SaveSettingsSection persists one section of settings.
func (s *MemoryStore) SaveSettingsSection(_ context.Context, name string, settings domain.Settings) error {
	src, err := settings.Section(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		def := domain.DefaultSettings()
		s.settings = &def
	}
	switch v := src.(type) {
	case *domain.PricingSettings:
		s.settings.Pricing = *v
	case *domain.MailSettings:
		s.settings.Mail = *v
	case *domain.CredentialsSettings:
		s.settings.Credentials = *v
	}
	return nil
}

// PingContext always succeeds, there is nothing to lose a connection to.
func (s *MemoryStore) PingContext(context.Context) error {
	return nil
}
