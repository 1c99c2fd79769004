package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/inventory"
	"github.com/joao-fontenele/orderflow-payments/internal/payment"
)

// memDB is an in-memory stand-in for the Postgres store, variant and cart
// repositories. Materialize is atomic under the mutex and rejects a second
// order for the same number the way the unique constraint does.
type memDB struct {
	mu        sync.Mutex
	variants  map[string]domain.Variant
	cart      []domain.CartLine
	intents   map[string]*domain.CheckoutIntent
	orders    map[string]*domain.Order
	incidents []domain.Incident

	// beforeMaterialize runs without the lock held, just before Materialize.
	beforeMaterialize func()
	materializeCalls  int
}

func newMemDB() *memDB {
	return &memDB{
		variants: make(map[string]domain.Variant),
		intents:  make(map[string]*domain.CheckoutIntent),
		orders:   make(map[string]*domain.Order),
	}
}

func (m *memDB) addVariant(v domain.Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.variants[v.ID] = v
}

func (m *memDB) setStock(id string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.variants[id]
	v.AvailableStock = stock
	m.variants[id] = v
}

func (m *memDB) stock(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variants[id].AvailableStock
}

func (m *memDB) addCartLine(userID, productID, variantID string, qty int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.cart = append(m.cart, domain.CartLine{ID: id, UserID: userID, ProductID: productID, VariantID: variantID, Quantity: qty})
	return id
}

func (m *memDB) cartSize(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.cart {
		if l.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memDB) orderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memDB) intentState(ref string) domain.IntentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.intents[ref]; ok {
		return i.State
	}
	return ""
}

func (m *memDB) incidentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.incidents)
}

func (m *memDB) GetVariants(ctx context.Context, ids []string) (map[string]domain.Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Variant)
	for _, id := range ids {
		if v, ok := m.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (m *memDB) ListLines(ctx context.Context, userID string, ids []string) ([]domain.CartLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	var out []domain.CartLine
	for _, l := range m.cart {
		if l.UserID != userID || (len(ids) > 0 && !want[l.ID]) {
			continue
		}
		if v, ok := m.variants[l.VariantID]; ok {
			l.Variant = &v
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *memDB) ReferenceExists(ctx context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, intent := m.intents[ref]
	_, order := m.orders[ref]
	return intent || order, nil
}

func (m *memDB) CreateIntent(ctx context.Context, intent *domain.CheckoutIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.intents[intent.Reference]; ok {
		return ErrReferenceTaken
	}
	cp := *intent
	m.intents[intent.Reference] = &cp
	return nil
}

func (m *memDB) GetIntent(ctx context.Context, ref string) (*domain.CheckoutIntent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[ref]
	if !ok {
		return nil, nil
	}
	cp := *i
	return &cp, nil
}

func (m *memDB) SetIntentState(ctx context.Context, ref string, state domain.IntentState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[ref]
	if !ok || i.State != domain.IntentStateOpen {
		return false, nil
	}
	i.State = state
	return true, nil
}

func (m *memDB) GetOrder(ctx context.Context, orderNumber string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNumber]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *memDB) Materialize(ctx context.Context, intent *domain.CheckoutIntent, order *domain.Order) error {
	if m.beforeMaterialize != nil {
		m.beforeMaterialize()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.materializeCalls++

	if _, ok := m.orders[order.OrderNumber]; ok {
		return ErrSettlementConflict
	}

	need := make(map[string]int)
	for _, l := range intent.Lines {
		need[l.VariantID] += l.Quantity
	}
	for id, qty := range need {
		if m.variants[id].AvailableStock < qty {
			return inventory.ErrInsufficientStock
		}
	}

	stored, ok := m.intents[intent.Reference]
	if !ok || stored.State != domain.IntentStateOpen {
		return ErrSettlementConflict
	}

	for id, qty := range need {
		v := m.variants[id]
		v.AvailableStock -= qty
		m.variants[id] = v
	}

	cleared := make(map[string]bool)
	for _, id := range intent.CartItemIDs() {
		cleared[id] = true
	}
	kept := m.cart[:0]
	for _, l := range m.cart {
		if !(l.UserID == intent.UserID && cleared[l.ID]) {
			kept = append(kept, l)
		}
	}
	m.cart = kept

	stored.State = domain.IntentStateConsumed
	order.ID = uuid.NewString()
	cp := *order
	m.orders[order.OrderNumber] = &cp
	return nil
}

func (m *memDB) RecordIncident(ctx context.Context, inc *domain.Incident) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.incidents {
		if existing.OrderNumber == inc.OrderNumber && existing.Kind == inc.Kind {
			return false, nil
		}
	}
	m.incidents = append(m.incidents, *inc)
	return true, nil
}

func (m *memDB) ListIncidents(ctx context.Context, includeResolved bool) ([]domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Incident{}
	for _, inc := range m.incidents {
		if includeResolved || !inc.Resolved {
			out = append(out, inc)
		}
	}
	return out, nil
}

func (m *memDB) ResolveIncident(ctx context.Context, id string, at time.Time) (*domain.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.incidents {
		if m.incidents[i].ID == id {
			m.incidents[i].Resolved = true
			m.incidents[i].ResolvedAt = &at
			cp := m.incidents[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memDB) AbandonExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, i := range m.intents {
		if i.State == domain.IntentStateOpen && i.Expired(now) {
			i.State = domain.IntentStateAbandoned
			n++
		}
	}
	return n, nil
}

func (m *memDB) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for ref, i := range m.intents {
		switch i.State {
		case domain.IntentStateConsumed, domain.IntentStateFailed, domain.IntentStateAbandoned:
			if i.CreatedAt.Before(cutoff) {
				delete(m.intents, ref)
				n++
			}
		}
	}
	return n, nil
}

type fakeGateway struct {
	mu         sync.Mutex
	statuses   map[string]payment.Status
	requests   []payment.CreateOrderRequest
	createErr  error
	statusErr  error
	statusCall int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]payment.Status)}
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req payment.CreateOrderRequest) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.statuses[req.Reference] = payment.StatusActive
	return &payment.Session{PaymentSessionID: "sess1", GatewayOrderID: "cf_" + req.Reference}, nil
}

func (g *fakeGateway) GetOrderStatus(ctx context.Context, ref string) (*payment.OrderStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCall++
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	status, ok := g.statuses[ref]
	if !ok {
		return nil, &payment.RejectedError{StatusCode: 404, Code: "order_not_found", Message: "order not found"}
	}
	return &payment.OrderStatus{Reference: ref, Status: status, SettlementID: "cf_" + ref}, nil
}

func (g *fakeGateway) set(ref string, status payment.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[ref] = status
}

func (g *fakeGateway) createCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var errBoom = errors.New("boom")

type fixture struct {
	db        *memDB
	gateway   *fakeGateway
	orders    *recordingPublisher
	alerts    *recordingPublisher
	clock     *fakeClock
	service   *Service
	incidents *Incidents
}

func newFixture() *fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		db:      newMemDB(),
		gateway: newFakeGateway(),
		orders:  &recordingPublisher{},
		alerts:  &recordingPublisher{},
		clock:   &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
	}

	f.incidents = NewIncidents(f.db, f.alerts, logger)
	f.incidents.now = f.clock.Now

	f.service = NewService(f.db, f.db, f.db, f.gateway, f.incidents, f.orders, Options{
		Currency:         "INR",
		IntentTTL:        30 * time.Minute,
		TrackingLocation: "Online Store",
		ReturnURL:        ReturnURLPolicy{FrontendURL: "https://shop.example", Placeholder: "https://example.com"},
	}, logger)
	f.service.now = f.clock.Now

	f.db.addVariant(domain.Variant{ID: "V", ProductID: "P", ProductName: "Shirt", Title: "Large", SellingPrice: 10000, AvailableStock: 5})
	return f
}

var customer = domain.Customer{ID: "u1", Email: "u1@example.com", Name: "User One", Phone: "9876543210"}

func (f *fixture) initiateCart(ctx context.Context) (*InitiateResult, error) {
	return f.service.Initiate(ctx, InitiateRequest{
		Customer:        customer,
		ShippingAddress: "1 Main St",
		Origin:          "https://shop.example",
	})
}
