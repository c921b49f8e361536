package application

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"bidhub/internal/service/negotiation/application/saga"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
	"bidhub/internal/service/negotiation/infrastructure/memory"
)

var testTracer = otel.Tracer("negotiation-test")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeOrders struct {
	mu        sync.Mutex
	seq       int
	created   []port.OrderRequest
	cancelled []string
	fail      error
	// byBid 模拟只按 bidId 去重的下游：同一出价总是返回同一订单
	byBid  bool
	issued map[string]string
}

func (f *fakeOrders) CreateOrder(_ context.Context, req port.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.created = append(f.created, req)
	if f.byBid {
		if id, ok := f.issued[req.BidID]; ok {
			return id, nil
		}
	}
	f.seq++
	id := fmt.Sprintf("order-%d", f.seq)
	if f.byBid {
		if f.issued == nil {
			f.issued = make(map[string]string)
		}
		f.issued[req.BidID] = id
	}
	return id, nil
}

func (f *fakeOrders) CancelOrder(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeOrders) Created() []port.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]port.OrderRequest(nil), f.created...)
}

func (f *fakeOrders) Cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

type fakeInvoices struct {
	mu      sync.Mutex
	seq     int
	created []port.InvoiceRequest
	voided  []string
	// hook 在创建发票时被调用，返回非 nil 时创建失败
	hook   func(ctx context.Context) error
	byBid  bool
	issued map[string]string
}

func (f *fakeInvoices) CreateInvoice(ctx context.Context, req port.InvoiceRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hook != nil {
		if err := f.hook(ctx); err != nil {
			return "", err
		}
	}
	f.created = append(f.created, req)
	if f.byBid {
		if id, ok := f.issued[req.BidID]; ok {
			return id, nil
		}
	}
	f.seq++
	id := fmt.Sprintf("invoice-%d", f.seq)
	if f.byBid {
		if f.issued == nil {
			f.issued = make(map[string]string)
		}
		f.issued[req.BidID] = id
	}
	return id, nil
}

func (f *fakeInvoices) VoidInvoice(_ context.Context, invoiceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.voided = append(f.voided, invoiceID)
	return nil
}

func (f *fakeInvoices) Voided() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.voided...)
}

func (f *fakeInvoices) Created() []port.InvoiceRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]port.InvoiceRequest(nil), f.created...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []*domain.BidEvent
	to     []string
}

func (n *recordingNotifier) Notify(_ context.Context, partyID string, ev *domain.BidEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	n.to = append(n.to, partyID)
	return nil
}

func (n *recordingNotifier) Types() []domain.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventType, 0, len(n.events))
	for _, ev := range n.events {
		out = append(out, ev.Type)
	}
	return out
}

func (n *recordingNotifier) Count(typ domain.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, ev := range n.events {
		if ev.Type == typ {
			c++
		}
	}
	return c
}

type stubPolicy struct{ allow bool }

func (p stubPolicy) Admit(context.Context, port.AdmissionFact) (bool, error) { return p.allow, nil }

type countingLease struct {
	mu      sync.Mutex
	granted bool
	calls   int
}

func (l *countingLease) TryAcquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.granted, nil
}

type harness struct {
	clock    *testClock
	repo     *memory.BidRepository
	catalog  *memory.Catalog
	ledger   *InventoryLedger
	orders   *fakeOrders
	invoices *fakeInvoices
	notifier *recordingNotifier
	events   *EventDispatcher
	svc      *NegotiationService
}

const testProduct = "prod-1"

func newHarness(t *testing.T, stock, ledgerRetries int) *harness {
	t.Helper()
	h := &harness{
		clock:    newTestClock(),
		repo:     memory.NewBidRepository(),
		catalog:  memory.NewCatalog(),
		orders:   &fakeOrders{},
		invoices: &fakeInvoices{},
		notifier: &recordingNotifier{},
	}
	require.NoError(t, h.catalog.PutProduct(context.Background(), testProduct, stock, true))

	h.ledger = NewInventoryLedger(h.catalog, ledgerRetries, testTracer, nil)
	coordinator := saga.NewCoordinator(h.repo, h.ledger, h.orders, h.invoices, testTracer, nil, 0)
	h.events = NewEventDispatcher(h.notifier, testTracer, 0)
	h.svc = NewNegotiationService(h.repo, h.ledger, coordinator, h.events, nil, testTracer, nil, 0).
		WithClock(h.clock.Now)
	return h
}

func (h *harness) createBid(t *testing.T, buyer string, amount float64, qty int) *domain.Bid {
	t.Helper()
	bid, err := h.svc.CreateBid(context.Background(), &CreateBidRequest{
		BuyerID:   buyer,
		VendorID:  "vendor-1",
		ProductID: testProduct,
		Amount:    amount,
		Quantity:  qty,
	})
	require.NoError(t, err)
	return bid
}

func (h *harness) available(t *testing.T) int {
	t.Helper()
	avail, err := h.catalog.GetAvailability(context.Background(), testProduct)
	require.NoError(t, err)
	return avail.AvailableQuantity
}
