package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"bidhub/internal/service/negotiation/application"
	"bidhub/internal/service/negotiation/application/saga"
	"bidhub/internal/service/negotiation/domain"
	"bidhub/internal/service/negotiation/domain/port"
	"bidhub/internal/service/negotiation/infrastructure/memory"
)

type okOrders struct{ seq atomic.Int32 }

func (o *okOrders) CreateOrder(context.Context, port.OrderRequest) (string, error) {
	return fmt.Sprintf("order-%d", o.seq.Add(1)), nil
}
func (o *okOrders) CancelOrder(context.Context, string) error { return nil }

type okInvoices struct{}

func (okInvoices) CreateInvoice(context.Context, port.InvoiceRequest) (string, error) {
	return "invoice-1", nil
}
func (okInvoices) VoidInvoice(context.Context, string) error { return nil }

func newTestServer(t *testing.T, stock int) *httptest.Server {
	t.Helper()
	tracer := otel.Tracer("http-test")
	repo := memory.NewBidRepository()
	catalog := memory.NewCatalog()
	require.NoError(t, catalog.PutProduct(context.Background(), "sku-1", stock, true))

	ledger := application.NewInventoryLedger(catalog, 0, tracer, nil)
	coordinator := saga.NewCoordinator(repo, ledger, &okOrders{}, okInvoices{}, tracer, nil, 0)
	svc := application.NewNegotiationService(repo, ledger, coordinator, nil, nil, tracer, nil, 0)

	mux := http.NewServeMux()
	NewNegotiationHandler(svc).RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path, party string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if party != "" {
		req.Header.Set(PartyHeader, party)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestNegotiationOverHTTP(t *testing.T) {
	srv := newTestServer(t, 5)

	var created application.BidView
	status := call(t, srv, http.MethodPost, "/bids", "alice", map[string]interface{}{
		"vendorId": "acme", "productId": "sku-1", "amount": 100, "quantity": 2,
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "alice", created.BuyerID)
	assert.Equal(t, domain.StatusPending, created.Status)
	assert.Equal(t, domain.PartyVendor, created.AwaitingAction)

	var countered application.BidView
	status = call(t, srv, http.MethodPost, "/bids/"+created.ID+"/counter", "acme", map[string]interface{}{
		"amount": 110, "quantity": 2,
	}, &countered)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, countered.CounterHistory, 1)
	assert.Equal(t, domain.PartyBuyer, countered.AwaitingAction)

	// 请求体中的条款被忽略，成交价以服务端为准
	var accepted application.AcceptResponse
	status = call(t, srv, http.MethodPost, "/bids/"+created.ID+"/accept", "alice", map[string]interface{}{
		"amount": 1,
	}, &accepted)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StatusAccepted, accepted.Bid.Status)
	require.NotNil(t, accepted.Bid.Agreement)
	assert.Equal(t, 110.0, accepted.Bid.Agreement.Amount)
	assert.Equal(t, "order-1", accepted.OrderID)

	var errBody errorBody
	status = call(t, srv, http.MethodPost, "/bids/"+created.ID+"/accept", "alice", nil, &errBody)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "bid_not_pending", errBody.Code)

	var mine []application.BidView
	status = call(t, srv, http.MethodGet, "/bids/mine?status=accepted", "alice", nil, &mine)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, mine, 1)
}

func TestHTTPErrorMapping(t *testing.T) {
	srv := newTestServer(t, 1)

	var created application.BidView
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/bids", "alice", map[string]interface{}{
		"vendorId": "acme", "productId": "sku-1", "amount": 10, "quantity": 1,
	}, &created))

	cases := []struct {
		name   string
		method string
		path   string
		party  string
		body   interface{}
		status int
		code   string
	}{
		{"missing party", http.MethodGet, "/bids/" + created.ID, "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"stranger", http.MethodGet, "/bids/" + created.ID, "mallory", nil, http.StatusForbidden, "unauthorized"},
		{"unknown bid", http.MethodGet, "/bids/nope", "alice", nil, http.StatusNotFound, "bid_not_found"},
		{"wrong turn", http.MethodPost, "/bids/" + created.ID + "/counter", "alice", map[string]int{"amount": 9, "quantity": 1}, http.StatusConflict, "not_your_turn"},
		{"bad terms", http.MethodPost, "/bids/" + created.ID + "/counter", "acme", map[string]int{"amount": 0, "quantity": 1}, http.StatusUnprocessableEntity, "validation_error"},
		{"too much", http.MethodPost, "/bids", "bob", map[string]interface{}{"vendorId": "acme", "productId": "sku-1", "amount": 10, "quantity": 9}, http.StatusUnprocessableEntity, "product_unavailable"},
		{"counter too much", http.MethodPost, "/bids/" + created.ID + "/counter", "acme", map[string]int{"amount": 9, "quantity": 9}, http.StatusUnprocessableEntity, "product_unavailable"},
		{"vendor withdraw", http.MethodPost, "/bids/" + created.ID + "/withdraw", "acme", nil, http.StatusForbidden, "unauthorized"},
		{"no highest", http.MethodGet, "/products/sku-2/highest-bid", "", nil, http.StatusNotFound, "bid_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var body errorBody
			status := call(t, srv, tc.method, tc.path, tc.party, tc.body, &body)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body.Code)
		})
	}

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/bids", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	req.Header.Set(PartyHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOutOfStockIsRetryable(t *testing.T) {
	srv := newTestServer(t, 1)

	ids := make([]string, 2)
	for i, buyer := range []string{"alice", "bob"} {
		var v application.BidView
		require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, "/bids", buyer, map[string]interface{}{
			"vendorId": "acme", "productId": "sku-1", "amount": 12 - 2*i, "quantity": 1,
		}, &v))
		ids[i] = v.ID
	}

	var highest application.BidView
	require.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/products/sku-1/highest-bid", "", nil, &highest))
	assert.Equal(t, ids[0], highest.ID)

	require.Equal(t, http.StatusOK, call(t, srv, http.MethodPost, "/bids/"+ids[0]+"/accept", "acme", nil, nil))

	var body errorBody
	status := call(t, srv, http.MethodPost, "/bids/"+ids[1]+"/accept", "acme", nil, &body)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "out_of_stock", body.Code)
	assert.True(t, body.Retryable)

	var reject application.BidView
	status = call(t, srv, http.MethodPost, "/bids/"+ids[1]+"/reject", "acme", map[string]string{"message": "sold out"}, &reject)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.StatusRejected, reject.Status)
	assert.Equal(t, "sold out", reject.RejectReason)
}
