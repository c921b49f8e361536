package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

type staticResolver struct {
	host string
	port int
	err  error
}

func (r staticResolver) DiscoverServiceInstance(string) (string, int, error) {
	return r.host, r.port, r.err
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"path": r.URL.Path,
			"echo": in["value"],
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPostJSONViaResolver(t *testing.T) {
	srv := echoServer(t)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(otel.Tracer("test"), staticResolver{host: host, port: port}, nil)
	var out map[string]string
	require.NoError(t, c.PostJSON(context.Background(), "order-service", "/orders", map[string]string{"value": "x"}, &out))
	assert.Equal(t, "/orders", out["path"])
	assert.Equal(t, "x", out["echo"])
}

func TestPostJSONFallsBackWhenDiscoveryFails(t *testing.T) {
	srv := echoServer(t)

	c := NewClient(otel.Tracer("test"), staticResolver{err: errors.New("nacos down")}, map[string]string{
		"order-service": srv.URL + "/",
	})
	var out map[string]string
	require.NoError(t, c.PostJSON(context.Background(), "order-service", "/orders/cancel", map[string]string{"value": "y"}, &out))
	assert.Equal(t, "/orders/cancel", out["path"])

	err := c.PostJSON(context.Background(), "invoice-service", "/invoices", nil, nil)
	assert.ErrorContains(t, err, "nacos down")
}

func TestPostJSONStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(otel.Tracer("test"), nil, map[string]string{"svc": srv.URL})
	err := c.PostJSON(context.Background(), "svc", "/x", map[string]int{"a": 1}, nil)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	assert.Equal(t, "svc", statusErr.Service)
}

func TestPostJSONHonoursContext(t *testing.T) {
	srv := echoServer(t)
	c := NewClient(otel.Tracer("test"), nil, map[string]string{"svc": srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.PostJSON(ctx, "svc", "/x", map[string]int{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
