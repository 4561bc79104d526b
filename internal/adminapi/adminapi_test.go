package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	size  int
	debug string
}

func (f fakeQueue) Size() int       { return f.size }
func (f fakeQueue) ToDebug() string { return f.debug }

func TestSizeEndpoint(t *testing.T) {
	s := New(nil)
	s.Register("orders", fakeQueue{size: 3, debug: "jq[orders]: 1 reader(s)"})

	req := httptest.NewRequest(http.MethodGet, "/queues/orders/size", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "orders", body["name"])
	require.Equal(t, float64(3), body["size"])
	require.NotEmpty(t, rec.Header().Get("X-Correlation-Id"))
}

func TestDebugEndpoint(t *testing.T) {
	s := New(nil)
	s.Register("orders", fakeQueue{size: 0, debug: "jq[orders]: empty"})

	req := httptest.NewRequest(http.MethodGet, "/queues/orders/debug", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "jq[orders]: empty", body["debug"])
}

func TestUnknownQueueReturns404(t *testing.T) {
	s := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/queues/nope/size", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnregisterRemovesQueue(t *testing.T) {
	s := New(nil)
	s.Register("orders", fakeQueue{size: 1})
	s.Unregister("orders")

	req := httptest.NewRequest(http.MethodGet, "/queues/orders/size", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorrelationIDIsPreservedWhenProvided(t *testing.T) {
	s := New(nil)
	s.Register("orders", fakeQueue{size: 0})

	req := httptest.NewRequest(http.MethodGet, "/queues/orders/size", nil)
	req.Header.Set("X-Correlation-Id", "fixed-id")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, "fixed-id", rec.Header().Get("X-Correlation-Id"))
}

func TestMetricsEndpointServesExposition(t *testing.T) {
	s := New(nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
