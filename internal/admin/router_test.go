package admin

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/andrei-cloud/sockframe"
	"github.com/andrei-cloud/sockframe/server"
)

type fakeSource struct {
	alive  bool
	conns  []server.ConnInfo
	events []server.Event
}

func (f *fakeSource) IsAlive() bool                  { return f.alive }
func (f *fakeSource) ActiveConns() int               { return len(f.conns) }
func (f *fakeSource) Connections() []server.ConnInfo { return append([]server.ConnInfo(nil), f.conns...) }
func (f *fakeSource) RecentEvents() []server.Event   { return append([]server.Event(nil), f.events...) }

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()

	a, b := net.Pipe()
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	c := sockframe.NewConn(a, sockframe.NoTimeout)

	return &fakeSource{
		alive: true,
		conns: []server.ConnInfo{{Conn: c, Admitted: time.Now().Add(-time.Second)}},
		events: []server.Event{
			{Kind: server.EventAdmitted, ConnID: c.ID(), Time: time.Now()},
			{Kind: server.EventRejected, Remote: "127.0.0.1:5000", Time: time.Now()},
		},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	src := newFakeSource(t)
	r := NewRouter(src, nil, nil, zerolog.Nop())

	w := get(t, r, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, float64(1), body["active"])

	src.alive = false
	w = get(t, r, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestConnections(t *testing.T) {
	src := newFakeSource(t)
	r := NewRouter(src, nil, nil, zerolog.Nop())

	w := get(t, r, "/connections")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Count       int              `json:"count"`
		Connections []connectionView `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, src.conns[0].Conn.ID(), body.Connections[0].ID)
	require.Equal(t, "open", body.Connections[0].State)
	require.Equal(t, "pipe", body.Connections[0].Remote)
}

func TestEvents(t *testing.T) {
	src := newFakeSource(t)
	r := NewRouter(src, nil, nil, zerolog.Nop())

	var body struct {
		Count  int            `json:"count"`
		Events []server.Event `json:"events"`
	}

	w := get(t, r, "/events")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)

	w = get(t, r, "/events?kind=rejected")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, server.EventRejected, body.Events[0].Kind)
	require.Equal(t, "127.0.0.1:5000", body.Events[0].Remote)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	serverMetrics := server.NewMetrics(reg, "sockframe")
	serverMetrics.Rejected.Inc()
	httpMetrics := NewMetrics(reg, "sockframe")

	r := NewRouter(newFakeSource(t), reg, httpMetrics, zerolog.Nop())

	_ = get(t, r, "/healthz")
	w := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, strings.Contains(w.Body.String(), "sockframe_server_rejected_connections_total 1"))

	require.Equal(t, float64(1), testutil.ToFloat64(httpMetrics.requests.WithLabelValues("GET", "/healthz", "200")))
}

func TestUnknownRoute(t *testing.T) {
	r := NewRouter(newFakeSource(t), nil, nil, zerolog.Nop())
	w := get(t, r, "/nope")
	require.Equal(t, http.StatusNotFound, w.Code)
}
