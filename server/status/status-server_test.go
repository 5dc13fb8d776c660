package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/pprof/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-tankloop/logger"
	"go-tankloop/metrics"
)

func newTestServer(t *testing.T, opts ...Option) *Server {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.NewGateway()
	require.NoError(t, m.Register(reg))
	m.SetLevel(33.5)

	return NewServer(logger.NewSlogWriter(io.Discard, logger.ErrorLevel, false), reg, opts...)
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	return rec
}

func TestMetricsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tankloop_gateway_tank_level 33.5")
}

func TestStateEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/state")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s := newTestServer(t, WithState(func() any {
		return map[string]float64{"level": 12.5}
	}))
	rec = get(t, s, "/api/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"level": 12.5}`, rec.Body.String())
}

func TestClientsEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/clients")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	s := newTestServer(t, WithClients(func() map[string]int64 {
		return map[string]int64{"127.0.0.1:50000": 42}
	}))
	rec = get(t, s, "/api/clients")
	assert.JSONEq(t, `{"127.0.0.1:50000": 42}`, rec.Body.String())
}

func TestResourceEndpoint(t *testing.T) {
	rec := get(t, newTestServer(t), "/api/resource")
	require.Equal(t, http.StatusOK, rec.Code)

	var rsp resourceRsp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rsp))
	assert.Greater(t, rsp.MemorySize, uint64(0))
}

func TestProfileEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := get(t, s, "/api/profile?duration=forever")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, s, "/api/profile?duration=50ms")
	require.Equal(t, http.StatusOK, rec.Code)

	var rsp profileRsp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rsp))
	assert.Greater(t, rsp.DurationNanos, int64(0))
}

func TestSummarizeProfile(t *testing.T) {
	fnA := &profile.Function{ID: 1, Name: "a"}
	fnB := &profile.Function{ID: 2, Name: "b"}
	locA := &profile.Location{ID: 1, Line: []profile.Line{{Function: fnA}}}
	locB := &profile.Location{ID: 2, Line: []profile.Line{{Function: fnB}}}

	rsp := summarizeProfile(&profile.Profile{
		DurationNanos: 10,
		Sample: []*profile.Sample{
			{Location: []*profile.Location{locA}, Value: []int64{1}},
			{Location: []*profile.Location{locB, locA}, Value: []int64{3}},
			{Location: []*profile.Location{locA}, Value: []int64{1}},
			{Value: []int64{7}},
		},
	})

	assert.Equal(t, 4, rsp.SampleCount)
	assert.Equal(t, []functionSamples{{Function: "b", Samples: 3}, {Function: "a", Samples: 2}}, rsp.Top)
}

func TestServeAndShutdown(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.Listen("127.0.0.1:0"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	resp, err := http.Get("http://" + s.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.True(t, strings.Contains(string(body), "tankloop_gateway"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
