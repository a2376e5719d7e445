package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recruitd/internal/task/engine"
	"recruitd/internal/task/scheduler"
	"recruitd/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func testSources() Sources {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "recruitd_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	fire := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	return Sources{
		Timers: func() []scheduler.TimerInfo {
			return []scheduler.TimerInfo{{ScheduleID: 4, Kind: "recruitment_started", FireAt: fire}}
		},
		Tasks:    func() engine.Snapshot { return engine.Snapshot{Enabled: true, Workers: 2} },
		Gatherer: reg,
	}
}

func TestEndpoints(t *testing.T) {
	s := New(Config{}, testSources(), logx.Nop())
	h := s.Handler(Config{Metrics: true, Pprof: true})

	rec := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	rec = get(t, h, "/timers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var timers []scheduler.TimerInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &timers))
	require.Len(t, timers, 1)
	assert.Equal(t, int64(4), timers[0].ScheduleID)

	rec = get(t, h, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"workers": 2`)

	rec = get(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recruitd_test_total 1")

	rec = get(t, h, "/debug/pprof/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/crons", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOptionalEndpointsOff(t *testing.T) {
	h := New(Config{}, testSources(), logx.Nop()).Handler(Config{})
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics", nil).Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/debug/pprof/", nil).Code)
}

func TestHealthFailure(t *testing.T) {
	src := testSources()
	src.Health = func(context.Context) error { return errors.New("store closed") }
	h := New(Config{}, src, logx.Nop()).Handler(Config{})
	rec := get(t, h, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "store closed")
}

func TestBearerToken(t *testing.T) {
	h := New(Config{}, testSources(), logx.Nop()).Handler(Config{Token: "s3cret"})

	rec := get(t, h, "/timers", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/timers", map[string]string{"Authorization": "Bearer nope"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/timers", map[string]string{"Authorization": "Bearer s3cret"}).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/timers?token=s3cret", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, get(t, h, "/timers?token=x", nil).Code)
}

func TestStartStop(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, testSources(), logx.Nop())
	s.Start(context.Background())
	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	assert.Empty(t, s.Addr())

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.False(t, s.Enabled())
}

func TestIsLoopbackAddr(t *testing.T) {
	assert.True(t, isLoopbackAddr("127.0.0.1:9470"))
	assert.True(t, isLoopbackAddr("localhost:1"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":9470"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9470"))
	assert.False(t, isLoopbackAddr("nohost"))
}
