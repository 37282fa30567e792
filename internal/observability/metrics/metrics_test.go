package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"studybot/internal/config"
	logx "studybot/pkg/logx"
)

func TestCollectorsReuseExisting(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	a := MustNewMetrics(reg)
	b := MustNewMetrics(reg)

	a.ObserveDispatch("chat", "event_now", "ok")
	b.ObserveDispatch("chat", "event_now", "ok")
	if got := testutil.ToFloat64(a.dispatch.WithLabelValues("chat", "event_now", "ok")); got != 2 {
		t.Fatalf("dispatch = %v, want 2 (shared collector)", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveDispatch("chat", "x", "ok")
	m.ObserveDedup("x")
	m.ObservePlan("event_offset", "registered")
	m.ObserveSweep(time.Second, 1)
	m.SetTimersPending(3)
}

func TestHandlerAuthAndPprof(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	m.SetTimersPending(4)
	srv := NewServer(config.Metrics{}, reg, logx.Nop())

	h := srv.Handler(config.Metrics{Path: "/metrics", Token: "s3cret"})
	cases := []struct {
		path   string
		header string
		code   int
	}{
		{"/metrics", "", http.StatusUnauthorized},
		{"/metrics", "Bearer wrong", http.StatusUnauthorized},
		{"/metrics", "Bearer s3cret", http.StatusOK},
		{"/metrics?token=s3cret", "", http.StatusOK},
		{"/debug/pprof/", "Bearer s3cret", http.StatusNotFound},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tc.code {
			t.Fatalf("%s %q: code = %d, want %d", tc.path, tc.header, rec.Code, tc.code)
		}
		if tc.code == http.StatusOK && !strings.Contains(rec.Body.String(), "studybot_scheduler_timers_pending 4") {
			t.Fatalf("metrics body lacks gauge:\n%s", rec.Body.String())
		}
	}

	withPprof := srv.Handler(config.Metrics{Pprof: true})
	rec := httptest.NewRecorder()
	withPprof.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pprof index code = %d", rec.Code)
	}
}
