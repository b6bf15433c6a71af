package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"
)

func TestRequestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	handler := requestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(entries))
	}
	if entries[0].Level != zap.InfoLevel || entries[0].ContextMap()["status"] != int64(200) {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].Level != zap.ErrorLevel || entries[1].ContextMap()["status"] != int64(502) {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestRateLimit(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 2)
	handler := rateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		codes[i] = rec.Code
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestMetricsInstrumentUsesRoutePattern(t *testing.T) {
	m := NewMetrics()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/api/notifications/{id}/read", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/notifications/"+id+"/read", nil))
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/notifications/{id}/read", "202"))
	if got != 3 {
		t.Errorf("requests for route pattern = %v, want 3", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.observeGitHubRequest("GET", "repos.get", "200", time.Millisecond)
	m.tokenMinted()
	m.scanCacheResult("workflows", "hit")
	m.webhookEvent("push")

	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	if h := m.Instrument(next); h == nil {
		t.Error("nil metrics should pass the handler through")
	}
}

func TestGitHubClientRecordsMetrics(t *testing.T) {
	st := newStubGitHub()
	st.handle("GET", "/rate_limit", 200, `{"rate":{"limit":60}}`)
	m := NewMetrics()
	client := NewGitHubClient(testAPIURL, &http.Client{Transport: st}, zap.NewNop(), m)

	var rl ghRateLimit
	if err := client.getJSON(t.Context(), patCredential(), "rate_limit", "/rate_limit", &rl); err != nil {
		t.Fatal(err)
	}
	_ = client.getJSON(t.Context(), patCredential(), "repos.get", "/repos/acme/none", nil)

	if got := testutil.ToFloat64(m.githubRequests.WithLabelValues("GET", "rate_limit", "200")); got != 1 {
		t.Errorf("rate_limit 200 = %v", got)
	}
	if got := testutil.ToFloat64(m.githubRequests.WithLabelValues("GET", "repos.get", "404")); got != 1 {
		t.Errorf("repos.get 404 = %v", got)
	}
	if rl.Rate.Limit != 60 {
		t.Errorf("decoded limit = %d", rl.Rate.Limit)
	}
}
