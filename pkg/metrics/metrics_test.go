package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.Start()
	m.Observe("/posts/{id}", http.MethodGet, http.StatusOK, 10*time.Millisecond)
	m.Start()
	m.Observe("/posts/{id}", http.MethodGet, http.StatusOK, 20*time.Millisecond)
	m.Start()
	m.Observe("", http.MethodGet, http.StatusNotFound, time.Millisecond)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/posts/{id}", "GET", "200")); got != 2 {
		t.Fatalf("requests = %v, want %v", got, 2)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "GET", "404")); got != 1 {
		t.Fatalf("requests = %v, want %v", got, 1)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("in flight = %v, want %v", got, 0)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.Start()
	m.Observe("/health", http.MethodGet, http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Handler() code = %d, want %d", rec.Code, http.StatusOK)
	}
	b, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`lumina_http_requests_total{code="200",method="GET",route="/health"} 1`,
		"lumina_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(b), want) {
			t.Errorf("Handler() output has no %q", want)
		}
	}
}
