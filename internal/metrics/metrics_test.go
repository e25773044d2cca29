package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRoute(t *testing.T) {
	m := New(prometheus.NewRegistry())
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/api/conversations/:id", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/abc", nil)
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)

	got := testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/api/conversations/:id", "204"))
	if got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}
}

func TestDomainCounters(t *testing.T) {
	m := New(nil)
	m.StatusUpdate("approved", true)
	m.StatusUpdate("rejected", false)
	m.MessageAppended(true)
	m.MessageAppended(false)
	m.MessageAppended(false)
	m.Export("txt")
	m.ObserveGateway("list_conversations", time.Now())

	if got := testutil.ToFloat64(m.statusUpdates.WithLabelValues("rejected", "failed")); got != 1 {
		t.Fatalf("expected failed rejection count 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.messagesAppended.WithLabelValues("client")); got != 2 {
		t.Fatalf("expected 2 client messages, got %v", got)
	}

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "triage_exports_total") {
		t.Fatalf("expected exports metric in exposition output")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.StatusUpdate("approved", true)
	m.MessageAppended(true)
	m.Export("pdf")
	m.ObserveGateway("noop", time.Now())
}
