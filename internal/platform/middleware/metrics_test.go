package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ehr/portal/internal/platform/apperr"
	"github.com/ehr/portal/internal/platform/metrics"
)

func TestMetrics_RecordsRouteAndStatus(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewHTTPMetrics(reg)

	e := echo.New()
	e.Use(Metrics(m))
	e.GET("/api/doctors/:id", func(c echo.Context) error {
		if c.Param("id") == "404" {
			return apperr.NotFound("Doctor not found.")
		}
		return c.String(http.StatusOK, "ok")
	})

	for _, path := range []string{"/api/doctors/1", "/api/doctors/2", "/api/doctors/404"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	count, err := testutil.GatherAndCount(reg, "portal_http_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 label sets (200 and 404), got %d", count)
	}
}

func TestMetrics_NilCollector(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	h := Metrics(nil)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
