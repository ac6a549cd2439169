package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/meshworks/backoffice/internal/jobs"
	"github.com/meshworks/backoffice/internal/shared"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesJobMetrics(t *testing.T) {
	metrics := NewMetrics()
	jobmetrics.NewMetrics(metrics.Registerer()).Track("dashboard:warmup").End(nil)

	assert.Contains(t, scrape(t, metrics), "backoffice_jobs_total")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `backoffice_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `backoffice_http_request_duration_seconds_bucket{route="/test"`)
}

func TestObserveMutationOutcomes(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveMutation("ledger", "add_installment", nil)
	metrics.ObserveMutation("ledger", "add_installment", fmt.Errorf("wrapped: %w", shared.ErrOverpayment))
	metrics.ObserveMutation("advances", "delete_advance", shared.ErrConfirmationRequired)

	body := scrape(t, metrics)
	for _, want := range []string{
		`backoffice_ledger_mutations_total{op="add_installment",outcome="ok",scope="ledger"} 1`,
		`backoffice_ledger_mutations_total{op="add_installment",outcome="overpayment",scope="ledger"} 1`,
		`backoffice_ledger_mutations_total{op="delete_advance",outcome="unconfirmed",scope="advances"} 1`,
	} {
		assert.True(t, strings.Contains(body, want), "missing %s", want)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveMutation("ledger", "x", nil)
}
