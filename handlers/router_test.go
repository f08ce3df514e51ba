package handlers_test

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geekcatalog/handlers"
)

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "catalog_test_total", Help: "test"}).Inc()
	router := handlers.NewRouter(handlers.RouterOptions{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	rec := serve(t, router, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = serve(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "catalog_test_total 1")
}

func TestRoutesMountedOnlyWhenWired(t *testing.T) {
	router := handlers.NewRouter(handlers.RouterOptions{})
	assert.Equal(t, http.StatusNotFound, serve(t, router, http.MethodGet, "/admin/jobs", "").Code)
	assert.Equal(t, http.StatusNotFound, serve(t, router, http.MethodGet, "/api/records/1", "").Code)
}

func TestVersion(t *testing.T) {
	rec := serve(t, handlers.NewRouter(handlers.RouterOptions{}), http.MethodGet, "/version", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[handlers.VersionResponse](t, rec).Version)
}
