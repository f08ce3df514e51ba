// Package handlers exposes the batch admin and catalog read routes.
package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions wires NewRouter.
type RouterOptions struct {
	Jobs    jobOperator
	Catalog catalogReader
	// AdminToken protects /admin when non-empty.
	AdminToken string
	// AdminRequestsPerMinute limits /admin calls per client; zero disables it.
	AdminRequestsPerMinute int
	// Metrics defaults to the prometheus default registry.
	Metrics http.Handler
}

// NewRouter builds the HTTP surface.
func NewRouter(opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	r.Use(cors)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.HandleFunc("/version", GetVersion).Methods(http.MethodGet)

	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics).Methods(http.MethodGet)

	if opts.Catalog != nil {
		h := NewCatalogHandler(opts.Catalog)
		api := r.PathPrefix("/api").Subrouter()
		api.HandleFunc("/records/{id}", h.GetRecord).Methods(http.MethodGet)
		api.HandleFunc("/categories/{category}", h.ListCategory).Methods(http.MethodGet)
		api.HandleFunc("/artwork/random", h.RandomArtwork).Methods(http.MethodGet)
	}

	if opts.Jobs != nil {
		h := NewJobsHandler(opts.Jobs)
		admin := r.PathPrefix("/admin").Subrouter()
		admin.Use(adminAuth(opts.AdminToken))
		if opts.AdminRequestsPerMinute > 0 {
			admin.Use(rateLimit(newClientLimiter(opts.AdminRequestsPerMinute)))
		}
		admin.HandleFunc("/jobs", h.List).Methods(http.MethodGet)
		admin.HandleFunc("/jobs/{name}/run", h.Run).Methods(http.MethodPost)
		admin.HandleFunc("/executions/{id}", h.Get).Methods(http.MethodGet)
		admin.HandleFunc("/executions/{id}/stop", h.Stop).Methods(http.MethodPost)
		admin.HandleFunc("/executions/{id}/restart", h.Restart).Methods(http.MethodPost)
		admin.HandleFunc("/executions/{id}/abandon", h.Abandon).Methods(http.MethodPost)
	}
	return r
}
