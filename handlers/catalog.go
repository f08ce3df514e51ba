package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"geekcatalog/models"
)

const maxPageSize = 100

type catalogReader interface {
	Get(ctx context.Context, id int64) (*models.CatalogRecord, error)
	ListByCategory(ctx context.Context, category models.Category, limit, offset int) ([]*models.CatalogRecord, error)
	RandomArtwork(ctx context.Context) (string, error)
}

// CatalogHandler serves catalog reads.
type CatalogHandler struct {
	catalog catalogReader
}

func NewCatalogHandler(catalog catalogReader) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

type pageResponse struct {
	Category models.Category         `json:"category"`
	Limit    int                     `json:"limit"`
	Offset   int                     `json:"offset"`
	Records  []*models.CatalogRecord `json:"records"`
}

// GetRecord handles GET /api/records/{id}.
func (h *CatalogHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		badRequest(w, "invalid record id")
		return
	}
	rec, err := h.catalog.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListCategory handles GET /api/categories/{category}?limit=&offset=.
func (h *CatalogHandler) ListCategory(w http.ResponseWriter, r *http.Request) {
	category, err := models.ParseCategory(mux.Vars(r)["category"])
	if err != nil {
		badRequest(w, "unknown category")
		return
	}
	limit, ok := intParam(r, "limit", 20)
	if !ok || limit <= 0 || limit > maxPageSize {
		badRequest(w, "limit must be between 1 and 100")
		return
	}
	offset, ok := intParam(r, "offset", 0)
	if !ok || offset < 0 {
		badRequest(w, "offset must not be negative")
		return
	}

	recs, err := h.catalog.ListByCategory(r.Context(), category, limit, offset)
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	if recs == nil {
		recs = []*models.CatalogRecord{}
	}
	writeJSON(w, http.StatusOK, pageResponse{Category: category, Limit: limit, Offset: offset, Records: recs})
}

// RandomArtwork handles GET /api/artwork/random.
func (h *CatalogHandler) RandomArtwork(w http.ResponseWriter, r *http.Request) {
	url, err := h.catalog.RandomArtwork(r.Context())
	if err != nil {
		writeError(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func intParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}
