package handlers

import (
	"net/http"
	"strconv"

	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/httpx"
	"github.com/maelstrand/winetrade/internal/importer"
	"github.com/maelstrand/winetrade/internal/models"
)

// CatalogHandler serves supplier wine catalogs: browse for everyone on the
// marketplace, JSON dump upload for the owning supplier.
type CatalogHandler struct{ DB *gorm.DB }

func NewCatalogHandler(db *gorm.DB) *CatalogHandler { return &CatalogHandler{DB: db} }

// List: GET /catalog?supplier=N&q=...
func (h *CatalogHandler) List(w http.ResponseWriter, r *http.Request) {
	dbq := h.DB.Where("available = ?", true)
	if v := r.URL.Query().Get("supplier"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			dbq = dbq.Where("supplier_id = ?", id)
		}
	}
	if q := r.URL.Query().Get("q"); q != "" {
		like := "%" + q + "%"
		dbq = dbq.Where("name LIKE ? OR producer LIKE ? OR grape LIKE ?", like, like, like)
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var wines []models.WineProduct
	if err := dbq.Order("name asc").Limit(limit).Find(&wines).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "storage_error", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": wines})
}

// Import: POST /catalog/import – body is a Systembolaget-style JSON dump.
func (h *CatalogHandler) Import(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if actor.CompanyKind != models.CompanySupplier {
		httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
		return
	}
	res, err := importer.ImportCatalog(h.DB, r.Body, actor.CompanyID)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "import_failed", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"created": res.Created, "updated": res.Updated, "skipped": res.Skipped,
	})
}
