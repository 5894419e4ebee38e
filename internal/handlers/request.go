package handlers

import (
	"net/http"

	"github.com/maelstrand/winetrade/internal/httpx"
	"github.com/maelstrand/winetrade/internal/models"
	"github.com/maelstrand/winetrade/internal/services"
)

// RequestHandler exposes sourcing requests and the per-request offer
// projection.
type RequestHandler struct {
	Aggregator *services.RequestAggregator
}

func NewRequestHandler(agg *services.RequestAggregator) *RequestHandler {
	return &RequestHandler{Aggregator: agg}
}

// Create: POST /requests
func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if actor.CompanyKind != models.CompanyRestaurant {
		httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
		return
	}
	var req struct {
		Title             string `json:"title"`
		Description       string `json:"description,omitempty"`
		Quantity          int    `json:"quantity,omitempty"`
		MaxUnitPriceCents *int64 `json:"max_unit_price_cents,omitempty"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.Title == "" {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"title": "required"})
		return
	}
	created, err := h.Aggregator.CreateRequest(actor, req.Title, req.Description, req.Quantity, req.MaxUnitPriceCents)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, created)
}

// List: GET /requests – caller's own requests.
func (h *RequestHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	reqs, err := h.Aggregator.ListRequests(actor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": reqs})
}

// Offers: GET /requests/offers?id=N – every competing offer with status,
// total and expiry. Pure projection; accepting one offer never hides its
// siblings here.
func (h *RequestHandler) Offers(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	id, idOK := queryID(r, "id")
	if !idOK {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	summaries, err := h.Aggregator.OffersFor(actor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": summaries})
}
