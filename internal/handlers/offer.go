package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/auth"
	"github.com/maelstrand/winetrade/internal/httpx"
	"github.com/maelstrand/winetrade/internal/models"
	"github.com/maelstrand/winetrade/internal/policy"
	"github.com/maelstrand/winetrade/internal/services"
	"github.com/maelstrand/winetrade/internal/winecheck"
)

// OfferHandler exposes the offer lifecycle as a JSON API. Authorization is
// checked here via the policy; the store and engine re-enforce ownership and
// every state invariant on their own.
type OfferHandler struct {
	DB       *gorm.DB
	Store    *services.OfferStore
	Engine   *services.AcceptanceEngine
	Policy   *policy.OfferPolicy
	Enricher *winecheck.Enricher
}

func NewOfferHandler(db *gorm.DB, store *services.OfferStore, engine *services.AcceptanceEngine, pol *policy.OfferPolicy, enricher *winecheck.Enricher) *OfferHandler {
	return &OfferHandler{DB: db, Store: store, Engine: engine, Policy: pol, Enricher: enricher}
}

type lineReq struct {
	SequenceNo     int    `json:"sequence_no"`
	WineProductID  *uint  `json:"wine_product_id,omitempty"`
	Name           string `json:"name"`
	Vintage        int    `json:"vintage,omitempty"`
	Producer       string `json:"producer,omitempty"`
	Country        string `json:"country,omitempty"`
	Region         string `json:"region,omitempty"`
	Grape          string `json:"grape,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents *int64 `json:"unit_price_cents,omitempty"`
}

func (lr lineReq) toInput() services.LineInput {
	return services.LineInput{
		SequenceNo:     lr.SequenceNo,
		WineProductID:  lr.WineProductID,
		Name:           lr.Name,
		Vintage:        lr.Vintage,
		Producer:       lr.Producer,
		Country:        lr.Country,
		Region:         lr.Region,
		Grape:          lr.Grape,
		Quantity:       lr.Quantity,
		UnitPriceCents: lr.UnitPriceCents,
	}
}

func queryID(r *http.Request, key string) (uint, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return uint(n), true
}

func actorFrom(r *http.Request) (services.Actor, bool) {
	a, ok := auth.ActorFromContext(r.Context())
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{UserID: a.UserID, CompanyID: a.CompanyID, CompanyKind: a.CompanyKind}, true
}

// Create: POST /offers
func (h *OfferHandler) Create(w http.ResponseWriter, r *http.Request) {
	rawActor, _ := auth.ActorFromContext(r.Context())
	actor, _ := actorFrom(r)
	if !h.Policy.Can(rawActor, policy.ActionEdit, nil) {
		httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
		return
	}
	var req struct {
		RestaurantID     uint       `json:"restaurant_id"`
		RequestID        *uint      `json:"request_id,omitempty"`
		Title            string     `json:"title,omitempty"`
		Currency         string     `json:"currency,omitempty"`
		MinTotalQuantity *int       `json:"min_total_quantity,omitempty"`
		ShippingTerms    string     `json:"shipping_terms,omitempty"`
		ShippingFeeCents int64      `json:"shipping_fee_cents,omitempty"`
		ValidUntil       *time.Time `json:"valid_until,omitempty"`
		Lines            []lineReq  `json:"lines"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if req.RestaurantID == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"restaurant_id": "required"})
		return
	}
	input := services.OfferInput{
		RestaurantID:     req.RestaurantID,
		RequestID:        req.RequestID,
		Title:            req.Title,
		Currency:         req.Currency,
		MinTotalQuantity: req.MinTotalQuantity,
		ShippingTerms:    req.ShippingTerms,
		ShippingFeeCents: req.ShippingFeeCents,
		ValidUntil:       req.ValidUntil,
	}
	for _, lr := range req.Lines {
		input.Lines = append(input.Lines, lr.toInput())
	}
	offer, err := h.Store.Create(actor, input)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, offer)
}

// List: GET /offers – offers the caller's company is party to.
func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		httpx.JSONError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			offset = (n - 1) * limit
		}
	}
	dbq := h.DB.Where("supplier_id = ? OR restaurant_id = ?", actor.CompanyID, actor.CompanyID)
	if st := r.URL.Query().Get("status"); st != "" {
		dbq = dbq.Where("status = ?", st)
	}
	var total int64
	dbq.Model(&models.Offer{}).Count(&total)
	var offers []models.Offer
	if err := dbq.Preload("Lines").Order("id desc").Limit(limit).Offset(offset).Find(&offers).Error; err != nil {
		httpx.JSONError(w, http.StatusInternalServerError, "storage_error", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": offers, "total": total, "limit": limit, "offset": offset})
}

// Get: GET /offers/get?id=N – header + lines + event timeline.
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	id, ok := queryID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	offer, events, err := h.Store.Get(actor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"offer": offer, "events": events})
}

// Shared: GET /offers/shared?token=... – restaurant review link.
func (h *OfferHandler) Shared(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		httpx.JSONError(w, http.StatusBadRequest, "missing_token", nil)
		return
	}
	offer, err := h.Store.GetByShareToken(token)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, offer)
}

// Update: POST /offers/update?id=N – header fields while editable.
func (h *OfferHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	id, ok := queryID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req struct {
		Title            *string    `json:"title,omitempty"`
		Currency         *string    `json:"currency,omitempty"`
		MinTotalQuantity *int       `json:"min_total_quantity,omitempty"`
		ClearMinQuantity bool       `json:"clear_min_quantity,omitempty"`
		ShippingTerms    *string    `json:"shipping_terms,omitempty"`
		ShippingFeeCents *int64     `json:"shipping_fee_cents,omitempty"`
		ValidUntil       *time.Time `json:"valid_until,omitempty"`
	}
	if err := httpx.Decode(r, &req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	offer, err := h.Store.UpdateHeader(actor, id, services.HeaderUpdate{
		Title:            req.Title,
		Currency:         req.Currency,
		MinTotalQuantity: req.MinTotalQuantity,
		ClearMinQuantity: req.ClearMinQuantity,
		ShippingTerms:    req.ShippingTerms,
		ShippingFeeCents: req.ShippingFeeCents,
		ValidUntil:       req.ValidUntil,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, offer)
}

// Lines: POST /offers/lines?id=N – upsert lines by sequence number.
func (h *OfferHandler) Lines(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	id, ok := queryID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req struct {
		Lines []lineReq `json:"lines"`
	}
	if err := httpx.Decode(r, &req); err != nil || len(req.Lines) == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "validation_failed", map[string]string{"lines": "required"})
		return
	}
	inputs := make([]services.LineInput, 0, len(req.Lines))
	for _, lr := range req.Lines {
		inputs = append(inputs, lr.toInput())
	}
	offer, err := h.Store.UpsertLines(actor, id, inputs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, offer)
}

// DeleteLine: POST /offers/lines/delete?id=N&seq=M
func (h *OfferHandler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r)
	id, ok := queryID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	seq, err := strconv.Atoi(r.URL.Query().Get("seq"))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_sequence", nil)
		return
	}
	if err := h.Store.RemoveLine(actor, id, seq); err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Send: POST /offers/send?id=N – DRAFT -> SENT.
func (h *OfferHandler) Send(w http.ResponseWriter, r *http.Request) {
	rawActor, _ := auth.ActorFromContext(r.Context())
	actor, _ := actorFrom(r)
	if !h.Policy.Can(rawActor, policy.ActionSend, nil) {
		httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
		return
	}
	id, ok := queryID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	offer, err := h.Store.Send(actor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, offer)
}

// Accept: POST /offers/accept?id=N – full or partial acceptance.
// Body {"selected_sequences":[...]} selects lines; omitted means all priced.
func (h *OfferHandler) Accept(w http.ResponseWriter, r *http.Request) {
	rawActor, _ := auth.ActorFromContext(r.Context())
	actor, _ := actorFrom(r)
	if !h.Policy.Can(rawActor, policy.ActionAccept, nil) {
		httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
		return
	}
	id, ok := queryID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req struct {
		SelectedSequences []int `json:"selected_sequences"`
	}
	// An absent body (io.EOF) means full acceptance; chunked bodies carry no
	// Content-Length, so the decode is always attempted.
	if err := httpx.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	result, err := h.Engine.Accept(actor, id, req.SelectedSequences)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"offer":              result.Offer,
		"total_cents":        result.TotalCents,
		"partial":            result.Partial,
		"accepted_sequences": result.AcceptedSequences,
	})
}

// Reject: POST /offers/reject?id=N – SENT -> REJECTED.
func (h *OfferHandler) Reject(w http.ResponseWriter, r *http.Request) {
	rawActor, _ := auth.ActorFromContext(r.Context())
	actor, _ := actorFrom(r)
	if !h.Policy.Can(rawActor, policy.ActionReject, nil) {
		httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
		return
	}
	id, ok := queryID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if err := httpx.Decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	if err := h.Engine.Reject(actor, id, req.Reason); err != nil {
		writeEngineError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// Enrich: POST /offers/lines/check?id=N&seq=M – run the external wine
// matcher against one line. Never part of the acceptance path.
func (h *OfferHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	if h.Enricher == nil {
		httpx.JSONError(w, http.StatusServiceUnavailable, "winecheck_unconfigured", nil)
		return
	}
	id, ok := queryID(r, "id")
	if !ok {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return
	}
	seq, err := strconv.Atoi(r.URL.Query().Get("seq"))
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_sequence", nil)
		return
	}
	enrichment, err := h.Enricher.EnrichLine(r.Context(), id, seq)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if enrichment == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"matched": false})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"matched": true, "enrichment": enrichment})
}
