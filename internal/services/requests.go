package services

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/models"
)

// RequestAggregator is the read-side projection over a sourcing request's
// competing offers. It encodes no acceptance rule: every offer is listed with
// its own status and total, and accepted siblings never hide one another.
type RequestAggregator struct {
	DB *gorm.DB
}

func NewRequestAggregator(db *gorm.DB) *RequestAggregator {
	return &RequestAggregator{DB: db}
}

// OfferSummary is one row of the projection.
type OfferSummary struct {
	OfferID      uint               `json:"offer_id"`
	SupplierID   uint               `json:"supplier_id"`
	SupplierName string             `json:"supplier_name"`
	Status       models.OfferStatus `json:"status"`
	TotalCents   int64              `json:"total_cents"`
	Currency     string             `json:"currency"`
	IsExpired    bool               `json:"is_expired"`
}

// CreateRequest opens a sourcing request for the acting restaurant.
func (a *RequestAggregator) CreateRequest(actor Actor, title, description string, quantity int, maxUnitPriceCents *int64) (*models.Request, error) {
	if title == "" {
		return nil, errors.New("title_required")
	}
	req := models.Request{
		RestaurantID:      actor.CompanyID,
		Title:             title,
		Description:       description,
		Quantity:          quantity,
		MaxUnitPriceCents: maxUnitPriceCents,
		Status:            "open",
	}
	if err := a.DB.Create(&req).Error; err != nil {
		return nil, &StorageError{Err: err}
	}
	return &req, nil
}

// ListRequests returns the restaurant's own requests, newest first.
func (a *RequestAggregator) ListRequests(actor Actor) ([]models.Request, error) {
	var reqs []models.Request
	if err := a.DB.Where("restaurant_id = ?", actor.CompanyID).
		Order("id desc").Find(&reqs).Error; err != nil {
		return nil, &StorageError{Err: err}
	}
	return reqs, nil
}

// OffersFor lists every offer raised against the request with its current
// status and total. Accepted offers report their snapshot total (the bound
// commitment); others report the live quote value of their priced lines.
func (a *RequestAggregator) OffersFor(actor Actor, requestID uint) ([]OfferSummary, error) {
	var req models.Request
	err := a.DB.Where("id = ? AND restaurant_id = ?", requestID, actor.CompanyID).
		First(&req).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, &StorageError{Err: err}
	}
	var offers []models.Offer
	err = a.DB.Preload("Lines").Preload("Supplier").
		Where("request_id = ?", requestID).
		Order("id asc").Find(&offers).Error
	if err != nil {
		return nil, &StorageError{Err: err}
	}
	now := time.Now()
	summaries := make([]OfferSummary, 0, len(offers))
	for i := range offers {
		o := &offers[i]
		summaries = append(summaries, OfferSummary{
			OfferID:      o.ID,
			SupplierID:   o.SupplierID,
			SupplierName: o.Supplier.Name,
			Status:       o.Status,
			TotalCents:   offerTotal(o),
			Currency:     o.Currency,
			IsExpired:    expired(o, now),
		})
	}
	return summaries, nil
}

// offerTotal is the projection total: authoritative snapshot total once
// accepted, otherwise the current value of all priced lines plus flat
// shipping.
func offerTotal(o *models.Offer) int64 {
	if snap, err := o.Snapshot(); err == nil {
		return snap.TotalCents
	}
	var total int64
	for _, l := range o.Lines {
		if l.UnitPriceCents != nil {
			total += *l.UnitPriceCents * int64(l.Quantity)
		}
	}
	if o.ShippingTerms == models.ShippingFlat {
		total += o.ShippingFeeCents
	}
	return total
}

// expired is derived read-side only; the engine itself never consults
// ValidUntil, so an expired SENT offer is still formally acceptable and the
// UI decides what to do with the flag.
func expired(o *models.Offer, now time.Time) bool {
	return o.ValidUntil != nil && o.ValidUntil.Before(now) && !o.Status.Terminal()
}
