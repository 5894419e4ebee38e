package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Offer / line models
//
// An Offer is a supplier's priced quote addressed to one restaurant,
// optionally raised against a sourcing Request. Prices are stored in öre
// (minor currency unit) as integers.

type OfferStatus string

const (
	OfferDraft    OfferStatus = "draft"
	OfferSent     OfferStatus = "sent"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s OfferStatus) Terminal() bool {
	return s == OfferAccepted || s == OfferRejected
}

// Shipping terms on an offer. "included" folds shipping into line prices;
// "flat" adds ShippingFeeCents on acceptance.
const (
	ShippingIncluded = "included"
	ShippingFlat     = "flat"
)

type Offer struct {
	ID           uint    `gorm:"primaryKey"`
	SupplierID   uint    `gorm:"not null;index"` // Company with kind=supplier
	Supplier     Company `gorm:"foreignKey:SupplierID"`
	RestaurantID uint    `gorm:"not null;index"` // Company with kind=restaurant
	Restaurant   Company `gorm:"foreignKey:RestaurantID"`
	RequestID    *uint   `gorm:"index"` // originating sourcing request, if any
	Title        string
	Currency     string      `gorm:"not null;default:'SEK'"`
	Status       OfferStatus `gorm:"not null;default:'draft';index"`
	Lines        []OfferLine `gorm:"foreignKey:OfferID"`

	// Supplier-declared minimum total bottle count for a partial acceptance.
	MinTotalQuantity *int

	ShippingTerms    string `gorm:"not null;default:'included'"` // included, flat
	ShippingFeeCents int64

	// Share token minted when the offer is sent; the restaurant's review
	// link carries it instead of the numeric id.
	ShareToken *uuid.UUID `gorm:"type:text;uniqueIndex"`

	ValidUntil *time.Time

	// Set exactly once by the acceptance engine. SnapshotRaw is non-empty
	// iff LockedAt is non-nil iff Status == accepted.
	AcceptedAt  *time.Time
	LockedAt    *time.Time
	SnapshotRaw []byte `gorm:"column:snapshot"`

	SentAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Locked reports whether the offer has been frozen by acceptance.
// No field on the offer or its lines may be mutated afterwards.
func (o *Offer) Locked() bool { return o.LockedAt != nil }

// Editable reports whether supplier-side mutation is still allowed.
// Edits are possible up to send only; Locked stays the hard guard on top.
func (o *Offer) Editable() bool { return !o.Locked() && o.Status == OfferDraft }

// OfferLine is one priced wine entry within an offer. Descriptive fields are
// opaque to the acceptance engine; only quantity and unit price matter there.
type OfferLine struct {
	ID      uint `gorm:"primaryKey"`
	OfferID uint `gorm:"not null;index:idx_offer_seq,unique,priority:1"`
	// Sequence number unique per offer; partial acceptance references it.
	SequenceNo int `gorm:"not null;index:idx_offer_seq,unique,priority:2"`

	WineProductID *uint // optional catalog reference
	Name          string
	Vintage       int
	Producer      string
	Country       string
	Region        string
	Grape         string

	Quantity int `gorm:"not null"` // bottles, >= 1
	// Unit price in öre. A line without a price cannot be accepted.
	UnitPriceCents *int64

	// Tri-state acceptance flag: nil = undecided, true = included in the
	// acceptance, false = explicitly excluded. Becomes permanent via the
	// offer snapshot, not via further row mutation.
	Accepted *bool

	Enrichment LineEnrichment `gorm:"embedded;embeddedPrefix:enrich_"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Priced reports whether the line carries a usable unit price.
func (l *OfferLine) Priced() bool { return l.UnitPriceCents != nil }

// LineEnrichment is the fixed allowed field set annotated by the external
// wine-matching service. Modelled as a value object rather than an open map
// so unexpected fields from the service can never reach storage.
type LineEnrichment struct {
	Present         bool
	MatchedName     string
	MatchedProducer string
	Confidence      float64
}

// OfferSnapshot is the deep, self-contained copy of the offer written at the
// instant of acceptance. Later fixes to live line rows never alter it.
type OfferSnapshot struct {
	OfferID          uint           `json:"offer_id"`
	Title            string         `json:"title,omitempty"`
	Currency         string         `json:"currency"`
	SupplierID       uint           `json:"supplier_id"`
	RestaurantID     uint           `json:"restaurant_id"`
	ShippingTerms    string         `json:"shipping_terms"`
	ShippingFeeCents int64          `json:"shipping_fee_cents,omitempty"`
	Lines            []SnapshotLine `json:"lines"`
	TotalCents       int64          `json:"total_cents"`
	Partial          bool           `json:"partial"`
	CapturedAt       time.Time      `json:"captured_at"`
}

type SnapshotLine struct {
	SequenceNo     int    `json:"sequence_no"`
	Name           string `json:"name"`
	Vintage        int    `json:"vintage,omitempty"`
	Producer       string `json:"producer,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents *int64 `json:"unit_price_cents,omitempty"`
	Accepted       bool   `json:"accepted"`
}

var ErrNoSnapshot = errors.New("offer has no snapshot")

// Snapshot decodes the stored snapshot blob.
func (o *Offer) Snapshot() (*OfferSnapshot, error) {
	if len(o.SnapshotRaw) == 0 {
		return nil, ErrNoSnapshot
	}
	var s OfferSnapshot
	if err := json.Unmarshal(o.SnapshotRaw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EncodeSnapshot serializes s for storage on the offer row.
func EncodeSnapshot(s *OfferSnapshot) ([]byte, error) {
	return json.Marshal(s)
}
