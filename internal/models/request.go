package models

import "time"

// Sourcing request models
//
// A Request is a restaurant's original sourcing ask ("12 bottles of
// Piemonte red under 300 SEK"); several suppliers may answer it with
// competing offers, each accepted or rejected independently.

type Request struct {
	ID           uint    `gorm:"primaryKey"`
	RestaurantID uint    `gorm:"not null;index"` // Company with kind=restaurant
	Restaurant   Company `gorm:"foreignKey:RestaurantID"`
	Title        string  `gorm:"not null"`
	Description  string
	// Desired bottle count; informational, suppliers quote what they can.
	Quantity int
	// Budget ceiling per bottle in öre, if the restaurant stated one.
	MaxUnitPriceCents *int64
	Status            string `gorm:"not null;default:'open'"` // open, closed

	// Legacy denormalized hint: first offer accepted against this request.
	// Never a source of truth — the aggregator projection lists every
	// accepted offer, and several can coexist.
	AcceptedOfferID *uint

	CreatedAt time.Time
	UpdatedAt time.Time
}
