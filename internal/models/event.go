package models

import "time"

// Offer event log
//
// One row per state-changing action on an offer, written in the same
// transaction as the mutation it records. Append-only: rows are never
// updated or deleted, and external consumers (UI timeline, downstream
// order creation) read them ordered by creation time.

type OfferEventType string

const (
	EventCreated     OfferEventType = "CREATED"
	EventLineUpdated OfferEventType = "LINE_UPDATED"
	EventSent        OfferEventType = "SENT"
	EventAccepted    OfferEventType = "ACCEPTED"
	EventRejected    OfferEventType = "REJECTED"
)

type OfferEvent struct {
	ID      uint           `gorm:"primaryKey"`
	OfferID uint           `gorm:"not null;index:idx_event_offer_time,priority:1"`
	Type    OfferEventType `gorm:"not null"`
	// Acting user; nil for system-generated events.
	UserID *uint
	// Arbitrary structured payload, JSON-encoded.
	Payload   []byte
	CreatedAt time.Time `gorm:"index:idx_event_offer_time,priority:2"`
}
