package services

import (
	"encoding/json"

	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/models"
)

// EventLog is the append-only audit trail of offer mutations. Append always
// runs on the *gorm.DB handed to it so the event commits or rolls back with
// the mutation it records.
type EventLog struct {
	DB *gorm.DB
}

func NewEventLog(db *gorm.DB) *EventLog { return &EventLog{DB: db} }

// Append writes one event. payload is JSON-encoded; pass nil for none.
// It never fails for a structurally valid event except on storage failure.
func (l *EventLog) Append(tx *gorm.DB, offerID uint, typ models.OfferEventType, userID *uint, payload any) error {
	if tx == nil {
		tx = l.DB
	}
	var raw []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	ev := models.OfferEvent{OfferID: offerID, Type: typ, UserID: userID, Payload: raw}
	if err := tx.Create(&ev).Error; err != nil {
		return &StorageError{Err: err}
	}
	return nil
}

// ListByOffer returns the offer's events ordered by creation time ascending.
// This is the canonical way external consumers observe what happened; the
// ACCEPTED event is always the last one before any read sees locked_at set.
func (l *EventLog) ListByOffer(offerID uint) ([]models.OfferEvent, error) {
	var events []models.OfferEvent
	if err := l.DB.Where("offer_id = ?", offerID).
		Order("created_at asc, id asc").Find(&events).Error; err != nil {
		return nil, &StorageError{Err: err}
	}
	return events, nil
}
