package services

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/models"
)

func newShareToken() uuid.UUID { return uuid.New() }

// Actor is the caller identity resolved by the API layer. The store trusts
// it and performs only the ownership checks its own invariants need.
type Actor struct {
	UserID      uint
	CompanyID   uint
	CompanyKind string
}

func (a Actor) userRef() *uint {
	if a.UserID == 0 {
		return nil
	}
	uid := a.UserID
	return &uid
}

// OfferStore owns CRUD on offers and lines while unlocked. It enforces the
// "no mutation after lock" rule as a hard guard independent of the
// acceptance engine, and appends one event per state-changing action.
type OfferStore struct {
	DB     *gorm.DB
	Events *EventLog
}

func NewOfferStore(db *gorm.DB, events *EventLog) *OfferStore {
	return &OfferStore{DB: db, Events: events}
}

type LineInput struct {
	SequenceNo    int
	WineProductID *uint
	Name          string
	Vintage       int
	Producer      string
	Country       string
	Region        string
	Grape         string
	Quantity      int
	UnitPriceCents *int64
}

type OfferInput struct {
	RestaurantID     uint
	RequestID        *uint
	Title            string
	Currency         string
	MinTotalQuantity *int
	ShippingTerms    string
	ShippingFeeCents int64
	ValidUntil       *time.Time
	Lines            []LineInput
}

// HeaderUpdate carries optional header field changes; nil means unchanged.
type HeaderUpdate struct {
	Title            *string
	Currency         *string
	MinTotalQuantity *int
	ClearMinQuantity bool
	ShippingTerms    *string
	ShippingFeeCents *int64
	ValidUntil       *time.Time
}

var errInvalidLine = errors.New("invalid_line")

func validateLine(in LineInput) error {
	if in.Quantity < 1 {
		return errInvalidLine
	}
	if in.UnitPriceCents != nil && *in.UnitPriceCents < 0 {
		return errInvalidLine
	}
	if in.Name == "" {
		return errInvalidLine
	}
	return nil
}

// Create opens a DRAFT offer for the acting supplier and appends a CREATED
// event in the same transaction.
func (s *OfferStore) Create(actor Actor, in OfferInput) (*models.Offer, error) {
	var restaurant models.Company
	if err := s.DB.Where("id = ? AND kind = ?", in.RestaurantID, models.CompanyRestaurant).
		First(&restaurant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, &StorageError{Err: err}
	}
	if in.RequestID != nil {
		var count int64
		if err := s.DB.Model(&models.Request{}).
			Where("id = ? AND restaurant_id = ?", *in.RequestID, in.RestaurantID).
			Count(&count).Error; err != nil {
			return nil, &StorageError{Err: err}
		}
		if count == 0 {
			return nil, ErrRequestNotFound
		}
	}
	currency := in.Currency
	if currency == "" {
		currency = "SEK"
	}
	shipping := in.ShippingTerms
	if shipping == "" {
		shipping = models.ShippingIncluded
	}
	offer := models.Offer{
		SupplierID:       actor.CompanyID,
		RestaurantID:     in.RestaurantID,
		RequestID:        in.RequestID,
		Title:            in.Title,
		Currency:         currency,
		Status:           models.OfferDraft,
		MinTotalQuantity: in.MinTotalQuantity,
		ShippingTerms:    shipping,
		ShippingFeeCents: in.ShippingFeeCents,
		ValidUntil:       in.ValidUntil,
	}
	for _, li := range in.Lines {
		if err := validateLine(li); err != nil {
			return nil, err
		}
		offer.Lines = append(offer.Lines, models.OfferLine{
			SequenceNo:     li.SequenceNo,
			WineProductID:  li.WineProductID,
			Name:           li.Name,
			Vintage:        li.Vintage,
			Producer:       li.Producer,
			Country:        li.Country,
			Region:         li.Region,
			Grape:          li.Grape,
			Quantity:       li.Quantity,
			UnitPriceCents: li.UnitPriceCents,
		})
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&offer).Error; err != nil {
			return err
		}
		return s.Events.Append(tx, offer.ID, models.EventCreated, actor.userRef(),
			map[string]any{"supplier_id": actor.CompanyID, "restaurant_id": in.RestaurantID, "lines": len(offer.Lines)})
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return &offer, nil
}

// Get returns the offer with its lines and event history. Offers of other
// tenants are indistinguishable from missing ones.
func (s *OfferStore) Get(actor Actor, offerID uint) (*models.Offer, []models.OfferEvent, error) {
	offer, err := s.loadVisible(s.DB, actor, offerID)
	if err != nil {
		return nil, nil, err
	}
	events, err := s.Events.ListByOffer(offerID)
	if err != nil {
		return nil, nil, err
	}
	return offer, events, nil
}

// GetByShareToken resolves a sent offer from its share token (restaurant
// review link). Draft offers are never reachable this way.
func (s *OfferStore) GetByShareToken(token string) (*models.Offer, error) {
	var offer models.Offer
	err := s.DB.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("sequence_no asc") }).
		Where("share_token = ?", token).First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, &StorageError{Err: err}
	}
	return &offer, nil
}

// UpdateHeader applies header field changes while the offer is editable.
func (s *OfferStore) UpdateHeader(actor Actor, offerID uint, upd HeaderUpdate) (*models.Offer, error) {
	var offer *models.Offer
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		offer, err = s.loadOwned(tx, actor, offerID)
		if err != nil {
			return err
		}
		if err := s.guardEditable(offer, "edit"); err != nil {
			return err
		}
		changed := map[string]any{}
		if upd.Title != nil {
			changed["title"] = *upd.Title
		}
		if upd.Currency != nil {
			changed["currency"] = *upd.Currency
		}
		if upd.MinTotalQuantity != nil {
			changed["min_total_quantity"] = *upd.MinTotalQuantity
		} else if upd.ClearMinQuantity {
			changed["min_total_quantity"] = nil
		}
		if upd.ShippingTerms != nil {
			changed["shipping_terms"] = *upd.ShippingTerms
		}
		if upd.ShippingFeeCents != nil {
			changed["shipping_fee_cents"] = *upd.ShippingFeeCents
		}
		if upd.ValidUntil != nil {
			changed["valid_until"] = *upd.ValidUntil
		}
		if len(changed) == 0 {
			return nil
		}
		if err := tx.Model(offer).Updates(changed).Error; err != nil {
			return err
		}
		fields := make([]string, 0, len(changed))
		for k := range changed {
			fields = append(fields, k)
		}
		return s.Events.Append(tx, offer.ID, models.EventLineUpdated, actor.userRef(),
			map[string]any{"action": "header_updated", "fields": fields})
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return offer, nil
}

// UpsertLines creates or updates lines keyed by sequence number. Lines are
// created or removed only while the offer is DRAFT.
func (s *OfferStore) UpsertLines(actor Actor, offerID uint, inputs []LineInput) (*models.Offer, error) {
	if len(inputs) == 0 {
		return nil, errInvalidLine
	}
	for _, in := range inputs {
		if err := validateLine(in); err != nil {
			return nil, err
		}
	}
	var offer *models.Offer
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		offer, err = s.loadOwned(tx, actor, offerID)
		if err != nil {
			return err
		}
		if err := s.guardEditable(offer, "edit"); err != nil {
			return err
		}
		bySeq := make(map[int]*models.OfferLine, len(offer.Lines))
		for i := range offer.Lines {
			bySeq[offer.Lines[i].SequenceNo] = &offer.Lines[i]
		}
		sequences := make([]int, 0, len(inputs))
		for _, in := range inputs {
			sequences = append(sequences, in.SequenceNo)
			if existing, ok := bySeq[in.SequenceNo]; ok {
				updates := map[string]any{
					"wine_product_id":  in.WineProductID,
					"name":             in.Name,
					"vintage":          in.Vintage,
					"producer":         in.Producer,
					"country":          in.Country,
					"region":           in.Region,
					"grape":            in.Grape,
					"quantity":         in.Quantity,
					"unit_price_cents": in.UnitPriceCents,
				}
				if err := tx.Model(existing).Updates(updates).Error; err != nil {
					return err
				}
				continue
			}
			line := models.OfferLine{
				OfferID:        offer.ID,
				SequenceNo:     in.SequenceNo,
				WineProductID:  in.WineProductID,
				Name:           in.Name,
				Vintage:        in.Vintage,
				Producer:       in.Producer,
				Country:        in.Country,
				Region:         in.Region,
				Grape:          in.Grape,
				Quantity:       in.Quantity,
				UnitPriceCents: in.UnitPriceCents,
			}
			if err := tx.Create(&line).Error; err != nil {
				return err
			}
		}
		// Bump updated_at on the offer row itself.
		if err := tx.Model(offer).Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		return s.Events.Append(tx, offer.ID, models.EventLineUpdated, actor.userRef(),
			map[string]any{"action": "lines_upserted", "sequences": sequences})
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return s.loadOwned(s.DB, actor, offerID)
}

// RemoveLine deletes one line by sequence number while the offer is DRAFT.
func (s *OfferStore) RemoveLine(actor Actor, offerID uint, sequenceNo int) error {
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		offer, err := s.loadOwned(tx, actor, offerID)
		if err != nil {
			return err
		}
		if err := s.guardEditable(offer, "edit"); err != nil {
			return err
		}
		res := tx.Where("offer_id = ? AND sequence_no = ?", offer.ID, sequenceNo).
			Delete(&models.OfferLine{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLineNotFound
		}
		if err := tx.Model(offer).Update("updated_at", time.Now()).Error; err != nil {
			return err
		}
		return s.Events.Append(tx, offer.ID, models.EventLineUpdated, actor.userRef(),
			map[string]any{"action": "line_removed", "sequence": sequenceNo})
	})
	return storageErr(err)
}

// Send delivers a DRAFT offer to the restaurant, minting the share token.
// The status flip is guarded on the source status so a concurrent Send
// cannot apply twice.
func (s *OfferStore) Send(actor Actor, offerID uint) (*models.Offer, error) {
	var offer *models.Offer
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		offer, err = s.loadOwned(tx, actor, offerID)
		if err != nil {
			return err
		}
		if offer.Locked() {
			return ErrOfferLocked
		}
		token := newShareToken()
		now := time.Now()
		res := tx.Model(&models.Offer{}).
			Where("id = ? AND status = ?", offer.ID, models.OfferDraft).
			Updates(map[string]any{
				"status":      models.OfferSent,
				"sent_at":     now,
				"share_token": token.String(),
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &InvalidTransitionError{Op: "send", Current: offer.Status}
		}
		offer.Status = models.OfferSent
		offer.SentAt = &now
		offer.ShareToken = &token
		return s.Events.Append(tx, offer.ID, models.EventSent, actor.userRef(), nil)
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return offer, nil
}

// loadOwned fetches the offer with lines for the acting supplier. Used for
// mutations: only the issuing supplier may edit.
func (s *OfferStore) loadOwned(tx *gorm.DB, actor Actor, offerID uint) (*models.Offer, error) {
	return s.load(tx, offerID, "supplier_id = ?", actor.CompanyID)
}

// loadVisible fetches the offer for either party to it.
func (s *OfferStore) loadVisible(tx *gorm.DB, actor Actor, offerID uint) (*models.Offer, error) {
	return s.load(tx, offerID, "supplier_id = ? OR restaurant_id = ?", actor.CompanyID, actor.CompanyID)
}

func (s *OfferStore) load(tx *gorm.DB, offerID uint, scope string, args ...any) (*models.Offer, error) {
	var offer models.Offer
	err := tx.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("sequence_no asc") }).
		Where("id = ?", offerID).Where(scope, args...).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, &StorageError{Err: err}
	}
	return &offer, nil
}

// guardEditable enforces the mutation preconditions: Locked is the hard
// guard (defense in depth against engine bugs), DRAFT the lifecycle rule.
func (s *OfferStore) guardEditable(offer *models.Offer, op string) error {
	if offer.Locked() {
		return ErrOfferLocked
	}
	if offer.Status != models.OfferDraft {
		return &InvalidTransitionError{Op: op, Current: offer.Status}
	}
	return nil
}
