package services

import (
	"errors"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/models"
)

// AcceptanceEngine performs the one irreversible transition in the system:
// SENT -> ACCEPTED (or REJECTED). Validation, the per-line accepted flags,
// the snapshot and the ACCEPTED event all commit in a single transaction, so
// a failed accept leaves the offer byte-identical to its pre-call state.
//
// Concurrency: the status flip is a guarded UPDATE keyed on the source
// status. Two racing accepts both pass validation against their own reads,
// but only one guarded update affects a row; the loser re-reads and returns
// InvalidTransition carrying the status it lost to. No row lock is needed,
// and acceptance of one offer never touches another offer's rows, which is
// what lets several offers against the same request be accepted
// independently.
type AcceptanceEngine struct {
	DB     *gorm.DB
	Events *EventLog
}

func NewAcceptanceEngine(db *gorm.DB, events *EventLog) *AcceptanceEngine {
	return &AcceptanceEngine{DB: db, Events: events}
}

// AcceptanceResult is returned from a successful Accept. The offer is
// reloaded after commit and is read-only from here on.
type AcceptanceResult struct {
	Offer      models.Offer
	TotalCents int64
	Partial    bool
	// Sequence numbers of the accepted lines, ascending.
	AcceptedSequences []int
}

// Accept commits the offer for the acting restaurant. selected is the set of
// line sequence numbers to include; nil means "all priced lines" (full
// acceptance). A strict non-empty subset of the priced lines is a partial
// acceptance. Any declared minimum total quantity is a hard floor on the
// selected bottle count, full and partial alike.
//
// A second call on an already accepted offer fails with InvalidTransition
// and never touches accepted_at or the snapshot.
func (e *AcceptanceEngine) Accept(actor Actor, offerID uint, selected []int) (*AcceptanceResult, error) {
	var result AcceptanceResult
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		offer, err := e.loadForRestaurant(tx, actor, offerID)
		if err != nil {
			return err
		}
		if offer.Status != models.OfferSent {
			return &InvalidTransitionError{Op: "accept", Current: offer.Status}
		}

		selectedSeqs, partial, err := classifySelection(offer.Lines, selected)
		if err != nil {
			return err
		}
		if offer.MinTotalQuantity != nil {
			total := 0
			for _, l := range offer.Lines {
				if selectedSeqs[l.SequenceNo] {
					total += l.Quantity
				}
			}
			if total < *offer.MinTotalQuantity {
				return &MoqNotMetError{
					Minimum:   *offer.MinTotalQuantity,
					Selected:  total,
					Shortfall: *offer.MinTotalQuantity - total,
				}
			}
		}
		var unpriced []int
		for _, l := range offer.Lines {
			if selectedSeqs[l.SequenceNo] && !l.Priced() {
				unpriced = append(unpriced, l.SequenceNo)
			}
		}
		if len(unpriced) > 0 {
			return &IncompleteLineError{Sequences: unpriced}
		}

		// All preconditions hold; build the frozen state in memory first.
		now := time.Now()
		snapshot := buildSnapshot(offer, selectedSeqs, partial, now)
		raw, err := models.EncodeSnapshot(snapshot)
		if err != nil {
			return err
		}

		// Guarded transition: whoever flips sent->accepted first wins.
		res := tx.Model(&models.Offer{}).
			Where("id = ? AND status = ?", offer.ID, models.OfferSent).
			Updates(map[string]any{
				"status":      models.OfferAccepted,
				"accepted_at": now,
				"locked_at":   now,
				"snapshot":    raw,
				"updated_at":  now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current models.Offer
			if err := tx.Select("status").First(&current, offer.ID).Error; err != nil {
				return err
			}
			return &InvalidTransitionError{Op: "accept", Current: current.Status}
		}

		// Freeze the per-line flags. Their permanent form lives in the
		// snapshot; the live rows mirror it for read-side convenience.
		for _, l := range offer.Lines {
			accepted := selectedSeqs[l.SequenceNo]
			if err := tx.Model(&models.OfferLine{}).
				Where("id = ?", l.ID).Update("accepted", accepted).Error; err != nil {
				return err
			}
		}

		// Denormalized legacy hint on the originating request; written once,
		// never a source of truth (the aggregator lists every accepted offer).
		if offer.RequestID != nil {
			if err := tx.Model(&models.Request{}).
				Where("id = ? AND accepted_offer_id IS NULL", *offer.RequestID).
				Update("accepted_offer_id", offer.ID).Error; err != nil {
				return err
			}
		}

		seqs := sortedSequences(selectedSeqs)
		mode := "full"
		if partial {
			mode = "partial"
		}
		if err := e.Events.Append(tx, offer.ID, models.EventAccepted, actor.userRef(), map[string]any{
			"mode":               mode,
			"selected_sequences": seqs,
			"total_cents":        snapshot.TotalCents,
		}); err != nil {
			return err
		}
		result = AcceptanceResult{
			TotalCents:        snapshot.TotalCents,
			Partial:           partial,
			AcceptedSequences: seqs,
		}
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	offer, err := e.loadForRestaurant(e.DB, actor, offerID)
	if err != nil {
		return nil, err
	}
	result.Offer = *offer
	return &result, nil
}

// Reject marks a SENT offer rejected. No snapshot and no lock: a rejected
// offer carries no binding content, so only the status itself is frozen.
func (e *AcceptanceEngine) Reject(actor Actor, offerID uint, reason string) error {
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		offer, err := e.loadForRestaurant(tx, actor, offerID)
		if err != nil {
			return err
		}
		if offer.Status != models.OfferSent {
			return &InvalidTransitionError{Op: "reject", Current: offer.Status}
		}
		now := time.Now()
		res := tx.Model(&models.Offer{}).
			Where("id = ? AND status = ?", offer.ID, models.OfferSent).
			Updates(map[string]any{"status": models.OfferRejected, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current models.Offer
			if err := tx.Select("status").First(&current, offer.ID).Error; err != nil {
				return err
			}
			return &InvalidTransitionError{Op: "reject", Current: current.Status}
		}
		var payload any
		if reason != "" {
			payload = map[string]any{"reason": reason}
		}
		return e.Events.Append(tx, offer.ID, models.EventRejected, actor.userRef(), payload)
	})
	return storageErr(err)
}

// classifySelection resolves the requested sequence numbers against the
// offer's lines. nil selection means all priced lines. Returns the selected
// set and whether this is a partial acceptance: exactly the priced set is
// "full" even when unpriced lines exist and are implicitly excluded.
func classifySelection(lines []models.OfferLine, selected []int) (map[int]bool, bool, error) {
	known := make(map[int]uint, len(lines))
	priced := make(map[int]bool)
	for _, l := range lines {
		known[l.SequenceNo] = l.ID
		if l.Priced() {
			priced[l.SequenceNo] = true
		}
	}
	if selected == nil {
		if len(priced) == 0 {
			return nil, false, &InvalidSelectionError{Reason: "empty_selection"}
		}
		return priced, false, nil
	}
	if len(selected) == 0 {
		return nil, false, &InvalidSelectionError{Reason: "empty_selection"}
	}
	set := make(map[int]bool, len(selected))
	var unknown []uint
	for _, seq := range selected {
		if _, ok := known[seq]; !ok {
			unknown = append(unknown, uint(seq))
			continue
		}
		set[seq] = true
	}
	if len(unknown) > 0 {
		return nil, false, &InvalidSelectionError{Reason: "unknown_lines", UnknownIDs: unknown}
	}
	// Full acceptance iff the selection equals the priced set exactly.
	full := len(set) == len(priced)
	if full {
		for seq := range set {
			if !priced[seq] {
				full = false
				break
			}
		}
	}
	return set, !full, nil
}

// buildSnapshot captures the offer header and every line's final committed
// state. totalAccepted sums price*quantity over accepted lines plus flat
// shipping when the offer's terms call for it.
func buildSnapshot(offer *models.Offer, selected map[int]bool, partial bool, at time.Time) *models.OfferSnapshot {
	snap := &models.OfferSnapshot{
		OfferID:          offer.ID,
		Title:            offer.Title,
		Currency:         offer.Currency,
		SupplierID:       offer.SupplierID,
		RestaurantID:     offer.RestaurantID,
		ShippingTerms:    offer.ShippingTerms,
		ShippingFeeCents: offer.ShippingFeeCents,
		Partial:          partial,
		CapturedAt:       at,
	}
	var total int64
	for _, l := range offer.Lines {
		accepted := selected[l.SequenceNo]
		snap.Lines = append(snap.Lines, models.SnapshotLine{
			SequenceNo:     l.SequenceNo,
			Name:           l.Name,
			Vintage:        l.Vintage,
			Producer:       l.Producer,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			Accepted:       accepted,
		})
		if accepted && l.UnitPriceCents != nil {
			total += *l.UnitPriceCents * int64(l.Quantity)
		}
	}
	if offer.ShippingTerms == models.ShippingFlat {
		total += offer.ShippingFeeCents
	}
	snap.TotalCents = total
	return snap
}

func sortedSequences(set map[int]bool) []int {
	seqs := make([]int, 0, len(set))
	for seq := range set {
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs
}

// loadForRestaurant scopes reads to the addressed restaurant; other tenants'
// offers read as not found.
func (e *AcceptanceEngine) loadForRestaurant(tx *gorm.DB, actor Actor, offerID uint) (*models.Offer, error) {
	var offer models.Offer
	err := tx.Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("sequence_no asc") }).
		Where("id = ? AND restaurant_id = ?", offerID, actor.CompanyID).
		First(&offer).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOfferNotFound
		}
		return nil, &StorageError{Err: err}
	}
	return &offer, nil
}
