package winecheck

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/models"
	"github.com/maelstrand/winetrade/internal/services"
)

// Enricher applies match results to offer lines. The external call runs
// first, without holding any transaction; the write re-checks the lock so an
// acceptance racing the enrichment can never mutate a frozen line.
type Enricher struct {
	DB     *gorm.DB
	Client Client
}

func NewEnricher(db *gorm.DB, client Client) *Enricher {
	return &Enricher{DB: db, Client: client}
}

// EnrichLine matches one line and stores the enrichment value object.
// Returns the stored enrichment, or nil when the service had no match.
func (e *Enricher) EnrichLine(ctx context.Context, offerID uint, sequenceNo int) (*models.LineEnrichment, error) {
	var line models.OfferLine
	err := e.DB.Joins("JOIN offers ON offers.id = offer_lines.offer_id").
		Where("offer_lines.offer_id = ? AND offer_lines.sequence_no = ?", offerID, sequenceNo).
		First(&line).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, services.ErrLineNotFound
		}
		return nil, err
	}

	match, err := e.Client.Match(ctx, Query{Name: line.Name, Producer: line.Producer, Vintage: line.Vintage})
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, nil
	}

	enrichment := models.LineEnrichment{
		Present:         true,
		MatchedName:     match.Name,
		MatchedProducer: match.Producer,
		Confidence:      match.Confidence,
	}
	// Guarded write: refuses silently-raced locks.
	res := e.DB.Model(&models.OfferLine{}).
		Where("id = ? AND (SELECT locked_at FROM offers WHERE offers.id = offer_lines.offer_id) IS NULL", line.ID).
		Updates(map[string]any{
			"enrich_present":          true,
			"enrich_matched_name":     enrichment.MatchedName,
			"enrich_matched_producer": enrichment.MatchedProducer,
			"enrich_confidence":       enrichment.Confidence,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, services.ErrOfferLocked
	}
	return &enrichment, nil
}
