// Package importer loads supplier wine catalogs from Systembolaget-style
// JSON dumps (the format the scraper scripts produce). Prices arrive in
// whole SEK and are stored in öre.
package importer

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/models"
)

// catalogEntry mirrors the dump's Swedish field names.
type catalogEntry struct {
	Namn        string  `json:"namn"`
	Producent   string  `json:"producent"`
	Land        string  `json:"land"`
	Region      string  `json:"region"`
	PrisSEK     float64 `json:"pris_sek"`
	Beskrivning string  `json:"beskrivning"`
	Druva       string  `json:"druva"`
	Ekologisk   bool    `json:"ekologisk"`
	Lagerstatus string  `json:"lagerstatus"`
	Argang      int     `json:"argang"`
}

// Result summarizes one import run.
type Result struct {
	Created int
	Updated int
	Skipped int
}

// ImportCatalog reads a JSON array of catalog entries and upserts them as
// the supplier's WineProducts, keyed by (supplier, name, producer, vintage).
func ImportCatalog(db *gorm.DB, r io.Reader, supplierID uint) (*Result, error) {
	var entries []catalogEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	var supplier models.Company
	if err := db.Where("id = ? AND kind = ?", supplierID, models.CompanySupplier).
		First(&supplier).Error; err != nil {
		return nil, fmt.Errorf("supplier %d: %w", supplierID, err)
	}

	res := &Result{}
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			name := strings.TrimSpace(e.Namn)
			if name == "" || e.PrisSEK < 0 {
				res.Skipped++
				continue
			}
			wine := models.WineProduct{
				SupplierID:     supplierID,
				Name:           name,
				Producer:       strings.TrimSpace(e.Producent),
				Vintage:        e.Argang,
				Country:        e.Land,
				Region:         e.Region,
				Grape:          e.Druva,
				ListPriceCents: int64(math.Round(e.PrisSEK * 100)),
				Organic:        e.Ekologisk,
				Description:    e.Beskrivning,
				Available:      e.Lagerstatus == "" || e.Lagerstatus == "tillgänglig",
			}
			var existing models.WineProduct
			err := tx.Where("supplier_id = ? AND name = ? AND producer = ? AND vintage = ?",
				supplierID, wine.Name, wine.Producer, wine.Vintage).First(&existing).Error
			if err == nil {
				wine.ID = existing.ID
				wine.CreatedAt = existing.CreatedAt
				if err := tx.Save(&wine).Error; err != nil {
					return err
				}
				res.Updated++
				continue
			}
			if err != gorm.ErrRecordNotFound {
				return err
			}
			if err := tx.Create(&wine).Error; err != nil {
				return err
			}
			res.Created++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"supplier": supplierID,
		"created":  res.Created,
		"updated":  res.Updated,
		"skipped":  res.Skipped,
	}).Info("catalog import finished")
	return res, nil
}
