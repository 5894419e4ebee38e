package importer

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/models"
)

func setupImporterDB(t *testing.T) (*gorm.DB, uint) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Company{}, &models.WineProduct{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sup := models.Company{Name: "Vinhuset AB", Kind: models.CompanySupplier}
	if err := db.Create(&sup).Error; err != nil {
		t.Fatalf("supplier: %v", err)
	}
	return db, sup.ID
}

const dump = `[
  {"namn": "Barolo Riserva", "producent": "Cantina Rossi", "land": "Italien", "region": "Piemonte",
   "pris_sek": 385.50, "druva": "Nebbiolo", "ekologisk": true, "lagerstatus": "tillgänglig", "argang": 2018},
  {"namn": "Chablis", "producent": "Domaine Petit", "land": "Frankrike",
   "pris_sek": 215, "druva": "Chardonnay", "lagerstatus": "slut", "argang": 2022},
  {"namn": "  ", "pris_sek": 100},
  {"namn": "Gratisvin", "pris_sek": -5}
]`

func TestImportCatalog(t *testing.T) {
	db, supplierID := setupImporterDB(t)

	res, err := ImportCatalog(db, strings.NewReader(dump), supplierID)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Created != 2 || res.Updated != 0 || res.Skipped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	var barolo models.WineProduct
	if err := db.Where("name = ?", "Barolo Riserva").First(&barolo).Error; err != nil {
		t.Fatalf("barolo: %v", err)
	}
	if barolo.ListPriceCents != 38550 {
		t.Fatalf("expected 38550 öre, got %d", barolo.ListPriceCents)
	}
	if !barolo.Organic || !barolo.Available {
		t.Fatalf("flags lost: %+v", barolo)
	}

	var chablis models.WineProduct
	if err := db.Where("name = ?", "Chablis").First(&chablis).Error; err != nil {
		t.Fatalf("chablis: %v", err)
	}
	if chablis.Available {
		t.Fatal("lagerstatus slut must mean unavailable")
	}

	// Re-importing the same dump updates in place instead of duplicating.
	res, err = ImportCatalog(db, strings.NewReader(dump), supplierID)
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if res.Created != 0 || res.Updated != 2 {
		t.Fatalf("expected pure update run, got %+v", res)
	}
	var count int64
	db.Model(&models.WineProduct{}).Count(&count)
	if count != 2 {
		t.Fatalf("expected 2 products, got %d", count)
	}
}

func TestImportCatalogRoundsOre(t *testing.T) {
	db, supplierID := setupImporterDB(t)

	// 129.99 SEK must land on 12999 öre, not truncate to 12998.
	entries := `[{"namn": "Soave", "producent": "Cantina Bianchi", "pris_sek": 129.99, "argang": 2023}]`
	if _, err := ImportCatalog(db, strings.NewReader(entries), supplierID); err != nil {
		t.Fatalf("import: %v", err)
	}
	var wine models.WineProduct
	if err := db.Where("name = ?", "Soave").First(&wine).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if wine.ListPriceCents != 12999 {
		t.Fatalf("expected 12999 öre, got %d", wine.ListPriceCents)
	}
}

func TestImportCatalogRejectsUnknownSupplier(t *testing.T) {
	db, _ := setupImporterDB(t)
	if _, err := ImportCatalog(db, strings.NewReader(`[]`), 999); err == nil {
		t.Fatal("expected error for unknown supplier")
	}
}

func TestImportCatalogRejectsBadJSON(t *testing.T) {
	db, supplierID := setupImporterDB(t)
	if _, err := ImportCatalog(db, strings.NewReader(`{"not":"an array"`), supplierID); err == nil {
		t.Fatal("expected decode error")
	}
}
