package models

import "time"

// Wine catalog
//
// Catalog entries are populated by the importer from Systembolaget-style
// JSON dumps and serve as templates when a supplier drafts offer lines.
// They have no bearing on acceptance: a line frozen in a snapshot keeps
// its own copy of every descriptive field.

type WineProduct struct {
	ID         uint    `gorm:"primaryKey"`
	SupplierID uint    `gorm:"not null;index:idx_supplier_wine,unique,priority:1"`
	Supplier   Company `gorm:"foreignKey:SupplierID"`
	Name       string  `gorm:"not null;index:idx_supplier_wine,unique,priority:2"`
	Producer   string  `gorm:"index:idx_supplier_wine,unique,priority:3"`
	Vintage    int     `gorm:"index:idx_supplier_wine,unique,priority:4"`
	Country    string
	Region     string
	Grape      string
	// List price in öre; suppliers quote per-offer prices on lines.
	ListPriceCents int64
	Organic        bool
	Description    string
	Available      bool `gorm:"not null;default:true"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
