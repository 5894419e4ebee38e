package models

import "time"

// Company & user models
//
// A Company is the tenant actor on the marketplace: a restaurant buying
// wine, a supplier quoting it, or an import-of-record intermediary.

const (
	CompanySupplier   = "supplier"
	CompanyRestaurant = "restaurant"
	CompanyImporter   = "importer"
)

type Company struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"not null;index"`
	OrgNumber string `gorm:"index"` // Swedish organisationsnummer
	Kind      string `gorm:"not null"` // supplier, restaurant, importer
	Email     string
	Phone     string
	City      string
	Country   string `gorm:"not null;default:'SE'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID        uint    `gorm:"primaryKey"`
	Email     string  `gorm:"unique;not null;index"`
	Password  string  `gorm:"not null"` // bcrypt hash
	Name      string
	CompanyID uint    `gorm:"not null;index"`
	Company   Company `gorm:"foreignKey:CompanyID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
