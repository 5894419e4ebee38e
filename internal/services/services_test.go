package services

import (
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/maelstrand/winetrade/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Company{}, &models.User{}, &models.WineProduct{},
		&models.Request{}, &models.Offer{}, &models.OfferLine{}, &models.OfferEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedMarketplace creates one supplier and one restaurant with a user each
// and returns actors for both sides.
func seedMarketplace(t *testing.T, db *gorm.DB) (supplier Actor, restaurant Actor) {
	t.Helper()
	sup := models.Company{Name: "Vinhuset AB", Kind: models.CompanySupplier, OrgNumber: "556000-0001"}
	if err := db.Create(&sup).Error; err != nil {
		t.Fatalf("supplier: %v", err)
	}
	rest := models.Company{Name: "Bistro Norr", Kind: models.CompanyRestaurant, OrgNumber: "556000-0002"}
	if err := db.Create(&rest).Error; err != nil {
		t.Fatalf("restaurant: %v", err)
	}
	supUser := models.User{Email: "sales@vinhuset.test", Password: "x", CompanyID: sup.ID}
	if err := db.Create(&supUser).Error; err != nil {
		t.Fatalf("supplier user: %v", err)
	}
	restUser := models.User{Email: "chef@bistronorr.test", Password: "x", CompanyID: rest.ID}
	if err := db.Create(&restUser).Error; err != nil {
		t.Fatalf("restaurant user: %v", err)
	}
	supplier = Actor{UserID: supUser.ID, CompanyID: sup.ID, CompanyKind: models.CompanySupplier}
	restaurant = Actor{UserID: restUser.ID, CompanyID: rest.ID, CompanyKind: models.CompanyRestaurant}
	return supplier, restaurant
}

func price(v int64) *int64 { return &v }

func intp(v int) *int { return &v }

// sentOffer creates and sends an offer with the given lines, returning it in
// SENT state ready for acceptance.
func sentOffer(t *testing.T, store *OfferStore, supplier Actor, restaurantID uint, in OfferInput) *models.Offer {
	t.Helper()
	in.RestaurantID = restaurantID
	offer, err := store.Create(supplier, in)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	sent, err := store.Send(supplier, offer.ID)
	if err != nil {
		t.Fatalf("send offer: %v", err)
	}
	return sent
}

func newStoreAndEngine(db *gorm.DB) (*OfferStore, *AcceptanceEngine, *EventLog) {
	events := NewEventLog(db)
	return NewOfferStore(db, events), NewAcceptanceEngine(db, events), events
}
