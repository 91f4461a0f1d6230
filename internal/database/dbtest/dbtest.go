// Package dbtest opens isolated, migrated in-memory databases for tests.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"EscrowEngine/internal/database"
	"EscrowEngine/internal/logging"
	"EscrowEngine/internal/models"
)

// New returns a fresh migrated sqlite database that lives for the test.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := database.OpenSQLite(dsn, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db, logging.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// SeedProvider registers a bookable provider with the given hourly price.
func SeedProvider(t testing.TB, db *gorm.DB, userID string, pricePerHour int64) {
	t.Helper()
	profile := models.ProviderProfile{
		ID:           uuid.NewString(),
		UserID:       userID,
		PricePerHour: pricePerHour,
		IsApproved:   true,
		IsVisible:    true,
	}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed provider: %v", err)
	}
}

func SeedRole(t testing.TB, db *gorm.DB, userID string, role models.AppRole) {
	t.Helper()
	if err := db.Create(&models.UserRole{ID: uuid.NewString(), UserID: userID, Role: role}).Error; err != nil {
		t.Fatalf("seed role: %v", err)
	}
}

func SeedProfile(t testing.TB, db *gorm.DB, userID, fullName, email string) {
	t.Helper()
	profile := models.Profile{ID: uuid.NewString(), UserID: userID, FullName: fullName, Email: email}
	if err := db.Create(&profile).Error; err != nil {
		t.Fatalf("seed profile: %v", err)
	}
}
