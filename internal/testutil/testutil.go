// Package testutil provides helpers shared by package tests: an in-memory
// database with the full schema and fixture builders.
package testutil

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/utils"
)

// NewDB returns a migrated in-memory sqlite database private to the test.
// A single connection is used, so callers must not query outside an open transaction.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// CreateUser inserts an active user with the given email and password "password123".
func CreateUser(t testing.TB, db *gorm.DB, email string) models.User {
	t.Helper()
	hash, err := utils.HashPassword("password123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := models.User{Email: email, Name: email, PasswordHash: &hash, Active: true}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// CreateQrCode inserts a url QR code owned by userID.
func CreateQrCode(t testing.TB, db *gorm.DB, userID, name string) models.QrCode {
	t.Helper()
	q := models.QrCode{UserID: userID, Name: name, Type: "url", Content: "https://example.com/" + name}
	if err := db.Create(&q).Error; err != nil {
		t.Fatalf("create qr code: %v", err)
	}
	return q
}
