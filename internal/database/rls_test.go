package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/testutil"
)

func TestTenancyRun_CommitsOnSuccess(t *testing.T) {
	db := testutil.NewDB(t)
	alice := testutil.CreateUser(t, db, "alice@example.com")
	tenancy := NewTenancy(db, true)

	err := tenancy.Run(context.Background(), Scope{UserID: alice.ID}, func(tx *gorm.DB) error {
		return tx.Create(&models.QrCode{UserID: alice.ID, Name: "a", Type: "text", Content: "hi"}).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, db.Model(&models.QrCode{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTenancyRun_RollsBackOnError(t *testing.T) {
	db := testutil.NewDB(t)
	alice := testutil.CreateUser(t, db, "alice@example.com")
	tenancy := NewTenancy(db, false)
	boom := errors.New("boom")

	err := tenancy.Run(context.Background(), Scope{UserID: alice.ID}, func(tx *gorm.DB) error {
		if err := tx.Create(&models.QrCode{UserID: alice.ID, Name: "a", Type: "text", Content: "hi"}).Error; err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.QrCode{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestScopeOwned_FiltersByUser(t *testing.T) {
	db := testutil.NewDB(t)
	alice := testutil.CreateUser(t, db, "alice@example.com")
	bob := testutil.CreateUser(t, db, "bob@example.com")
	testutil.CreateQrCode(t, db, alice.ID, "a1")
	testutil.CreateQrCode(t, db, alice.ID, "a2")
	testutil.CreateQrCode(t, db, bob.ID, "b1")

	var mine []models.QrCode
	require.NoError(t, Scope{UserID: bob.ID}.Owned(db.Model(&models.QrCode{})).Find(&mine).Error)
	require.Len(t, mine, 1)
	assert.Equal(t, "b1", mine[0].Name)

	var all []models.QrCode
	require.NoError(t, Scope{UserID: bob.ID, Admin: true}.Owned(db.Model(&models.QrCode{})).Find(&all).Error)
	assert.Len(t, all, 3)
}

func TestSeedTemplates_Idempotent(t *testing.T) {
	db := testutil.NewDB(t)
	tenancy := NewTenancy(db, false)

	require.NoError(t, SeedTemplates(context.Background(), tenancy))
	require.NoError(t, SeedTemplates(context.Background(), tenancy))

	var count int64
	require.NoError(t, db.Model(&models.QrTemplate{}).Where("user_id IS NULL").Count(&count).Error)
	assert.Equal(t, int64(len(builtinTemplates)), count)
}
