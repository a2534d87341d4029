package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zaqqye/qr_backend_v1/internal/applog"
	"github.com/zaqqye/qr_backend_v1/internal/models"
	"github.com/zaqqye/qr_backend_v1/internal/testutil"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestHandleLogsCleanup(t *testing.T) {
	db := testutil.NewDB(t)
	for _, age := range []int{1, 10, 40, 90} {
		row := models.ApplicationLog{Level: "info", Category: "system", Event: "x", CreatedAt: now.AddDate(0, 0, -age)}
		require.NoError(t, db.Create(&row).Error)
	}

	h := &Handlers{DB: db, Logger: applog.New(db, zerolog.Nop(), nil), Log: zerolog.Nop(), Now: func() time.Time { return now }}
	task, err := NewLogsCleanupTask(30, "admin-1")
	require.NoError(t, err)
	require.NoError(t, h.HandleLogsCleanup(context.Background(), task))

	var events []string
	require.NoError(t, db.Model(&models.ApplicationLog{}).Order("id").Pluck("event", &events).Error)
	// two recent rows survive, plus the audit row for the cleanup itself
	assert.Equal(t, []string{"x", "x", applog.EventLogsCleanup}, events)
}

func TestHandleLogsCleanupRejectsBadPayload(t *testing.T) {
	h := &Handlers{DB: testutil.NewDB(t), Log: zerolog.Nop()}

	err := h.HandleLogsCleanup(context.Background(), asynq.NewTask(TypeLogsCleanup, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	task, err := NewLogsCleanupTask(0, "")
	require.NoError(t, err)
	assert.True(t, errors.Is(h.HandleLogsCleanup(context.Background(), task), asynq.SkipRetry))
}

func TestCleanupSessions(t *testing.T) {
	db := testutil.NewDB(t)
	user := testutil.CreateUser(t, db, "s@example.com")
	revokedAt := now.Add(-time.Hour)
	sessions := []models.Session{
		{UserID: user.ID, TokenID: "live", TokenHash: "h1", ExpiresAt: now.Add(time.Hour)},
		{UserID: user.ID, TokenID: "expired", TokenHash: "h2", ExpiresAt: now.Add(-time.Hour)},
		{UserID: user.ID, TokenID: "revoked", TokenHash: "h3", ExpiresAt: now.Add(time.Hour), RevokedAt: &revokedAt},
	}
	require.NoError(t, db.Create(&sessions).Error)

	h := &Handlers{DB: db, Logger: applog.New(db, zerolog.Nop(), nil), Log: zerolog.Nop(), Now: func() time.Time { return now }}
	require.NoError(t, h.HandleSessionsCleanup(context.Background(), NewSessionsCleanupTask()))

	var left []string
	require.NoError(t, db.Model(&models.Session{}).Pluck("token_id", &left).Error)
	assert.Equal(t, []string{"live"}, left)
}
