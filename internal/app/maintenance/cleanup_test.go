package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/database/testutil"
	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/internal/services"
)

func seedCleanupUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	user := &models.User{
		Email:      "doc@example.com",
		Role:       models.RoleDoctor,
		IsActive:   true,
		IsVerified: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestCleanupSessions(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user := seedCleanupUser(t, db)
	now := time.Now()

	live := &models.Session{
		UserID: user.ID, SessionToken: "live",
		IsActive: true, ExpiresAt: now.Add(time.Hour), LastActivityAt: now,
	}
	expired := &models.Session{
		UserID: user.ID, SessionToken: "expired",
		IsActive: true, ExpiresAt: now.Add(-time.Hour), LastActivityAt: now,
	}
	inactive := &models.Session{
		UserID: user.ID, SessionToken: "inactive",
		IsActive: false, ExpiresAt: now.Add(time.Hour), LastActivityAt: now,
	}
	require.NoError(t, db.Create(live).Error)
	require.NoError(t, db.Create(expired).Error)
	require.NoError(t, db.Create(inactive).Error)

	removed, err := CleanupSessions(context.Background(), db, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	var remaining []models.Session
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, live.ID, remaining[0].ID)
}

func TestCleanupRefreshTokens(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user := seedCleanupUser(t, db)
	now := time.Now()

	live := &models.RefreshToken{UserID: user.ID, Token: "live", ExpiresAt: now.Add(time.Hour)}
	expired := &models.RefreshToken{UserID: user.ID, Token: "expired", ExpiresAt: now.Add(-time.Hour)}
	revoked := &models.RefreshToken{UserID: user.ID, Token: "revoked", ExpiresAt: now.Add(time.Hour), Revoked: true}
	require.NoError(t, db.Create(live).Error)
	require.NoError(t, db.Create(expired).Error)
	require.NoError(t, db.Create(revoked).Error)

	removed, err := CleanupRefreshTokens(context.Background(), db, now)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	var remaining []models.RefreshToken
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	require.Equal(t, "live", remaining[0].Token)
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	user := seedCleanupUser(t, db)
	now := time.Now()

	require.NoError(t, db.Create(&models.Session{
		UserID: user.ID, SessionToken: "expired",
		IsActive: true, ExpiresAt: now.Add(-time.Hour), LastActivityAt: now,
	}).Error)
	require.NoError(t, db.Create(&models.RefreshToken{
		UserID: user.ID, Token: "revoked", ExpiresAt: now.Add(time.Hour), Revoked: true,
	}).Error)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)
	require.NoError(t, audit.Record(context.Background(), services.AuditEntry{
		Action:      services.ActionConnectionAuthSuccess,
		Description: "recent entry stays",
	}))

	sweeper := &fakeSweeper{}
	cleaner := NewCleaner(db, audit,
		WithNow(func() time.Time { return now }),
		WithAuditRetentionDays(30),
		WithLimiter(sweeper),
	)

	require.NoError(t, cleaner.RunOnce(context.Background()))

	var sessions, tokens, entries int64
	require.NoError(t, db.Model(&models.Session{}).Count(&sessions).Error)
	require.NoError(t, db.Model(&models.RefreshToken{}).Count(&tokens).Error)
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&entries).Error)
	require.Zero(t, sessions)
	require.Zero(t, tokens)
	require.EqualValues(t, 1, entries)
	require.Equal(t, 1, sweeper.calls)
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	cleaner := NewCleaner(db, audit, WithLimiter(&fakeSweeper{}))
	require.NoError(t, cleaner.Start())
	<-cleaner.Stop().Done()
}

func TestCleanerRejectsBadSchedule(t *testing.T) {
	db := testutil.MustOpenTestDB(t)

	cleaner := NewCleaner(db, nil, WithSessionSchedule("not-a-spec"))
	require.Error(t, cleaner.Start())
}

type fakeSweeper struct{ calls int }

func (f *fakeSweeper) SweepIdle() int {
	f.calls++
	return 0
}
