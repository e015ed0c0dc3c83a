package auth

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/database/testutil"
	"github.com/medscribe/gateway/internal/gateway"
	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/internal/services"
	appErrors "github.com/medscribe/gateway/pkg/errors"
)

type authFixture struct {
	db    *gorm.DB
	jwt   *JWTService
	auth  *Authenticator
	audit *services.AuditService
	now   time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	jwtSvc := newTestJWTService(t, func() time.Time { return now })

	authenticator, err := NewAuthenticator(db, jwtSvc, audit, 0)
	require.NoError(t, err)
	authenticator.WithClock(func() time.Time { return now })

	return &authFixture{db: db, jwt: jwtSvc, auth: authenticator, audit: audit, now: now}
}

func (f *authFixture) seedUser(t *testing.T, mutate ...func(*models.User)) *models.User {
	t.Helper()

	dept := "cardiology"
	user := &models.User{
		Email:      "doc@example.com",
		Role:       models.RoleDoctor,
		Department: &dept,
		IsActive:   true,
		IsVerified: true,
	}
	for _, fn := range mutate {
		fn(user)
	}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

func (f *authFixture) seedSession(t *testing.T, userID string, mutate ...func(*models.Session)) *models.Session {
	t.Helper()

	session := &models.Session{
		UserID:         userID,
		SessionToken:   "session-" + uuid.NewString(),
		IsActive:       true,
		ExpiresAt:      f.now.Add(time.Hour),
		LastActivityAt: f.now.Add(-time.Hour),
	}
	for _, fn := range mutate {
		fn(session)
	}
	require.NoError(t, f.db.Create(session).Error)
	return session
}

func (f *authFixture) seedPermission(t *testing.T, userID, name string, resource *string, expiresAt *time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Permission{
		UserID:    userID,
		Name:      name,
		Resource:  resource,
		ExpiresAt: expiresAt,
	}).Error)
}

func (f *authFixture) accessToken(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := f.jwt.IssueAccessToken(user.ID, user.Role, user.Email)
	require.NoError(t, err)
	return token
}

func (f *authFixture) auditActions(t *testing.T) []string {
	t.Helper()
	var rows []models.AuditLog
	require.NoError(t, f.db.Order("created_at").Find(&rows).Error)
	actions := make([]string, 0, len(rows))
	for _, row := range rows {
		actions = append(actions, row.Action)
	}
	return actions
}

func TestAuthenticateSuccess(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)
	session := f.seedSession(t, user.ID)
	f.seedPermission(t, user.ID, models.PermTranscriptionRead, nil, nil)
	f.seedPermission(t, user.ID, models.PermReportCreate, nil, nil)

	conn, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		PayloadToken: f.accessToken(t, user),
		RemoteAddr:   "203.0.113.9",
		UserAgent:    "test-agent",
	})
	require.NoError(t, err)

	assert.Equal(t, user.ID, conn.UserID)
	assert.Equal(t, user.Email, conn.Email)
	assert.Equal(t, models.RoleDoctor, conn.Role)
	require.NotNil(t, conn.Department)
	assert.Equal(t, "cardiology", *conn.Department)
	assert.Equal(t, session.ID, conn.SessionID)
	assert.Len(t, conn.Permissions, 2)
	assert.Equal(t, f.now, conn.AuthenticatedAt)

	// Successful auth touches the session's last activity.
	var refreshed models.Session
	require.NoError(t, f.db.Take(&refreshed, "id = ?", session.ID).Error)
	assert.WithinDuration(t, f.now, refreshed.LastActivityAt, time.Second)

	assert.Contains(t, f.auditActions(t), services.ActionConnectionAuthSuccess)
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{})
	require.ErrorIs(t, err, appErrors.ErrMissingCredentials)

	assert.Contains(t, f.auditActions(t), services.ActionConnectionAuthFailed)
}

func TestAuthenticateTokenPrecedence(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)
	f.seedSession(t, user.ID)

	valid := f.accessToken(t, user)

	// The payload token wins even when weaker slots hold garbage.
	conn, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		PayloadToken: valid,
		BearerToken:  "garbage",
		QueryToken:   "garbage",
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, conn.UserID)

	// The bearer header wins over the query string.
	conn, err = f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		BearerToken: valid,
		QueryToken:  "garbage",
	})
	require.NoError(t, err)
	assert.Equal(t, user.ID, conn.UserID)
}

func TestAuthenticateQueryTokenLeavesAuditTrace(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)
	f.seedSession(t, user.ID)

	_, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		QueryToken: f.accessToken(t, user),
	})
	require.NoError(t, err)

	actions := f.auditActions(t)
	assert.Contains(t, actions, services.ActionQueryTokenUsed)
	assert.Contains(t, actions, services.ActionConnectionAuthSuccess)
}

func TestAuthenticateInvalidToken(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		PayloadToken: "not-a-token",
	})
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	f := newAuthFixture(t)

	token, err := f.jwt.IssueAccessToken("ghost-user", models.RoleDoctor, "ghost@example.com")
	require.NoError(t, err)

	_, err = f.auth.Authenticate(context.Background(), gateway.AuthRequest{PayloadToken: token})
	require.ErrorIs(t, err, appErrors.ErrUserUnavailable)
}

func TestAuthenticateInactiveUser(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, func(u *models.User) { u.IsActive = false })
	f.seedSession(t, user.ID)

	_, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		PayloadToken: f.accessToken(t, user),
	})
	require.ErrorIs(t, err, appErrors.ErrUserUnavailable)
}

func TestAuthenticateUnverifiedUser(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t, func(u *models.User) { u.IsVerified = false })
	f.seedSession(t, user.ID)

	_, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		PayloadToken: f.accessToken(t, user),
	})
	require.ErrorIs(t, err, appErrors.ErrUnverifiedAccount)
}

func TestAuthenticateNoValidSession(t *testing.T) {
	f := newAuthFixture(t)

	t.Run("no sessions at all", func(t *testing.T) {
		user := f.seedUser(t)
		_, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
			PayloadToken: f.accessToken(t, user),
		})
		require.ErrorIs(t, err, appErrors.ErrNoValidSession)
	})

	t.Run("only expired or inactive sessions", func(t *testing.T) {
		user := f.seedUser(t, func(u *models.User) { u.Email = "doc2@example.com" })
		f.seedSession(t, user.ID, func(s *models.Session) { s.ExpiresAt = f.now.Add(-time.Minute) })
		f.seedSession(t, user.ID, func(s *models.Session) { s.IsActive = false })

		_, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
			PayloadToken: f.accessToken(t, user),
		})
		require.ErrorIs(t, err, appErrors.ErrNoValidSession)
	})

	t.Run("expiry exactly now counts as expired", func(t *testing.T) {
		user := f.seedUser(t, func(u *models.User) { u.Email = "doc3@example.com" })
		f.seedSession(t, user.ID, func(s *models.Session) { s.ExpiresAt = f.now })

		_, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
			PayloadToken: f.accessToken(t, user),
		})
		require.ErrorIs(t, err, appErrors.ErrNoValidSession)
	})
}

func TestAuthenticatePicksMostRecentlyActiveSession(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)
	f.seedSession(t, user.ID, func(s *models.Session) {
		s.LastActivityAt = f.now.Add(-2 * time.Hour)
	})
	newest := f.seedSession(t, user.ID, func(s *models.Session) {
		s.LastActivityAt = f.now.Add(-time.Minute)
	})

	conn, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		PayloadToken: f.accessToken(t, user),
	})
	require.NoError(t, err)
	assert.Equal(t, newest.ID, conn.SessionID)
}

func TestAuthenticateFiltersExpiredPermissions(t *testing.T) {
	f := newAuthFixture(t)
	user := f.seedUser(t)
	f.seedSession(t, user.ID)

	past := f.now.Add(-time.Minute)
	future := f.now.Add(time.Hour)
	atNow := f.now
	resource := "ward-7"
	f.seedPermission(t, user.ID, models.PermReportRead, &resource, &future)
	f.seedPermission(t, user.ID, models.PermSummaryRead, nil, &past)
	// a grant expiring exactly now is already expired
	f.seedPermission(t, user.ID, models.PermSummaryCreate, nil, &atNow)
	f.seedPermission(t, user.ID, models.PermTranscriptionRead, nil, nil)

	conn, err := f.auth.Authenticate(context.Background(), gateway.AuthRequest{
		PayloadToken: f.accessToken(t, user),
	})
	require.NoError(t, err)

	names := make([]string, 0, len(conn.Permissions))
	for _, grant := range conn.Permissions {
		names = append(names, grant.Name)
	}
	assert.ElementsMatch(t, []string{models.PermReportRead, models.PermTranscriptionRead}, names)
}
