package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medscribe/gateway/internal/models"
	appErrors "github.com/medscribe/gateway/pkg/errors"
)

func newTestJWTService(t *testing.T, clock func() time.Time) *JWTService {
	t.Helper()

	svc, err := NewJWTService(JWTConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "medscribe-gateway",
		Clock:         clock,
	})
	require.NoError(t, err)
	return svc
}

func TestJWTServiceRequiresSecrets(t *testing.T) {
	_, err := NewJWTService(JWTConfig{RefreshSecret: "x"})
	require.Error(t, err)

	_, err = NewJWTService(JWTConfig{AccessSecret: "x"})
	require.Error(t, err)
}

func TestJWTServiceIssueAndVerifyAccessToken(t *testing.T) {
	svc := newTestJWTService(t, nil)

	token, err := svc.IssueAccessToken("user-1", models.RoleDoctor, "doc@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := svc.VerifyAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleDoctor, claims.Role)
	assert.Equal(t, "doc@example.com", claims.Email)
}

func TestJWTServiceRejectsCrossSecretVerification(t *testing.T) {
	svc := newTestJWTService(t, nil)

	refresh, err := svc.IssueRefreshToken("user-1", models.RoleDoctor, "doc@example.com")
	require.NoError(t, err)

	// A refresh token must never pass access-token verification and vice versa.
	_, err = svc.VerifyAccessToken(refresh)
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)

	access, err := svc.IssueAccessToken("user-1", models.RoleDoctor, "doc@example.com")
	require.NoError(t, err)

	_, err = svc.VerifyRefreshToken(access)
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestJWTServiceExpiredTokenIsDistinctFromInvalid(t *testing.T) {
	current := time.Now()
	svc := newTestJWTService(t, func() time.Time { return current })

	token, err := svc.IssueAccessToken("user-1", models.RoleNurse, "nurse@example.com")
	require.NoError(t, err)

	current = current.Add(DefaultAccessTokenTTL + time.Minute)

	_, err = svc.VerifyAccessToken(token)
	require.ErrorIs(t, err, appErrors.ErrExpiredToken)
	require.NotErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestJWTServiceRejectsWrongSecret(t *testing.T) {
	svc := newTestJWTService(t, nil)

	other, err := NewJWTService(JWTConfig{
		AccessSecret:  "different-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "medscribe-gateway",
	})
	require.NoError(t, err)

	token, err := other.IssueAccessToken("user-1", models.RoleAdmin, "admin@example.com")
	require.NoError(t, err)

	_, err = svc.VerifyAccessToken(token)
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
}

func TestJWTServiceRejectsGarbage(t *testing.T) {
	svc := newTestJWTService(t, nil)

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := svc.VerifyAccessToken(token)
		assert.ErrorIs(t, err, appErrors.ErrInvalidToken, "token %q", token)
	}
}

func TestJWTServiceRejectsWrongIssuer(t *testing.T) {
	other, err := NewJWTService(JWTConfig{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		Issuer:        "someone-else",
	})
	require.NoError(t, err)

	token, err := other.IssueAccessToken("user-1", models.RoleStaff, "staff@example.com")
	require.NoError(t, err)

	svc := newTestJWTService(t, nil)
	_, err = svc.VerifyAccessToken(token)
	require.ErrorIs(t, err, appErrors.ErrInvalidToken)
}
