package auth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/gateway"
	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/internal/services"
	appErrors "github.com/medscribe/gateway/pkg/errors"
)

// RefreshService exchanges refresh tokens for new short-lived access tokens
// over a live connection, without dropping it. The refresh token itself is
// minted by the external auth service; this handler validates and touches
// it but never rotates it.
type RefreshService struct {
	db    *gorm.DB
	jwt   *JWTService
	audit auditRecorder
	now   func() time.Time
}

// NewRefreshService constructs the session refresh handler.
func NewRefreshService(db *gorm.DB, jwtSvc *JWTService, audit auditRecorder) (*RefreshService, error) {
	if db == nil {
		return nil, errors.New("refresh service: db is required")
	}
	if jwtSvc == nil {
		return nil, errors.New("refresh service: jwt service is required")
	}
	if audit == nil {
		return nil, errors.New("refresh service: audit recorder is required")
	}

	return &RefreshService{
		db:    db,
		jwt:   jwtSvc,
		audit: audit,
		now:   time.Now,
	}, nil
}

// WithClock overrides the clock, primarily for tests.
func (s *RefreshService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Refresh validates the supplied refresh token and issues a new access
// token bound to the connection's current identity. The ConnectionContext
// stays valid throughout and after.
func (s *RefreshService) Refresh(ctx context.Context, conn *gateway.ConnectionContext, refreshToken string) (gateway.RefreshResult, error) {
	if conn == nil {
		return gateway.RefreshResult{}, appErrors.ErrMissingCredentials
	}

	fail := func(appErr *appErrors.AppError) (gateway.RefreshResult, error) {
		_ = s.audit.Record(ctx, services.AuditEntry{
			UserID:      conn.UserID,
			Action:      services.ActionTokenRefreshFailed,
			Description: "Token refresh failed: " + appErr.Code,
			IPAddress:   conn.RemoteAddr,
			UserAgent:   conn.UserAgent,
			RiskLevel:   models.RiskMedium,
			Metadata:    map[string]any{"reason": appErr.Code},
		})
		return gateway.RefreshResult{}, appErr
	}

	if _, err := s.jwt.VerifyRefreshToken(refreshToken); err != nil {
		return fail(appErrors.FromError(err))
	}

	now := s.now()

	var record models.RefreshToken
	err := s.db.WithContext(ctx).Take(&record, "token = ?", refreshToken).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(appErrors.ErrInvalidToken)
	}
	if err != nil {
		return fail(appErrors.ErrInternalServer.WithInternal(err))
	}

	if record.Revoked {
		return fail(appErrors.ErrRevokedToken)
	}
	if !record.ExpiresAt.After(now) {
		return fail(appErrors.ErrExpiredToken)
	}

	// A refresh must never pivot a live connection to a different identity.
	if record.UserID != conn.UserID {
		return fail(appErrors.ErrTokenUserMismatch)
	}

	accessToken, err := s.jwt.IssueAccessToken(conn.UserID, conn.Role, conn.Email)
	if err != nil {
		return fail(appErrors.ErrInternalServer.WithInternal(err))
	}

	if err := s.db.WithContext(ctx).
		Model(&record).
		Update("last_used_at", now).Error; err != nil {
		return fail(appErrors.ErrInternalServer.WithInternal(err))
	}

	_ = s.audit.Record(ctx, services.AuditEntry{
		UserID:      conn.UserID,
		Action:      services.ActionTokenRefreshed,
		Description: "Access token refreshed",
		IPAddress:   conn.RemoteAddr,
		UserAgent:   conn.UserAgent,
	})

	return gateway.RefreshResult{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.jwt.AccessTokenTTL().Seconds()),
	}, nil
}
