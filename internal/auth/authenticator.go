package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/gateway"
	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/internal/services"
	appErrors "github.com/medscribe/gateway/pkg/errors"
	"github.com/medscribe/gateway/pkg/metrics"
)

// DefaultAuthTimeout bounds a single connection authentication.
const DefaultAuthTimeout = 10 * time.Second

// auditRecorder is the slice of the audit service the authenticator needs.
type auditRecorder interface {
	Record(ctx context.Context, entry services.AuditEntry) error
	RecordAsync(entry services.AuditEntry)
}

// Authenticator decides whether a new websocket connection may proceed. It
// combines token verification with user, permission, and session state from
// the external datastore.
type Authenticator struct {
	db      *gorm.DB
	jwt     *JWTService
	audit   auditRecorder
	timeout time.Duration
	now     func() time.Time
}

// NewAuthenticator constructs the connection authenticator.
func NewAuthenticator(db *gorm.DB, jwtSvc *JWTService, audit auditRecorder, timeout time.Duration) (*Authenticator, error) {
	if db == nil {
		return nil, errors.New("authenticator: db is required")
	}
	if jwtSvc == nil {
		return nil, errors.New("authenticator: jwt service is required")
	}
	if audit == nil {
		return nil, errors.New("authenticator: audit recorder is required")
	}
	if timeout <= 0 {
		timeout = DefaultAuthTimeout
	}

	return &Authenticator{
		db:      db,
		jwt:     jwtSvc,
		audit:   audit,
		timeout: timeout,
		now:     time.Now,
	}, nil
}

// WithClock overrides the clock, primarily for tests.
func (a *Authenticator) WithClock(clock func() time.Time) {
	if clock != nil {
		a.now = clock
	}
}

// Authenticate runs the full connection authentication pipeline. Every
// failure emits a CONNECTION_AUTH_FAILED audit entry before the error
// reaches the caller, which must deny the connection.
func (a *Authenticator) Authenticate(ctx context.Context, req gateway.AuthRequest) (*gateway.ConnectionContext, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	fail := func(userID string, appErr *appErrors.AppError) (*gateway.ConnectionContext, error) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		_ = a.audit.Record(ctx, services.AuditEntry{
			UserID:      userID,
			Action:      services.ActionConnectionAuthFailed,
			Description: "Connection authentication failed: " + appErr.Code,
			IPAddress:   req.RemoteAddr,
			UserAgent:   req.UserAgent,
			RiskLevel:   models.RiskMedium,
			Metadata:    map[string]any{"reason": appErr.Code},
		})
		return nil, appErr
	}

	token, fromQuery := extractToken(req)
	if fromQuery {
		// Query-string tokens can leak through logs and referrers; admit
		// them but leave a trace.
		_ = a.audit.Record(ctx, services.AuditEntry{
			Action:      services.ActionQueryTokenUsed,
			Description: "Token supplied via query string",
			IPAddress:   req.RemoteAddr,
			UserAgent:   req.UserAgent,
			RiskLevel:   models.RiskLow,
		})
	}

	if token == "" {
		return fail("", appErrors.ErrMissingCredentials)
	}

	claims, err := a.jwt.VerifyAccessToken(token)
	if err != nil {
		return fail("", appErrors.FromError(err))
	}

	now := a.now()

	var user models.User
	err = a.db.WithContext(ctx).Take(&user, "id = ?", claims.UserID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(claims.UserID, appErrors.ErrUserUnavailable)
	}
	if err != nil {
		return fail(claims.UserID, appErrors.ErrInternalServer.WithInternal(err))
	}
	if !user.IsActive {
		return fail(user.ID, appErrors.ErrUserUnavailable)
	}
	if !user.IsVerified {
		return fail(user.ID, appErrors.ErrUnverifiedAccount)
	}

	var permissions []models.Permission
	if err := a.db.WithContext(ctx).
		Where("user_id = ? AND (expires_at IS NULL OR expires_at > ?)", user.ID, now).
		Find(&permissions).Error; err != nil {
		return fail(user.ID, appErrors.ErrInternalServer.WithInternal(err))
	}

	var session models.Session
	err = a.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", user.ID, true, now).
		Order("last_activity_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(user.ID, appErrors.ErrNoValidSession)
	}
	if err != nil {
		return fail(user.ID, appErrors.ErrInternalServer.WithInternal(err))
	}

	if err := a.db.WithContext(ctx).
		Model(&session).
		Update("last_activity_at", now).Error; err != nil {
		return fail(user.ID, appErrors.ErrInternalServer.WithInternal(err))
	}

	grants := make([]gateway.PermissionGrant, 0, len(permissions))
	for _, p := range permissions {
		grants = append(grants, gateway.PermissionGrant{Name: p.Name, Resource: p.Resource})
	}

	connCtx := &gateway.ConnectionContext{
		UserID:          user.ID,
		Email:           user.Email,
		Role:            user.Role,
		Department:      user.Department,
		SessionID:       session.ID,
		Permissions:     grants,
		RemoteAddr:      req.RemoteAddr,
		UserAgent:       req.UserAgent,
		AuthenticatedAt: now,
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	_ = a.audit.Record(ctx, services.AuditEntry{
		UserID:      user.ID,
		Action:      services.ActionConnectionAuthSuccess,
		Description: "Connection authenticated",
		IPAddress:   req.RemoteAddr,
		UserAgent:   req.UserAgent,
	})

	return connCtx, nil
}

// extractToken applies the credential precedence: explicit auth payload,
// then Authorization header, then query string (least secure, flagged).
func extractToken(req gateway.AuthRequest) (token string, fromQuery bool) {
	if t := strings.TrimSpace(req.PayloadToken); t != "" {
		return t, false
	}
	if t := strings.TrimSpace(req.BearerToken); t != "" {
		return t, false
	}
	if t := strings.TrimSpace(req.QueryToken); t != "" {
		return t, true
	}
	return "", false
}
