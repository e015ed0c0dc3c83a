package gateway

import (
	"context"
	"time"

	"github.com/medscribe/gateway/internal/models"
)

// PermissionGrant is a resolved permission held by a connection. A nil
// Resource means the grant applies to any resource.
type PermissionGrant struct {
	Name     string  `json:"name"`
	Resource *string `json:"resource,omitempty"`
}

// ConnectionContext is the in-memory record of an authenticated connection.
// It exists only between a successful authentication and the disconnect of
// the physical connection; it is never persisted.
type ConnectionContext struct {
	UserID     string
	Email      string
	Role       models.Role
	Department *string
	SessionID  string

	Permissions []PermissionGrant

	// Origin of the physical connection, kept for audit entries.
	RemoteAddr string
	UserAgent  string

	AuthenticatedAt time.Time
}

// AuthRequest carries the credential material extracted from a connection
// attempt, in decreasing order of precedence.
type AuthRequest struct {
	PayloadToken string // explicit auth payload supplied at connection open
	BearerToken  string // Authorization: Bearer header
	QueryToken   string // query-string token, least secure
	RemoteAddr   string
	UserAgent    string
}

// Authenticator decides whether a new connection may proceed.
type Authenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) (*ConnectionContext, error)
}

// RefreshResult is delivered to the client after a successful token refresh.
type RefreshResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Refresher exchanges a refresh token for a new access token without
// dropping the connection.
type Refresher interface {
	Refresh(ctx context.Context, conn *ConnectionContext, refreshToken string) (RefreshResult, error)
}
