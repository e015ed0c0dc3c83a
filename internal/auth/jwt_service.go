package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medscribe/gateway/internal/models"
	appErrors "github.com/medscribe/gateway/pkg/errors"
)

// Default token lifetimes, overridable through configuration.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// JWTConfig bundles the configuration required to build a JWTService.
// Access and refresh tokens are signed with independent secrets; which
// secret verifies a token is always the caller's choice, never inferred
// from the token itself.
type JWTConfig struct {
	AccessSecret    string
	RefreshSecret   string
	Issuer          string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// Claims represents the custom claims embedded in issued JWTs.
type Claims struct {
	UserID string      `json:"uid"`
	Role   models.Role `json:"role,omitempty"`
	Email  string      `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTService issues and validates the gateway's access and refresh tokens.
type JWTService struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewJWTService constructs a JWTService instance when provided with the required configuration.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.AccessSecret == "" {
		return nil, errors.New("jwt: access secret must be provided")
	}
	if cfg.RefreshSecret == "" {
		return nil, errors.New("jwt: refresh secret must be provided")
	}

	accessTTL := cfg.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTokenTTL
	}

	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTokenTTL
	}

	now := time.Now
	if cfg.Clock != nil {
		now = cfg.Clock
	}

	return &JWTService{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           now,
	}, nil
}

// AccessTokenTTL returns the configured lifetime of issued access tokens.
func (s *JWTService) AccessTokenTTL() time.Duration { return s.accessTTL }

// IssueAccessToken signs a short-lived access token for the given identity.
func (s *JWTService) IssueAccessToken(userID string, role models.Role, email string) (string, error) {
	return s.issue(s.accessSecret, s.accessTTL, userID, role, email)
}

// IssueRefreshToken signs a longer-lived token with the refresh secret.
func (s *JWTService) IssueRefreshToken(userID string, role models.Role, email string) (string, error) {
	return s.issue(s.refreshSecret, s.refreshTTL, userID, role, email)
}

func (s *JWTService) issue(secret []byte, ttl time.Duration, userID string, role models.Role, email string) (string, error) {
	if userID == "" {
		return "", errors.New("jwt: user id is required")
	}

	now := s.now()

	claims := &Claims{
		UserID: userID,
		Role:   role,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// VerifyAccessToken validates a token against the access secret.
func (s *JWTService) VerifyAccessToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.accessSecret)
}

// VerifyRefreshToken validates a token against the refresh secret.
func (s *JWTService) VerifyRefreshToken(tokenString string) (*Claims, error) {
	return s.verify(tokenString, s.refreshSecret)
}

func (s *JWTService) verify(tokenString string, secret []byte) (*Claims, error) {
	if tokenString == "" {
		return nil, appErrors.ErrInvalidToken
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)

	var claims Claims
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErrors.ErrExpiredToken.WithInternal(err)
		}
		return nil, appErrors.ErrInvalidToken.WithInternal(err)
	}

	if s.issuer != "" && claims.Issuer != s.issuer {
		return nil, appErrors.ErrInvalidToken
	}

	if claims.UserID == "" {
		return nil, appErrors.ErrInvalidToken
	}

	return &claims, nil
}
