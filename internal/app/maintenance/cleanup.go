package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/internal/services"
	"github.com/medscribe/gateway/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultTokenSpec          = "@daily"
	defaultAuditSpec          = "@daily"
	defaultLimiterSpec        = "@hourly"
)

// RateLimiterSweeper is the slice of the hub's rate limiter maintenance uses.
type RateLimiterSweeper interface {
	SweepIdle() int
}

// Cleaner coordinates background maintenance: purging expired sessions and
// refresh tokens, enforcing audit retention, and sweeping idle rate-limit
// counters.
type Cleaner struct {
	db        *gorm.DB
	audit     *services.AuditService
	limiter   RateLimiterSweeper
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int

	sessionSchedule string
	tokenSchedule   string
	auditSchedule   string
	limiterSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithLimiter registers the hub's rate limiter for idle-identity sweeps.
func WithLimiter(limiter RateLimiterSweeper) Option {
	return func(cleaner *Cleaner) {
		cleaner.limiter = limiter
	}
}

// WithSessionSchedule overrides the cron specification for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron specification for refresh token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithLimiterSchedule overrides the cron specification for rate-limiter sweeps.
func WithLimiterSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.limiterSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding cleanup job being skipped.
func NewCleaner(db *gorm.DB, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:              db,
		audit:           audit,
		now:             time.Now,
		retention:       defaultAuditRetentionDays,
		sessionSchedule: defaultSessionSpec,
		tokenSchedule:   defaultTokenSpec,
		auditSchedule:   defaultAuditSpec,
		limiterSchedule: defaultLimiterSpec,
		log:             logger.WithComponent("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.db != nil || cleaner.audit != nil || cleaner.limiter != nil

	return cleaner
}

// Start registers cleanup jobs with the cron scheduler and launches it if at
// least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.db != nil {
		if _, err := c.cron.AddFunc(c.sessionSchedule, func() {
			if _, err := CleanupSessions(context.Background(), c.db, c.now()); err != nil {
				c.log.Warn("session cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}

		if _, err := c.cron.AddFunc(c.tokenSchedule, func() {
			if _, err := CleanupRefreshTokens(context.Background(), c.db, c.now()); err != nil {
				c.log.Warn("refresh token cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.auditSchedule, func() {
			if _, err := c.audit.CleanupOlderThan(context.Background(), c.retention); err != nil {
				c.log.Warn("audit cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.limiter != nil {
		if _, err := c.cron.AddFunc(c.limiterSchedule, func() {
			if removed := c.limiter.SweepIdle(); removed > 0 {
				c.log.Debug("swept idle rate counters", zap.Int("removed", removed))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.db != nil {
		if _, err := CleanupSessions(ctx, c.db, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := CleanupRefreshTokens(ctx, c.db, c.now()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.audit != nil && c.retention > 0 {
		if _, err := c.audit.CleanupOlderThan(ctx, c.retention); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.limiter != nil {
		c.limiter.SweepIdle()
	}

	return errs
}

// CleanupSessions removes sessions that are expired or deactivated.
func CleanupSessions(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup sessions: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at < ? OR is_active = ?", now, false).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CleanupRefreshTokens removes refresh tokens that are expired or revoked.
func CleanupRefreshTokens(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup refresh tokens: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("expires_at < ? OR revoked = ?", now, true).
		Delete(&models.RefreshToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup refresh tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
