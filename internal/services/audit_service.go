package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/pkg/logger"
	"github.com/medscribe/gateway/pkg/metrics"
)

// Audit action names emitted by the gateway.
const (
	ActionConnectionAuthSuccess = "CONNECTION_AUTH_SUCCESS"
	ActionConnectionAuthFailed  = "CONNECTION_AUTH_FAILED"
	ActionQueryTokenUsed        = "QUERY_TOKEN_USED"
	ActionNamespaceDenied       = "NAMESPACE_ACCESS_DENIED"
	ActionTokenRefreshed        = "TOKEN_REFRESHED"
	ActionTokenRefreshFailed    = "TOKEN_REFRESH_FAILED"
	ActionTranscriptionStarted  = "TRANSCRIPTION_STARTED"
	ActionTranscriptionStopped  = "TRANSCRIPTION_STOPPED"
	ActionAudioChunkReceived    = "AUDIO_CHUNK_RECEIVED"
	ActionReportStarted         = "REPORT_GENERATION_STARTED"
	ActionSummaryStarted        = "SUMMARY_GENERATION_STARTED"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Description  string
	IPAddress    string
	UserAgent    string
	RiskLevel    string
	Metadata     map[string]any
}

// AuditService appends security and domain events to the audit trail.
// Persistence failures are logged and counted but never surfaced to clients;
// audit completeness must not block clinical workflow availability.
type AuditService struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db, log: logger.WithComponent("audit")}, nil
}

// Record persists an audit entry synchronously. Callers that need
// ordering with respect to their own operation (authentication outcomes,
// token lifecycle) await this; the returned error is for logging only and
// must never reach a client.
func (s *AuditService) Record(ctx context.Context, entry AuditEntry) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}

	row := models.AuditLog{
		Action:       strings.TrimSpace(entry.Action),
		ResourceType: strings.TrimSpace(entry.ResourceType),
		Description:  strings.TrimSpace(entry.Description),
		IPAddress:    strings.TrimSpace(entry.IPAddress),
		UserAgent:    strings.TrimSpace(entry.UserAgent),
		RiskLevel:    strings.TrimSpace(entry.RiskLevel),
	}

	if id := strings.TrimSpace(entry.UserID); id != "" {
		row.UserID = &id
	}
	if id := strings.TrimSpace(entry.ResourceID); id != "" {
		row.ResourceID = &id
	}

	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		row.Metadata = encoded
	}

	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		metrics.AuditFailures.Inc()
		s.log.Error("audit write failed",
			zap.String("action", row.Action),
			zap.Error(err))
		return fmt.Errorf("audit service: create entry: %w", err)
	}

	return nil
}

// CleanupOlderThan deletes audit entries past the retention horizon and
// returns the number removed.
func (s *AuditService) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// RecordAsync persists an audit entry on a background goroutine. Used for
// high-frequency sampled entries where the caller must not wait.
func (s *AuditService) RecordAsync(entry AuditEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Record(ctx, entry)
	}()
}

// Sampler admits one event in every interval per key. Used to bound audit
// volume for high-frequency events such as audio chunks.
type Sampler struct {
	interval int

	mu     sync.Mutex
	counts map[string]int
}

// NewSampler builds a sampler admitting one in interval events per key.
// An interval below 2 admits everything.
func NewSampler(interval int) *Sampler {
	return &Sampler{
		interval: interval,
		counts:   make(map[string]int),
	}
}

// Admit reports whether this occurrence for the key should be recorded.
// The first occurrence per key is always admitted.
func (s *Sampler) Admit(key string) bool {
	if s.interval < 2 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.counts[key]
	s.counts[key] = n + 1
	return n%s.interval == 0
}

// Forget drops the counter for a key, typically when its session ends.
func (s *Sampler) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.counts, key)
}
