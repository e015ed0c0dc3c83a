package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/api"
	"github.com/medscribe/gateway/internal/app"
	"github.com/medscribe/gateway/internal/app/maintenance"
	"github.com/medscribe/gateway/internal/auth"
	"github.com/medscribe/gateway/internal/database"
	"github.com/medscribe/gateway/internal/gateway"
	"github.com/medscribe/gateway/internal/services"
	"github.com/medscribe/gateway/internal/upstream"
)

// Application bundles the wired components of a running gateway.
type Application struct {
	Config  *app.Config
	DB      *gorm.DB
	Hub     *gateway.Hub
	Cleaner *maintenance.Cleaner
	Server  *http.Server
}

// Bootstrap wires the gateway from configuration: datastore, audit trail,
// token services, upstream clients, hub, HTTP surface, and maintenance.
func Bootstrap(cfg *app.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}

	db, err := database.Open(cfg.Database.DatabaseSettings())
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("bootstrap: migrate: %w", err)
	}

	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: audit service: %w", err)
	}

	jwtSvc, err := auth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("bootstrap: jwt service: %w", err)
	}

	authenticator, err := auth.NewAuthenticator(db, jwtSvc, audit, cfg.Auth.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: authenticator: %w", err)
	}

	refresher, err := auth.NewRefreshService(db, jwtSvc, audit)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: refresh service: %w", err)
	}

	transcriber, err := upstream.NewWSTranscriber(cfg.Upstream.TranscriberURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: transcriber client: %w", err)
	}
	reports, err := upstream.NewWSGenerator(cfg.Upstream.ReportsURL, "report")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: reports client: %w", err)
	}
	summaries, err := upstream.NewWSGenerator(cfg.Upstream.SummariesURL, "summary")
	if err != nil {
		return nil, fmt.Errorf("bootstrap: summaries client: %w", err)
	}

	hub := gateway.NewHub(cfg.Gateway.HubConfig(), gateway.Deps{
		Audit:       audit,
		Refresher:   refresher,
		Transcriber: transcriber,
		Reports:     reports,
		Summaries:   summaries,
	})

	engine := api.NewRouter(db, authenticator, hub, api.Options{
		UpgradeRPS:      cfg.Gateway.UpgradeLimit.RPS,
		UpgradeBurst:    cfg.Gateway.UpgradeLimit.Burst,
		MetricsEnabled:  cfg.Monitoring.Prometheus.Enabled,
		MetricsEndpoint: cfg.Monitoring.Prometheus.Endpoint,
		HealthEnabled:   cfg.Monitoring.Health.Enabled,
	})

	cleaner := maintenance.NewCleaner(db, audit,
		maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
		maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
		maintenance.WithTokenSchedule(cfg.Maintenance.TokenSchedule),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
		maintenance.WithLimiterSchedule(cfg.Maintenance.LimiterSchedule),
		maintenance.WithLimiter(hub.Limiter()),
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		Config:  cfg,
		DB:      db,
		Hub:     hub,
		Cleaner: cleaner,
		Server:  server,
	}, nil
}

// Shutdown stops the HTTP server, maintenance scheduler, hub relays, and
// the database handle in that order.
func (a *Application) Shutdown(ctx context.Context) error {
	var firstErr error

	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.Cleaner != nil {
		select {
		case <-a.Cleaner.Stop().Done():
		case <-ctx.Done():
		}
	}

	if a.Hub != nil {
		a.Hub.Close()
	}

	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}
