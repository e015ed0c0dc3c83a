package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/medscribe/gateway/internal/auth"
	"github.com/medscribe/gateway/internal/database"
	"github.com/medscribe/gateway/internal/gateway"
)

// Config represents the runtime configuration for the MedScribe gateway.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures authentication settings for the gateway.
type AuthConfig struct {
	JWT            JWTSettings   `mapstructure:"jwt"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// JWTSettings configures access and refresh token verification.
type JWTSettings struct {
	AccessSecret    string        `mapstructure:"access_secret"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	Issuer          string        `mapstructure:"issuer"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// GatewayConfig tunes websocket hub behaviour.
type GatewayConfig struct {
	RateLimit           RateLimitConfig    `mapstructure:"rate_limit"`
	UpgradeLimit        UpgradeLimitConfig `mapstructure:"upgrade_limit"`
	SendBuffer          int                `mapstructure:"send_buffer"`
	AuditSampleInterval int                `mapstructure:"audit_sample_interval"`
	RefreshTimeout      time.Duration      `mapstructure:"refresh_timeout"`
}

// RateLimitConfig bounds inbound events per connection identity.
type RateLimitConfig struct {
	MaxEvents int           `mapstructure:"max_events"`
	Window    time.Duration `mapstructure:"window"`
}

// UpgradeLimitConfig bounds websocket upgrade attempts per client IP.
type UpgradeLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// UpstreamConfig names the websocket endpoints of the processing services.
type UpstreamConfig struct {
	TranscriberURL string `mapstructure:"transcriber_url"`
	ReportsURL     string `mapstructure:"reports_url"`
	SummariesURL   string `mapstructure:"summaries_url"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// MaintenanceConfig tunes background cleanup.
type MaintenanceConfig struct {
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
	SessionSchedule    string `mapstructure:"session_schedule"`
	TokenSchedule      string `mapstructure:"token_schedule"`
	AuditSchedule      string `mapstructure:"audit_schedule"`
	LimiterSchedule    string `mapstructure:"limiter_schedule"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("MEDSCRIBE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/medscribe.sqlite")

	v.SetDefault("auth.jwt.issuer", "medscribe")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.jwt.refresh_token_ttl", "168h") // 7 days
	v.SetDefault("auth.connect_timeout", "10s")

	v.SetDefault("gateway.rate_limit.max_events", 100)
	v.SetDefault("gateway.rate_limit.window", "1m")
	v.SetDefault("gateway.upgrade_limit.rps", 5)
	v.SetDefault("gateway.upgrade_limit.burst", 10)
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.audit_sample_interval", 100)
	v.SetDefault("gateway.refresh_timeout", "10s")

	v.SetDefault("upstream.transcriber_url", "ws://127.0.0.1:9001/stream")
	v.SetDefault("upstream.reports_url", "ws://127.0.0.1:9002/generate")
	v.SetDefault("upstream.summaries_url", "ws://127.0.0.1:9003/generate")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("maintenance.audit_retention_days", 90)
	v.SetDefault("maintenance.session_schedule", "@hourly")
	v.SetDefault("maintenance.token_schedule", "@daily")
	v.SetDefault("maintenance.audit_schedule", "@daily")
	v.SetDefault("maintenance.limiter_schedule", "@hourly")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// DatabaseSettings adapts the configuration to the database opener.
func (c DatabaseConfig) DatabaseSettings() database.Config {
	cfg := database.Config{
		Driver: c.Driver,
		Path:   c.Path,
		DSN:    c.DSN,
	}

	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "postgres":
		cfg.Host = c.Postgres.Host
		cfg.Port = c.Postgres.Port
		cfg.Name = c.Postgres.Database
		cfg.User = c.Postgres.Username
		cfg.Password = c.Postgres.Password
	case "mysql":
		cfg.Host = c.MySQL.Host
		cfg.Port = c.MySQL.Port
		cfg.Name = c.MySQL.Database
		cfg.User = c.MySQL.Username
		cfg.Password = c.MySQL.Password
	}

	return cfg
}

// JWTServiceConfig adapts the configuration to the token verifier.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	cfg := auth.JWTConfig{
		AccessSecret:    c.JWT.AccessSecret,
		RefreshSecret:   c.JWT.RefreshSecret,
		Issuer:          c.JWT.Issuer,
		AccessTokenTTL:  c.JWT.AccessTokenTTL,
		RefreshTokenTTL: c.JWT.RefreshTokenTTL,
	}
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = auth.DefaultAccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = auth.DefaultRefreshTokenTTL
	}
	return cfg
}

// HubConfig adapts the configuration to the websocket hub.
func (c GatewayConfig) HubConfig() gateway.Config {
	return gateway.Config{
		RateLimitMax:        c.RateLimit.MaxEvents,
		RateLimitWindow:     c.RateLimit.Window,
		SendBuffer:          c.SendBuffer,
		AuditSampleInterval: c.AuditSampleInterval,
		RefreshTimeout:      c.RefreshTimeout,
	}
}
