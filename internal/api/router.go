package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/medscribe/gateway/internal/database"
	"github.com/medscribe/gateway/internal/gateway"
	appErrors "github.com/medscribe/gateway/pkg/errors"
	"github.com/medscribe/gateway/pkg/logger"
	"github.com/medscribe/gateway/pkg/response"
)

// Options configures the HTTP surface.
type Options struct {
	// UpgradeRPS and UpgradeBurst bound websocket upgrade attempts per
	// client IP. Zero values disable the limiter.
	UpgradeRPS   float64
	UpgradeBurst int

	MetricsEnabled  bool
	MetricsEndpoint string
	HealthEnabled   bool
}

// NewRouter assembles the gin engine: the websocket entrypoint with
// pre-upgrade authentication, liveness, and metrics.
func NewRouter(db *gorm.DB, authenticator gateway.Authenticator, hub *gateway.Hub, opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	upgrades := newIPLimiter(opts.UpgradeRPS, opts.UpgradeBurst)

	engine.GET("/ws", func(c *gin.Context) {
		ip := clientIP(c.Request)
		if !upgrades.allow(ip) {
			response.Error(c, appErrors.ErrRateLimitExceeded)
			return
		}

		connCtx, err := authenticator.Authenticate(c.Request.Context(), authRequest(c.Request))
		if err != nil {
			response.Error(c, err)
			return
		}

		hub.Serve(connCtx, c.Writer, c.Request)
	})

	if opts.HealthEnabled {
		engine.GET("/healthz", func(c *gin.Context) {
			if err := database.Ping(db); err != nil {
				response.Error(c, appErrors.New(
					"DATABASE_UNAVAILABLE",
					"Datastore is unreachable",
					http.StatusServiceUnavailable,
				).WithInternal(err))
				return
			}
			response.Success(c, http.StatusOK, gin.H{"status": "ok"})
		})
	}

	if opts.MetricsEnabled {
		endpoint := opts.MetricsEndpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		engine.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	return engine
}

// authRequest extracts credential material in precedence order: explicit
// token header, Authorization bearer, then the query string.
func authRequest(r *http.Request) gateway.AuthRequest {
	req := gateway.AuthRequest{
		PayloadToken: r.Header.Get("X-Auth-Token"),
		QueryToken:   r.URL.Query().Get("token"),
		RemoteAddr:   clientIP(r),
		UserAgent:    r.UserAgent(),
	}

	if header := r.Header.Get("Authorization"); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			req.BearerToken = token
		}
	}

	return req
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ipLimiter keeps one token bucket per client IP for upgrade attempts.
type ipLimiter struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func newIPLimiter(rps float64, burst int) *ipLimiter {
	return &ipLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *ipLimiter) allow(ip string) bool {
	if l.rps <= 0 || l.burst <= 0 {
		return true
	}

	l.mu.Lock()
	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(l.rps, l.burst)
		l.buckets[ip] = bucket
	}
	l.mu.Unlock()

	return bucket.Allow()
}

func requestLogger() gin.HandlerFunc {
	log := logger.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// Websocket sessions hold the handler for their whole lifetime;
		// log them at debug to keep access logs readable.
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("ip", clientIP(c.Request)),
		}
		if c.Request.URL.Path == "/ws" {
			log.Debug("request", fields...)
			return
		}
		log.Info("request", fields...)
	}
}
