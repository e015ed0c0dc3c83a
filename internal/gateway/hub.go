package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/internal/services"
	"github.com/medscribe/gateway/internal/upstream"
	"github.com/medscribe/gateway/pkg/logger"
	"github.com/medscribe/gateway/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB, audio chunks included

	defaultSendBuffer     = 64
	defaultSampleInterval = 100
	defaultRefreshTimeout = 10 * time.Second
	statusQueryTimeout    = 10 * time.Second
)

// AuditRecorder is the slice of the audit service the hub depends on.
type AuditRecorder interface {
	Record(ctx context.Context, entry services.AuditEntry) error
	RecordAsync(entry services.AuditEntry)
}

// Config tunes hub behaviour.
type Config struct {
	RateLimitMax        int
	RateLimitWindow     time.Duration
	SendBuffer          int
	AuditSampleInterval int
	RefreshTimeout      time.Duration
	Clock               func() time.Time
}

// Deps bundles the collaborators the hub dispatches to.
type Deps struct {
	Audit       AuditRecorder
	Refresher   Refresher
	Transcriber upstream.Transcriber
	Reports     upstream.Generator
	Summaries   upstream.Generator
}

type handlerFunc func(c *Client, data map[string]any)

// Hub coordinates all websocket connections: registration, namespace
// authorization, per-event rate limiting, dispatch, and targeted broadcast.
type Hub struct {
	cfg  Config
	deps Deps

	rooms    *Rooms
	limiter  *RateLimiter
	sampler  *services.Sampler
	handlers map[string]map[string]handlerFunc
	upgrader websocket.Upgrader
	log      *zap.Logger

	// baseCtx outlives individual connections; generation relays that are
	// not session-scoped run under it so they can finish after disconnect.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewHub constructs a hub with the provided configuration and collaborators.
func NewHub(cfg Config, deps Deps) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.AuditSampleInterval <= 0 {
		cfg.AuditSampleInterval = defaultSampleInterval
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = defaultRefreshTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	baseCtx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		cfg:     cfg,
		deps:    deps,
		rooms:   NewRooms(),
		limiter: NewRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow, cfg.Clock),
		sampler: services.NewSampler(cfg.AuditSampleInterval),
		log:     logger.WithComponent("gateway"),
		baseCtx: baseCtx,
		cancel:  cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}

	h.handlers = map[string]map[string]handlerFunc{
		NamespaceTranscription: {
			EventStartTranscription: h.handleStartTranscription,
			EventAudioData:          h.handleAudioData,
			EventStopTranscription:  h.handleStopTranscription,
		},
		NamespaceReports: {
			EventGenerateReport:    h.handleGenerateReport,
			EventCheckReportStatus: h.handleCheckReportStatus,
		},
		NamespaceSummaries: {
			EventGenerateSummary:    h.handleGenerateSummary,
			EventCheckSummaryStatus: h.handleCheckSummaryStatus,
		},
		NamespaceUpdates: {},
	}

	return h
}

// Serve upgrades the HTTP connection and runs its read/write loops until
// disconnect. The caller must have authenticated the connection already;
// ctx is the resulting ConnectionContext.
func (h *Hub) Serve(connCtx *ConnectionContext, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newClient(h, conn, connCtx, clientAddr(r), r.UserAgent())
	metrics.ActiveConnections.Inc()

	go client.writeLoop()
	client.readLoop()
}

// Limiter exposes the rate limiter for maintenance sweeps.
func (h *Hub) Limiter() *RateLimiter { return h.limiter }

// BroadcastToUser pushes an event to every connection of a user via the
// updates namespace.
func (h *Hub) BroadcastToUser(userID string, event Event) {
	event.Namespace = NamespaceUpdates
	h.rooms.Broadcast(UserRoom(userID), event)
}

// BroadcastToRole pushes an event to every connection holding a role.
func (h *Hub) BroadcastToRole(role models.Role, event Event) {
	event.Namespace = NamespaceUpdates
	h.rooms.Broadcast(RoleRoom(role), event)
}

// BroadcastToDepartment pushes an event to every connection in a department.
func (h *Hub) BroadcastToDepartment(department string, event Event) {
	event.Namespace = NamespaceUpdates
	h.rooms.Broadcast(DepartmentRoom(department), event)
}

// Close stops background relays. Live connections terminate through their
// own read loops when the server shuts down.
func (h *Hub) Close() {
	h.cancel()
}

func (h *Hub) unregister(c *Client) {
	h.rooms.LeaveAll(c)
	h.limiter.Forget(c.Identity())
	metrics.ActiveConnections.Dec()
}

func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
