package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/medscribe/gateway/pkg/logger"
	"github.com/medscribe/gateway/pkg/metrics"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
	eventBuffer  = 64
)

// WSTranscriber talks to the external transcription engine over a websocket
// JSON stream, one dial per client session.
type WSTranscriber struct {
	endpoint string
	dialer   *websocket.Dialer
	log      *zap.Logger
}

// NewWSTranscriber builds a transcriber client for the configured endpoint.
func NewWSTranscriber(endpoint string) (*WSTranscriber, error) {
	if endpoint == "" {
		return nil, errors.New("upstream: transcriber endpoint is required")
	}
	return &WSTranscriber{
		endpoint: endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		log:      logger.WithComponent("upstream.transcriber"),
	}, nil
}

// Start dials the engine and opens a session-scoped stream.
func (t *WSTranscriber) Start(ctx context.Context, req StartRequest) (Stream, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.endpoint, nil)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("transcriber").Inc()
		return nil, fmt.Errorf("upstream: dial transcriber: %w", err)
	}

	if err := writeJSON(conn, map[string]any{"action": "start", "request": req}); err != nil {
		_ = conn.Close()
		metrics.UpstreamErrors.WithLabelValues("transcriber").Inc()
		return nil, fmt.Errorf("upstream: start transcription: %w", err)
	}

	s := &wsStream{
		conn:   conn,
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
		log:    t.log.With(zap.String("session_id", req.SessionID)),
	}
	go s.readLoop()
	return s, nil
}

type wsStream struct {
	conn   *websocket.Conn
	events chan Event
	done   chan struct{}
	log    *zap.Logger

	mu     sync.Mutex
	closed bool
}

func (s *wsStream) Send(chunk AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("upstream: stream closed")
	}
	return writeJSON(s.conn, map[string]any{"action": "audio", "chunk": chunk})
}

func (s *wsStream) Events() <-chan Event { return s.events }

func (s *wsStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return s.conn.Close()
}

func (s *wsStream) readLoop() {
	defer close(s.events)
	defer func() { _ = s.Close() }()

	for {
		var event Event
		if err := s.conn.ReadJSON(&event); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("transcriber stream ended", zap.Error(err))
			}
			return
		}
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

// WSGenerator drives report or summary generation over a websocket JSON
// stream, one dial per generation request.
type WSGenerator struct {
	endpoint string
	kind     string
	dialer   *websocket.Dialer
	log      *zap.Logger
}

// NewWSGenerator builds a generator client. kind names the produced artifact
// ("report" or "summary") and is stamped on every request.
func NewWSGenerator(endpoint, kind string) (*WSGenerator, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("upstream: %s generator endpoint is required", kind)
	}
	return &WSGenerator{
		endpoint: endpoint,
		kind:     kind,
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
		log:      logger.WithComponent("upstream." + kind),
	}, nil
}

// Generate submits the request and relays upstream events until the terminal
// one. The returned channel closes after the terminal event or when ctx ends.
func (g *WSGenerator) Generate(ctx context.Context, req GenerateRequest) (<-chan Event, error) {
	req.Kind = g.kind

	conn, _, err := g.dialer.DialContext(ctx, g.endpoint, nil)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(g.kind).Inc()
		return nil, fmt.Errorf("upstream: dial %s generator: %w", g.kind, err)
	}

	if err := writeJSON(conn, map[string]any{"action": "generate", "request": req}); err != nil {
		_ = conn.Close()
		metrics.UpstreamErrors.WithLabelValues(g.kind).Inc()
		return nil, fmt.Errorf("upstream: submit %s generation: %w", g.kind, err)
	}

	events := make(chan Event, eventBuffer)

	go func() {
		defer close(events)
		defer conn.Close()

		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				_ = conn.Close()
			case <-done:
			}
		}()

		for {
			var event Event
			if err := conn.ReadJSON(&event); err != nil {
				return
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
			if event.Terminal {
				return
			}
		}
	}()

	return events, nil
}

// Status performs a point-in-time status query for a correlation id.
func (g *WSGenerator) Status(ctx context.Context, correlationID string) (Status, error) {
	conn, _, err := g.dialer.DialContext(ctx, g.endpoint, nil)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(g.kind).Inc()
		return Status{}, fmt.Errorf("upstream: dial %s generator: %w", g.kind, err)
	}
	defer conn.Close()

	if err := writeJSON(conn, map[string]any{"action": "status", "correlation_id": correlationID}); err != nil {
		return Status{}, fmt.Errorf("upstream: query %s status: %w", g.kind, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	var status Status
	if err := conn.ReadJSON(&status); err != nil {
		metrics.UpstreamErrors.WithLabelValues(g.kind).Inc()
		return Status{}, fmt.Errorf("upstream: read %s status: %w", g.kind, err)
	}
	return status, nil
}

func writeJSON(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}
