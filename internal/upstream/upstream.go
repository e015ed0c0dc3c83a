// Package upstream defines the interfaces through which the gateway talks to
// its external processing services: the speech transcriber and the report and
// summary generators. The gateway is a transparent relay for their traffic;
// their internal algorithms are out of scope.
package upstream

import (
	"context"
	"encoding/json"
	"time"
)

// Event is a single message produced by an upstream service. Payloads are
// relayed to clients verbatim; the gateway only attributes them to the right
// connection and correlation id.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Terminal  bool            `json:"terminal,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// StartRequest opens a transcription stream for one client session.
type StartRequest struct {
	SessionID  string `json:"session_id"`
	Language   string `json:"language"`
	SampleRate int    `json:"sample_rate"`
}

// AudioChunk carries one chunk of client audio to the transcriber.
type AudioChunk struct {
	SessionID string `json:"session_id"`
	Chunk     string `json:"chunk"`
	Timestamp int64  `json:"timestamp"`
}

// Stream is a live transcription session with the upstream engine.
type Stream interface {
	// Send forwards an audio chunk. It must not block on transcription work.
	Send(chunk AudioChunk) error
	// Events yields transcription results in the order the engine produced
	// them. The channel closes when the stream ends.
	Events() <-chan Event
	// Close tears the stream down; safe to call more than once.
	Close() error
}

// Transcriber opens session-scoped transcription streams.
type Transcriber interface {
	Start(ctx context.Context, req StartRequest) (Stream, error)
}

// GenerateRequest is a one-shot generation request keyed by a correlation id.
type GenerateRequest struct {
	CorrelationID string         `json:"correlation_id"`
	Kind          string         `json:"kind"` // "report" or "summary"
	Input         map[string]any `json:"input,omitempty"`
}

// Status is a point-in-time view of a generation, valid across reconnects.
type Status struct {
	CorrelationID string `json:"correlation_id"`
	State         string `json:"state"` // pending|running|completed|failed
	Progress      int    `json:"progress"`
	DownloadURL   string `json:"download_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Generator produces reports or summaries asynchronously. Generate returns a
// channel emitting zero or more progress events followed by exactly one
// terminal event, in upstream order. The channel closes after the terminal
// event or when ctx is cancelled.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (<-chan Event, error)
	Status(ctx context.Context, correlationID string) (Status, error)
}
