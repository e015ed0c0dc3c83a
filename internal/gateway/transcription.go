package gateway

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/internal/services"
	"github.com/medscribe/gateway/internal/upstream"
	appErrors "github.com/medscribe/gateway/pkg/errors"
)

type startTranscriptionPayload struct {
	SessionID  string `json:"session_id" validate:"required"`
	Language   string `json:"language" validate:"required"`
	SampleRate int    `json:"sample_rate" validate:"required,gt=0"`
}

type audioDataPayload struct {
	SessionID string `json:"session_id" validate:"required"`
	Chunk     string `json:"chunk" validate:"required"`
	Timestamp int64  `json:"timestamp"`
}

type stopTranscriptionPayload struct {
	SessionID string `json:"session_id" validate:"required"`
}

var errTranscriberUnavailable = appErrors.New(
	"TRANSCRIPTION_UNAVAILABLE",
	"Transcription service is unavailable",
	503,
)

// handleStartTranscription opens a session-scoped upstream stream and relays
// its results back to the client verbatim. The gateway performs no speech
// recognition of its own.
func (h *Hub) handleStartTranscription(c *Client, data map[string]any) {
	var payload startTranscriptionPayload
	if err := decodePayload(data, &payload); err != nil {
		c.Enqueue(errorEvent(NamespaceTranscription, err))
		return
	}

	if _, exists := c.getStream(payload.SessionID); exists {
		c.Enqueue(errorEvent(NamespaceTranscription,
			appErrors.NewBadRequest("Transcription already started for session")))
		return
	}

	stream, err := h.deps.Transcriber.Start(c.lifeCtx, upstream.StartRequest{
		SessionID:  payload.SessionID,
		Language:   payload.Language,
		SampleRate: payload.SampleRate,
	})
	if err != nil {
		c.log.Warn("transcriber start failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		c.Enqueue(errorEvent(NamespaceTranscription, errTranscriberUnavailable))
		return
	}

	c.putStream(payload.SessionID, stream)

	_ = h.deps.Audit.Record(c.lifeCtx, services.AuditEntry{
		UserID:       c.ctx.UserID,
		Action:       services.ActionTranscriptionStarted,
		ResourceType: "transcription_session",
		ResourceID:   payload.SessionID,
		Description:  "Transcription started",
		IPAddress:    c.remoteAddr,
		UserAgent:    c.userAgent,
		Metadata: map[string]any{
			"language":    payload.Language,
			"sample_rate": payload.SampleRate,
		},
	})

	go h.relayTranscription(c, payload.SessionID, stream)

	c.Enqueue(newEvent(NamespaceTranscription, EventTranscriptionStatus, map[string]any{
		"session_id": payload.SessionID,
		"status":     "started",
	}))
}

// relayTranscription forwards upstream results in arrival order until the
// stream ends or the connection closes.
func (h *Hub) relayTranscription(c *Client, sessionID string, stream upstream.Stream) {
	for event := range stream.Events() {
		name := event.Type
		if name == "" {
			name = EventTranscriptionUpdate
		}

		data := map[string]any{"session_id": sessionID}
		if len(event.Payload) > 0 {
			data["data"] = json.RawMessage(event.Payload)
		}

		if !c.Enqueue(newEvent(NamespaceTranscription, name, data)) {
			return
		}
	}
}

// handleAudioData forwards one audio chunk and acknowledges receipt
// immediately; the acknowledgment says nothing about transcription progress.
// Only a small sample of chunks is audited to bound log volume.
func (h *Hub) handleAudioData(c *Client, data map[string]any) {
	var payload audioDataPayload
	if err := decodePayload(data, &payload); err != nil {
		c.Enqueue(errorEvent(NamespaceTranscription, err))
		return
	}

	stream, ok := c.getStream(payload.SessionID)
	if !ok {
		c.Enqueue(errorEvent(NamespaceTranscription,
			appErrors.NewBadRequest("No active transcription for session")))
		return
	}

	if err := stream.Send(upstream.AudioChunk{
		SessionID: payload.SessionID,
		Chunk:     payload.Chunk,
		Timestamp: payload.Timestamp,
	}); err != nil {
		c.log.Warn("audio forward failed", zap.String("session_id", payload.SessionID), zap.Error(err))
		if lost, found := c.takeStream(payload.SessionID); found {
			_ = lost.Close()
		}
		c.Enqueue(errorEvent(NamespaceTranscription, errTranscriberUnavailable))
		return
	}

	c.Enqueue(newEvent(NamespaceTranscription, EventAudioReceived, map[string]any{
		"session_id": payload.SessionID,
		"received":   true,
	}))

	if h.sampler.Admit(payload.SessionID) {
		h.deps.Audit.RecordAsync(services.AuditEntry{
			UserID:       c.ctx.UserID,
			Action:       services.ActionAudioChunkReceived,
			ResourceType: "transcription_session",
			ResourceID:   payload.SessionID,
			Description:  "Audio chunk sample",
			IPAddress:    c.remoteAddr,
			UserAgent:    c.userAgent,
			RiskLevel:    models.RiskLow,
		})
	}
}

// handleStopTranscription releases per-session state. Stopping an unknown
// session still acknowledges: cleanup is idempotent.
func (h *Hub) handleStopTranscription(c *Client, data map[string]any) {
	var payload stopTranscriptionPayload
	if err := decodePayload(data, &payload); err != nil {
		c.Enqueue(errorEvent(NamespaceTranscription, err))
		return
	}

	if stream, ok := c.takeStream(payload.SessionID); ok {
		_ = stream.Close()
		h.sampler.Forget(payload.SessionID)
	}

	_ = h.deps.Audit.Record(c.lifeCtx, services.AuditEntry{
		UserID:       c.ctx.UserID,
		Action:       services.ActionTranscriptionStopped,
		ResourceType: "transcription_session",
		ResourceID:   payload.SessionID,
		Description:  "Transcription stopped",
		IPAddress:    c.remoteAddr,
		UserAgent:    c.userAgent,
	})

	c.Enqueue(newEvent(NamespaceTranscription, EventTranscriptionStatus, map[string]any{
		"session_id": payload.SessionID,
		"status":     "stopped",
	}))
}
