package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medscribe/gateway/internal/services"
	"github.com/medscribe/gateway/internal/upstream"
	appErrors "github.com/medscribe/gateway/pkg/errors"
)

type generateReportPayload struct {
	ReportID string         `json:"report_id"`
	Input    map[string]any `json:"input"`
}

type generateSummaryPayload struct {
	SummaryID string         `json:"summary_id"`
	Input     map[string]any `json:"input"`
}

type checkReportStatusPayload struct {
	ReportID string `json:"report_id" validate:"required"`
}

type checkSummaryStatusPayload struct {
	SummaryID string `json:"summary_id" validate:"required"`
}

func (h *Hub) handleGenerateReport(c *Client, data map[string]any) {
	var payload generateReportPayload
	if err := decodePayload(data, &payload); err != nil {
		c.Enqueue(errorEvent(NamespaceReports, err))
		return
	}
	h.startGeneration(c, NamespaceReports, "report", h.deps.Reports,
		payload.ReportID, payload.Input, services.ActionReportStarted)
}

func (h *Hub) handleGenerateSummary(c *Client, data map[string]any) {
	var payload generateSummaryPayload
	if err := decodePayload(data, &payload); err != nil {
		c.Enqueue(errorEvent(NamespaceSummaries, err))
		return
	}
	h.startGeneration(c, NamespaceSummaries, "summary", h.deps.Summaries,
		payload.SummaryID, payload.Input, services.ActionSummaryStarted)
}

func (h *Hub) handleCheckReportStatus(c *Client, data map[string]any) {
	var payload checkReportStatusPayload
	if err := decodePayload(data, &payload); err != nil {
		c.Enqueue(errorEvent(NamespaceReports, err))
		return
	}
	h.checkStatus(c, NamespaceReports, "report", h.deps.Reports, payload.ReportID)
}

func (h *Hub) handleCheckSummaryStatus(c *Client, data map[string]any) {
	var payload checkSummaryStatusPayload
	if err := decodePayload(data, &payload); err != nil {
		c.Enqueue(errorEvent(NamespaceSummaries, err))
		return
	}
	h.checkStatus(c, NamespaceSummaries, "summary", h.deps.Summaries, payload.SummaryID)
}

// startGeneration launches one upstream generation keyed by its correlation
// id and relays its progress events in upstream order. Multiple generations
// per connection run independently; events can never cross correlation ids
// because each relay owns exactly one upstream channel.
func (h *Hub) startGeneration(c *Client, namespace, kind string, gen upstream.Generator,
	correlationID string, input map[string]any, auditAction string) {

	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	_ = h.deps.Audit.Record(c.lifeCtx, services.AuditEntry{
		UserID:       c.ctx.UserID,
		Action:       auditAction,
		ResourceType: kind,
		ResourceID:   correlationID,
		Description:  "Generation requested",
		IPAddress:    c.remoteAddr,
		UserAgent:    c.userAgent,
	})

	userID := c.ctx.UserID
	idKey := kind + "_id"

	// The generation is keyed by its own id, not by the connection: it runs
	// under the hub context so it may finish after a disconnect, with the
	// result rerouted through the updates namespace.
	go func() {
		events, err := gen.Generate(h.baseCtx, upstream.GenerateRequest{
			CorrelationID: correlationID,
			Kind:          kind,
			Input:         input,
		})
		if err != nil {
			h.log.Warn("generation start failed",
				zap.String("kind", kind),
				zap.String("correlation_id", correlationID),
				zap.Error(err))
			h.deliverGeneration(c, userID, newEvent(namespace, kind+"_error", map[string]any{
				idKey:     correlationID,
				"message": "Generation service is unavailable",
			}), true)
			return
		}

		for event := range events {
			name := kind + "_progress"
			if event.Terminal {
				if event.Type == "error" {
					name = kind + "_error"
				} else {
					name = kind + "_completed"
				}
			}

			data := map[string]any{idKey: correlationID}
			if len(event.Payload) > 0 {
				data["data"] = json.RawMessage(event.Payload)
			}

			h.deliverGeneration(c, userID, newEvent(namespace, name, data), event.Terminal)
		}
	}()
}

// deliverGeneration prefers the originating connection; if it is gone, a
// terminal event is republished to the user's room on the updates namespace
// so a reconnected client still learns the outcome.
func (h *Hub) deliverGeneration(c *Client, userID string, event Event, terminal bool) {
	if !c.Closed() && c.Enqueue(event) {
		return
	}
	if terminal {
		h.BroadcastToUser(userID, event)
	}
}

// checkStatus answers a point-in-time status query from upstream state. The
// generation need not have started on this connection.
func (h *Hub) checkStatus(c *Client, namespace, kind string, gen upstream.Generator, correlationID string) {
	ctx, cancel := context.WithTimeout(c.lifeCtx, statusQueryTimeout)
	defer cancel()

	status, err := gen.Status(ctx, correlationID)
	if err != nil {
		c.Enqueue(errorEvent(namespace, appErrors.New(
			"STATUS_UNAVAILABLE",
			"Unable to fetch generation status",
			503,
		)))
		return
	}

	c.Enqueue(newEvent(namespace, kind+"_status", status))
}
