package gateway

import (
	"context"
	"strings"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/medscribe/gateway/internal/models"
	"github.com/medscribe/gateway/internal/services"
	appErrors "github.com/medscribe/gateway/pkg/errors"
	"github.com/medscribe/gateway/pkg/metrics"
	"github.com/medscribe/gateway/pkg/validator"
)

// dispatch routes one inbound message. The rate-limit check wraps every
// handler uniformly: no handler is reachable without passing the check for
// its own event name.
func (h *Hub) dispatch(c *Client, msg inboundMessage) {
	event := strings.TrimSpace(msg.Event)
	if event == "" {
		c.Enqueue(errorEvent("", appErrors.NewBadRequest("Event name is required")))
		return
	}

	namespace := strings.ToLower(strings.TrimSpace(msg.Namespace))

	if allowed, retryAfter := h.limiter.Allow(c.Identity(), event); !allowed {
		metrics.RateLimitDenials.WithLabelValues(event).Inc()
		c.Enqueue(newEvent(namespace, EventRateLimitExceeded, map[string]any{
			"event":               event,
			"limit":               h.limiter.Max(),
			"window_seconds":      int(h.limiter.Window().Seconds()),
			"retry_after_seconds": int(retryAfter.Seconds() + 0.5),
		}))
		return
	}

	metrics.EventsDispatched.WithLabelValues(namespace, event).Inc()

	switch event {
	case EventPing:
		data := map[string]any{}
		if c.ctx != nil && c.ctx.UserID != "" {
			data["user_id"] = c.ctx.UserID
		}
		c.Enqueue(newEvent("", EventPong, data))
		return
	case EventRefreshToken:
		h.handleRefresh(c, msg.Data)
		return
	case EventJoin:
		h.handleJoin(c, namespace)
		return
	}

	ns, known := Namespaces[namespace]
	if !known {
		c.Enqueue(errorEvent(namespace, appErrors.NewBadRequest("Unknown namespace")))
		return
	}

	if !c.hasJoined(ns.Name) {
		c.Enqueue(errorEvent(namespace, appErrors.New(
			"NAMESPACE_NOT_JOINED",
			"Join the namespace before sending events",
			appErrors.ErrInsufficientPermissions.StatusCode,
		)))
		return
	}

	handler, ok := h.handlers[ns.Name][event]
	if !ok {
		c.Enqueue(errorEvent(namespace, appErrors.NewBadRequest("Unknown event for namespace")))
		return
	}

	handler(c, msg.Data)
}

// handleJoin admits the connection to a namespace after re-checking its
// authorization, then places it into the standard broadcast rooms.
func (h *Hub) handleJoin(c *Client, namespace string) {
	ns, known := Namespaces[namespace]
	if !known {
		c.Enqueue(errorEvent(namespace, appErrors.NewBadRequest("Unknown namespace")))
		return
	}

	if c.ctx == nil {
		// Serve only admits authenticated connections; treat absence as fatal
		// for the join rather than trusting the connection.
		c.Enqueue(errorEvent(namespace, appErrors.ErrMissingCredentials))
		return
	}

	missing, ok := ns.Authorize(c.ctx)
	if !ok {
		metrics.NamespaceDenials.WithLabelValues(ns.Name).Inc()
		_ = h.deps.Audit.Record(c.lifeCtx, services.AuditEntry{
			UserID:       c.ctx.UserID,
			Action:       services.ActionNamespaceDenied,
			ResourceType: "namespace",
			ResourceID:   ns.Name,
			Description:  "Namespace join denied: missing " + strings.Join(missing, ", "),
			IPAddress:    c.remoteAddr,
			UserAgent:    c.userAgent,
			RiskLevel:    models.RiskMedium,
		})
		c.Enqueue(errorEvent(namespace, appErrors.ErrInsufficientPermissions.
			WithMessage("Missing permissions: "+strings.Join(missing, ", "))))
		return
	}

	c.joined[ns.Name] = struct{}{}

	rooms := standardRooms(c.ctx)
	for _, room := range rooms {
		h.rooms.Join(room, c)
	}

	c.Enqueue(newEvent(ns.Name, EventNamespaceJoined, map[string]any{
		"namespace": ns.Name,
		"rooms":     rooms,
	}))

	if ns.Name == NamespaceUpdates {
		c.Enqueue(newEvent(ns.Name, EventConnected, map[string]any{
			"rooms": rooms,
		}))
	}
}

type refreshPayload struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// handleRefresh exchanges a refresh token for a new access token over the
// live connection. Failures surface as auth_error events; the connection
// and its context remain valid either way.
func (h *Hub) handleRefresh(c *Client, data map[string]any) {
	var payload refreshPayload
	if err := decodePayload(data, &payload); err != nil {
		c.Enqueue(newEvent("", EventAuthError, map[string]any{
			"code":    appErrors.ErrBadRequest.Code,
			"message": err.Error(),
		}))
		return
	}

	ctx, cancel := context.WithTimeout(c.lifeCtx, h.cfg.RefreshTimeout)
	defer cancel()

	result, err := h.deps.Refresher.Refresh(ctx, c.ctx, payload.RefreshToken)
	if err != nil {
		appErr := appErrors.FromError(err)
		c.log.Debug("token refresh failed", zap.String("code", appErr.Code))
		c.Enqueue(newEvent("", EventAuthError, map[string]any{
			"code":    appErr.Code,
			"message": appErr.Message,
		}))
		return
	}

	c.Enqueue(newEvent("", EventAuthRefreshed, result))
}

// decodePayload maps loosely-typed event data onto a handler's payload
// struct and validates it. Unknown fields are ignored; missing required
// fields produce a client-visible error.
func decodePayload(data map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return appErrors.ErrInternalServer.WithInternal(err)
	}

	if err := decoder.Decode(data); err != nil {
		return appErrors.NewBadRequest("Invalid event payload")
	}

	if err := validator.ValidateStruct(out); err != nil {
		return appErrors.NewBadRequest("Invalid event payload: " + err.Error())
	}

	return nil
}
