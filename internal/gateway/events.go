package gateway

import (
	"time"

	appErrors "github.com/medscribe/gateway/pkg/errors"
)

// Inbound client event names.
const (
	EventPing               = "ping"
	EventJoin               = "join"
	EventRefreshToken       = "refresh_token"
	EventStartTranscription = "start_transcription"
	EventAudioData          = "audio_data"
	EventStopTranscription  = "stop_transcription"
	EventGenerateReport     = "generate_report"
	EventCheckReportStatus  = "check_report_status"
	EventGenerateSummary    = "generate_summary"
	EventCheckSummaryStatus = "check_summary_status"
)

// Outbound server event names.
const (
	EventPong                = "pong"
	EventConnected           = "connected"
	EventNamespaceJoined     = "namespace_joined"
	EventError               = "error"
	EventAuthRefreshed       = "auth_refreshed"
	EventAuthError           = "auth_error"
	EventRateLimitExceeded   = "rate_limit_exceeded"
	EventTranscriptionStatus = "transcription_status"
	EventTranscriptionUpdate = "transcription_update"
	EventAudioReceived       = "audio_received"
)

// Event is the outbound wire envelope. Every event carries a timestamp.
type Event struct {
	Namespace string    `json:"namespace,omitempty"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// inboundMessage is the envelope for client messages. Unknown fields are
// ignored by json.Unmarshal; required payload fields are enforced per
// handler via the validator.
type inboundMessage struct {
	Namespace string         `json:"namespace"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
}

func newEvent(namespace, name string, data any) Event {
	return Event{
		Namespace: namespace,
		Event:     name,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func errorEvent(namespace string, err error) Event {
	appErr := appErrors.FromError(err)
	return newEvent(namespace, EventError, map[string]any{
		"code":    appErr.Code,
		"message": appErr.Message,
	})
}
