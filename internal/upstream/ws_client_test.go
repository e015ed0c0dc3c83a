package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEngineServer runs a fake upstream engine and returns its ws:// endpoint.
func newEngineServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func readAction(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestTranscriberRelaysEventsInOrder(t *testing.T) {
	endpoint := newEngineServer(t, func(conn *websocket.Conn) {
		msg := readAction(t, conn)
		assert.JSONEq(t, `"start"`, string(msg["action"]))

		var req StartRequest
		assert.NoError(t, json.Unmarshal(msg["request"], &req))
		assert.Equal(t, "tx-1", req.SessionID)

		for _, kind := range []string{"transcription_started", "transcription_update"} {
			if err := conn.WriteJSON(Event{Type: kind}); err != nil {
				return
			}
		}
		// hold the connection until the client hangs up
		_, _, _ = conn.ReadMessage()
	})

	transcriber, err := NewWSTranscriber(endpoint)
	require.NoError(t, err)

	stream, err := transcriber.Start(context.Background(), StartRequest{SessionID: "tx-1", Language: "en", SampleRate: 16000})
	require.NoError(t, err)
	defer stream.Close()

	first := recvEvent(t, stream.Events())
	assert.Equal(t, "transcription_started", first.Type)
	second := recvEvent(t, stream.Events())
	assert.Equal(t, "transcription_update", second.Type)
}

func TestTranscriberSendAfterCloseFails(t *testing.T) {
	endpoint := newEngineServer(t, func(conn *websocket.Conn) {
		_ = readAction(t, conn)
		_, _, _ = conn.ReadMessage()
	})

	transcriber, err := NewWSTranscriber(endpoint)
	require.NoError(t, err)

	stream, err := transcriber.Start(context.Background(), StartRequest{SessionID: "tx-2"})
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	err = stream.Send(AudioChunk{SessionID: "tx-2", Chunk: "aGk="})
	assert.Error(t, err)
}

// A relay that stops consuming must not strand the read loop: once the buffer
// is full, Close has to unblock the pending send so the goroutine can exit and
// the events channel can close.
func TestTranscriberCloseUnblocksSaturatedStream(t *testing.T) {
	endpoint := newEngineServer(t, func(conn *websocket.Conn) {
		_ = readAction(t, conn)
		for i := 0; i < eventBuffer*3; i++ {
			if err := conn.WriteJSON(Event{Type: "transcription_update"}); err != nil {
				return
			}
		}
		_, _, _ = conn.ReadMessage()
	})

	transcriber, err := NewWSTranscriber(endpoint)
	require.NoError(t, err)

	stream, err := transcriber.Start(context.Background(), StartRequest{SessionID: "tx-3"})
	require.NoError(t, err)

	// nobody consumes; wait for the buffer to fill and the read loop to block
	require.Eventually(t, func() bool {
		return len(stream.Events()) == eventBuffer
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, stream.Close())

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-stream.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel did not close after stream close")
		}
	}
}

func TestGeneratorStopsAtTerminalEvent(t *testing.T) {
	endpoint := newEngineServer(t, func(conn *websocket.Conn) {
		msg := readAction(t, conn)
		assert.JSONEq(t, `"generate"`, string(msg["action"]))

		var req GenerateRequest
		assert.NoError(t, json.Unmarshal(msg["request"], &req))
		assert.Equal(t, "report", req.Kind)
		assert.Equal(t, "corr-1", req.CorrelationID)

		_ = conn.WriteJSON(Event{Type: "generation_progress"})
		_ = conn.WriteJSON(Event{Type: "generation_completed", Terminal: true})
		_, _, _ = conn.ReadMessage()
	})

	generator, err := NewWSGenerator(endpoint, "report")
	require.NoError(t, err)

	events, err := generator.Generate(context.Background(), GenerateRequest{CorrelationID: "corr-1"})
	require.NoError(t, err)

	progress := recvEvent(t, events)
	assert.Equal(t, "generation_progress", progress.Type)
	terminal := recvEvent(t, events)
	assert.True(t, terminal.Terminal)

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel must close after the terminal event")
	case <-time.After(3 * time.Second):
		t.Fatal("channel did not close after the terminal event")
	}
}

func TestGeneratorStatusQuery(t *testing.T) {
	endpoint := newEngineServer(t, func(conn *websocket.Conn) {
		msg := readAction(t, conn)
		assert.JSONEq(t, `"status"`, string(msg["action"]))
		assert.JSONEq(t, `"corr-2"`, string(msg["correlation_id"]))
		_ = conn.WriteJSON(Status{CorrelationID: "corr-2", State: "running", Progress: 40})
	})

	generator, err := NewWSGenerator(endpoint, "summary")
	require.NoError(t, err)

	status, err := generator.Status(context.Background(), "corr-2")
	require.NoError(t, err)
	assert.Equal(t, "running", status.State)
	assert.Equal(t, 40, status.Progress)
}

func TestGeneratorRequiresEndpoint(t *testing.T) {
	_, err := NewWSGenerator("", "report")
	assert.Error(t, err)

	_, err = NewWSTranscriber("")
	assert.Error(t, err)
}

func recvEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()

	select {
	case event, ok := <-events:
		require.True(t, ok, "event stream closed early")
		return event
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for upstream event")
		return Event{}
	}
}
