// ABOUTME: Tests for the realtime WebSocket and SSE feeds
// ABOUTME: Verifies per-user filtering, event framing and shutdown behaviour

package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lectern/internal/api"
	"github.com/2389/lectern/internal/realtime"
)

func (e *testEnv) dialFeed(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/api/realtime"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+e.token(t, userID))

	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) *realtime.ChangeEvent {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	var event realtime.ChangeEvent
	require.NoError(t, ws.ReadJSON(&event))
	return &event
}

func TestRealtimeWebSocket_DeliversOwnEventsOnly(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ensure(t, "student-1", "teacher-1")
	other := env.ensure(t, "outsider", "teacher-2")

	feed := env.dialFeed(t, "teacher-1")

	// Not involving teacher-1: must be filtered out
	require.Equal(t, http.StatusCreated, env.do(t, "outsider", http.MethodPost,
		"/api/conversations/"+other.ID+"/messages", api.SendMessageRequest{Content: "elsewhere"}, nil))

	var sent api.Message
	require.Equal(t, http.StatusCreated, env.do(t, "student-1", http.MethodPost,
		"/api/conversations/"+conv.ID+"/messages", api.SendMessageRequest{Content: "hello"}, &sent))

	event := readEvent(t, feed)
	assert.Equal(t, realtime.EventInsert, event.Type)
	assert.Equal(t, realtime.TableMessages, event.Table)
	require.NotNil(t, event.Row)
	assert.Equal(t, sent.ID, event.Row.ID)
	assert.Equal(t, "hello", event.Row.Content)

	require.Equal(t, http.StatusOK, env.do(t, "teacher-1", http.MethodPost,
		"/api/conversations/"+conv.ID+"/read", nil, nil))

	update := readEvent(t, feed)
	assert.Equal(t, realtime.EventUpdate, update.Type)
	assert.Equal(t, sent.ID, update.Row.ID)
	assert.True(t, update.Row.Read)
}

func TestRealtimeWebSocket_RejectsWithoutToken(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/realtime"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeWebSocket_ClosesOnShutdown(t *testing.T) {
	env := newTestEnv(t)
	feed := env.dialFeed(t, "teacher-1")

	require.Eventually(t, func() bool { return env.srv.bus.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	env.srv.bus.Close()

	require.NoError(t, feed.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := feed.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestRealtimeSSE_StreamsEvents(t *testing.T) {
	env := newTestEnv(t)
	conv := env.ensure(t, "student-1", "teacher-1")

	req, err := http.NewRequest(http.MethodGet,
		env.http.URL+"/api/realtime/sse?access_token="+env.token(t, "teacher-1"), nil)
	require.NoError(t, err)

	resp, err := env.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Equal(t, http.StatusCreated, env.do(t, "student-1", http.MethodPost,
		"/api/conversations/"+conv.ID+"/messages", api.SendMessageRequest{Content: "over sse"}, nil))

	var eventName, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}

	assert.Equal(t, "insert", eventName)
	var event realtime.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &event))
	assert.Equal(t, "over sse", event.Row.Content)
}
