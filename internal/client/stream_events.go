// ABOUTME: Realtime change feed subscription over the gateway WebSocket
// ABOUTME: Decodes change events onto a channel that closes when the connection drops

package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/lectern/internal/msgerr"
	"github.com/2389/lectern/internal/realtime"
)

const (
	writeWait = 10 * time.Second
	// readTimeout must exceed the gateway's ping interval
	readTimeout = 90 * time.Second
	feedBuffer  = 64
)

// feedURL derives the WebSocket URL of the change feed from the base URL.
func (c *Client) feedURL() string {
	switch {
	case strings.HasPrefix(c.baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.baseURL, "https://") + "/api/realtime"
	case strings.HasPrefix(c.baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.baseURL, "http://") + "/api/realtime"
	default:
		return c.baseURL + "/api/realtime"
	}
}

// Subscribe opens the change feed. Events involving the user arrive on the
// returned channel until ctx is canceled or the connection drops; either
// way the channel is closed, and a dropped connection is the caller's cue
// to reconnect.
func (c *Client) Subscribe(ctx context.Context) (<-chan *realtime.ChangeEvent, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, c.feedURL(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("subscribe: %w", ErrUnauthorized)
		}
		return nil, msgerr.Subscription("subscribe", err)
	}

	events := make(chan *realtime.ChangeEvent, feedBuffer)

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = ws.Close()
		case <-stop:
		}
	}()

	go func() {
		defer close(events)
		defer close(stop)
		defer ws.Close()

		for {
			var event realtime.ChangeEvent
			if err := ws.ReadJSON(&event); err != nil {
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

			select {
			case events <- &event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}
