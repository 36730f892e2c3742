// ABOUTME: Log channel abstraction and its WebSocket implementation.
// ABOUTME: Reads JSON frames from jobs/{id}/logs and delivers them as events.

package logstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/coder/websocket"
)

// Event is one occurrence on a job log channel: a decoded frame, a close
// with its close code, or a channel-level error.
type Event struct {
	Entry     *Entry // set for frame events
	Closed    bool   // set when the channel closed
	CloseCode int    // WebSocket close code, valid when Closed
	Err       error  // set for channel-level errors
}

// Channel is a live event stream for one job. Events ends (is closed) once
// the channel has delivered its final close or error event.
type Channel interface {
	Events() <-chan Event
	Close() error
}

// ChannelFactory opens a log channel for a job. It is an interface so the
// synchronizer's state handling can be tested without a live connection.
type ChannelFactory interface {
	Open(ctx context.Context, jobID, token string) (Channel, error)
}

// WebSocketFactory opens log channels over WebSocket. The credential rides
// as a query parameter because browsers (and some proxies) cannot set
// headers on WebSocket upgrades; the server contract expects it there.
type WebSocketFactory struct {
	// BaseURL is the WebSocket API root, e.g. "wss://host/api/v1".
	BaseURL string

	// Logger reports dropped frames. nil means slog.Default().
	Logger *slog.Logger
}

// Open dials the job's log endpoint and starts delivering events. The
// context governs both the dial and the lifetime of the read loop.
func (f *WebSocketFactory) Open(ctx context.Context, jobID, token string) (Channel, error) {
	endpoint := fmt.Sprintf("%s/jobs/%s/logs?token=%s",
		strings.TrimSuffix(f.BaseURL, "/"), url.PathEscape(jobID), url.QueryEscape(token))

	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing log channel for job %s: %w", jobID, err)
	}

	readCtx, cancel := context.WithCancel(ctx)
	ch := &wsChannel{
		conn:   conn,
		events: make(chan Event, 32),
		cancel: cancel,
		logger: f.logger(),
		jobID:  jobID,
	}
	go ch.readLoop(readCtx)
	return ch, nil
}

func (f *WebSocketFactory) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// wsChannel adapts a WebSocket connection to the Channel interface.
type wsChannel struct {
	conn   *websocket.Conn
	events chan Event
	cancel context.CancelFunc
	logger *slog.Logger
	jobID  string
}

func (c *wsChannel) Events() <-chan Event {
	return c.events
}

// Close tears the connection down. Safe to call while the read loop runs;
// the loop observes the cancellation and exits without emitting an event.
// Cancelling the read may already have closed the connection, so the close
// handshake's own error carries no information worth surfacing.
func (c *wsChannel) Close() error {
	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "observer detached") //nolint:errcheck
	return nil
}

// readLoop reads frames until the connection ends, translating the final
// read error into either a close event (with its code) or an error event.
// Malformed frames are logged and dropped; they never end the channel.
func (c *wsChannel) readLoop(ctx context.Context) {
	defer close(c.events)

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Local teardown, not a server-side close.
				return
			}
			if code := websocket.CloseStatus(err); code != -1 {
				c.deliver(ctx, Event{Closed: true, CloseCode: int(code)})
				return
			}
			c.deliver(ctx, Event{Err: err})
			return
		}

		entry, err := decodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed log frame", "job_id", c.jobID, "error", err)
			continue
		}
		c.deliver(ctx, Event{Entry: &entry})
	}
}

func (c *wsChannel) deliver(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
