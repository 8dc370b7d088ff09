// Package gateway implements the chat-platform gateway client. The wire
// protocol is JSON frames over a single WebSocket: the client identifies
// with the bot token, answers heartbeats, receives dispatch events
// (messages, ready), and issues request/response operations (send
// message, upload file, set presence) correlated by frame ID.
//
// The protocol content is an external collaborator boundary: nothing
// outside this package inspects raw frames.
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Event types dispatched by the gateway.
const (
	EventReady         = "ready"
	EventMessageCreate = "message_create"
)

// Event is a dispatch frame received from the platform.
type Event struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

// User identifies a chat-platform account.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Attachment is a file attached to an inbound message.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Message is an inbound chat message.
type Message struct {
	ID          string       `json:"id"`
	ChannelID   string       `json:"channel_id"`
	Author      User         `json:"author"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// ReadyData is the payload of the ready event.
type ReadyData struct {
	SessionID string `json:"session_id"`
	User      User   `json:"user"`
}

// frame is the generic wire format, both directions. Dispatch frames
// carry T/D; request and response frames carry ID/Op and OK/Error.
type frame struct {
	ID    int64           `json:"id,omitempty"`
	Op    string          `json:"op,omitempty"`
	T     string          `json:"t,omitempty"`
	D     json.RawMessage `json:"d,omitempty"`
	OK    bool            `json:"ok,omitempty"`
	Error *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *frameError) String() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// response pairs a result payload with an optional error for delivery
// through the pending map.
type response struct {
	OK     bool
	Result json.RawMessage
	Error  *frameError
}

// Client is the gateway connection. One reader goroutine fans incoming
// frames out to the events channel (dispatches) or the pending map
// (request responses); a heartbeat goroutine keeps the session alive.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	msgID     atomic.Int64
	pending   map[int64]chan response
	pendingMu sync.Mutex

	events chan Event
	done   chan struct{}

	sessionID string
	botUser   User
	stateMu   sync.Mutex
}

// New creates a gateway client. Call Connect to establish the session.
func New(url, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     url,
		token:   token,
		logger:  logger,
		pending: make(map[int64]chan response),
		events:  make(chan Event, 100),
		done:    make(chan struct{}),
	}
}

// Connect dials the gateway, identifies, and starts the reader and
// heartbeat goroutines. The heartbeat interval comes from the hello
// frame the platform sends after a successful identify.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.logger.Info("connecting to gateway", "url", c.url)

	dialer := websocket.Dialer{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	c.conn = conn

	identify, _ := json.Marshal(map[string]string{"token": c.token})
	if err := conn.WriteJSON(frame{Op: "identify", D: identify}); err != nil {
		conn.Close()
		return fmt.Errorf("send identify: %w", err)
	}

	// The platform answers identify with a hello frame carrying the
	// heartbeat interval, then dispatches ready.
	var hello frame
	if err := conn.ReadJSON(&hello); err != nil {
		conn.Close()
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != "hello" {
		conn.Close()
		return fmt.Errorf("expected hello, got %q", hello.Op)
	}
	var helloData struct {
		HeartbeatIntervalMS int `json:"heartbeat_interval_ms"`
	}
	if err := json.Unmarshal(hello.D, &helloData); err != nil {
		conn.Close()
		return fmt.Errorf("parse hello: %w", err)
	}
	interval := time.Duration(helloData.HeartbeatIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}

	c.logger.Info("gateway session established", "heartbeat_interval", interval)

	go c.readLoop()
	go c.heartbeatLoop(interval)

	return nil
}

// Close tears down the connection. The reader goroutine exits on the
// resulting read error.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	select {
	case <-c.done:
	default:
		close(c.done)
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Events returns the dispatch event channel. The channel is never
// closed; consumers select against their own context.
func (c *Client) Events() <-chan Event {
	return c.events
}

// BotUser returns the platform identity of this bot, known after the
// ready event has been processed.
func (c *Client) BotUser() User {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.botUser
}

// SendMessage posts content to a channel.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) error {
	payload, _ := json.Marshal(map[string]string{
		"channel_id": channelID,
		"content":    content,
	})
	_, err := c.request(ctx, "message_create", payload)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendFile uploads a file to a channel. The payload is base64-encoded
// inside the frame; the platform enforces its own size limits.
func (c *Client) SendFile(ctx context.Context, channelID, filename string, data []byte) error {
	payload, _ := json.Marshal(map[string]string{
		"channel_id": channelID,
		"filename":   filename,
		"data":       base64.StdEncoding.EncodeToString(data),
	})
	_, err := c.request(ctx, "file_create", payload)
	if err != nil {
		return fmt.Errorf("send file %s: %w", filename, err)
	}
	return nil
}

// SetPresence publishes the bot's activity line.
func (c *Client) SetPresence(ctx context.Context, activity string) error {
	payload, _ := json.Marshal(map[string]string{"activity": activity})
	_, err := c.request(ctx, "presence_update", payload)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// request sends an operation frame and waits for its correlated response.
func (c *Client) request(ctx context.Context, op string, d json.RawMessage) (json.RawMessage, error) {
	id := c.msgID.Add(1)

	respCh := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(frame{ID: id, Op: op, D: d}); err != nil {
		return nil, fmt.Errorf("send %s: %w", op, err)
	}

	select {
	case resp := <-respCh:
		if !resp.OK {
			if resp.Error != nil {
				return nil, fmt.Errorf("%s", resp.Error.String())
			}
			return nil, fmt.Errorf("%s failed", op)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("timeout waiting for %s response", op)
	}
}

func (c *Client) write(f frame) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("gateway not connected")
	}
	return c.conn.WriteJSON(f)
}

// heartbeatLoop sends heartbeat frames at the interval announced in
// hello, until the connection is closed.
func (c *Client) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(frame{Op: "heartbeat"}); err != nil {
				c.logger.Debug("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

// readLoop continuously reads frames from the WebSocket, routing
// responses to their pending channel and dispatches to the events
// channel. It exits when the connection dies.
func (c *Client) readLoop() {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("gateway closed normally")
				return
			}
			select {
			case <-c.done:
				// Close() was called; the read error is expected.
			default:
				c.logger.Error("gateway read error, connection lost", "error", err)
			}
			return
		}

		switch {
		case f.ID != 0 && f.T == "":
			// Response to an outbound request.
			c.pendingMu.Lock()
			if ch, ok := c.pending[f.ID]; ok {
				ch <- response{OK: f.OK, Result: f.D, Error: f.Error}
			}
			c.pendingMu.Unlock()

		case f.Op == "heartbeat_ack":
			// Keepalive reply, nothing to do.

		case f.T != "":
			if f.T == EventReady {
				var rd ReadyData
				if err := json.Unmarshal(f.D, &rd); err == nil {
					c.stateMu.Lock()
					c.sessionID = rd.SessionID
					c.botUser = rd.User
					c.stateMu.Unlock()
				}
			}
			select {
			case c.events <- Event{Type: f.T, Data: f.D}:
			default:
				c.logger.Warn("event channel full, dropping event", "type", f.T)
			}

		default:
			c.logger.Debug("unhandled gateway frame", "op", f.Op)
		}
	}
}

// ParseMessage decodes a message_create event payload.
func ParseMessage(e Event) (*Message, error) {
	if e.Type != EventMessageCreate {
		return nil, fmt.Errorf("event %q is not a message", e.Type)
	}
	var m Message
	if err := json.Unmarshal(e.Data, &m); err != nil {
		return nil, fmt.Errorf("parse message event: %w", err)
	}
	return &m, nil
}
