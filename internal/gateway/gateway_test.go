package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeGateway runs a minimal platform endpoint: it accepts one
// connection, verifies identify, answers hello, dispatches ready, and
// acknowledges every request frame.
func fakeGateway(t *testing.T) string {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var identify frame
		if err := conn.ReadJSON(&identify); err != nil {
			t.Errorf("read identify: %v", err)
			return
		}
		if identify.Op != "identify" {
			t.Errorf("first frame op = %q, want identify", identify.Op)
			return
		}
		var creds struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(identify.D, &creds); err != nil || creds.Token != "test-token" {
			t.Errorf("identify token = %q, want test-token", creds.Token)
			return
		}

		hello, _ := json.Marshal(map[string]int{"heartbeat_interval_ms": 60000})
		if err := conn.WriteJSON(frame{Op: "hello", D: hello}); err != nil {
			return
		}

		ready, _ := json.Marshal(ReadyData{
			SessionID: "sess-1",
			User:      User{ID: "42", Name: "testbot"},
		})
		if err := conn.WriteJSON(frame{T: EventReady, D: ready}); err != nil {
			return
		}

		msg, _ := json.Marshal(Message{
			ID:        "m1",
			ChannelID: "ch1",
			Author:    User{ID: "7", Name: "alice"},
			Content:   "!ping",
		})
		if err := conn.WriteJSON(frame{T: EventMessageCreate, D: msg}); err != nil {
			return
		}

		// Acknowledge requests until the client hangs up.
		for {
			var req frame
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Op == "heartbeat" {
				_ = conn.WriteJSON(frame{Op: "heartbeat_ack"})
				continue
			}
			_ = conn.WriteJSON(frame{ID: req.ID, OK: true})
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func connectedClient(t *testing.T) *Client {
	t.Helper()

	c := New(fakeGateway(t), "test-token", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect(): %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitEvent(t *testing.T, c *Client, eventType string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-c.Events():
			if e.Type == eventType {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", eventType)
		}
	}
}

func TestConnectAndReady(t *testing.T) {
	c := connectedClient(t)

	waitEvent(t, c, EventReady)
	user := c.BotUser()
	if user.Name != "testbot" {
		t.Errorf("BotUser().Name = %q, want testbot", user.Name)
	}
}

func TestMessageDispatch(t *testing.T) {
	c := connectedClient(t)

	e := waitEvent(t, c, EventMessageCreate)
	m, err := ParseMessage(e)
	if err != nil {
		t.Fatalf("ParseMessage(): %v", err)
	}
	if m.Content != "!ping" || m.Author.Name != "alice" {
		t.Errorf("ParseMessage() = %+v, want !ping from alice", m)
	}
}

func TestRequestResponse(t *testing.T) {
	c := connectedClient(t)
	waitEvent(t, c, EventReady)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.SendMessage(ctx, "ch1", "hello"); err != nil {
		t.Errorf("SendMessage(): %v", err)
	}
	if err := c.SetPresence(ctx, "watching 3 tracked accounts"); err != nil {
		t.Errorf("SetPresence(): %v", err)
	}
	if err := c.SendFile(ctx, "ch1", "export.db", []byte{1, 2, 3}); err != nil {
		t.Errorf("SendFile(): %v", err)
	}
}

func TestParseMessageWrongType(t *testing.T) {
	if _, err := ParseMessage(Event{Type: EventReady}); err == nil {
		t.Error("ParseMessage() on a ready event succeeded, want error")
	}
}
