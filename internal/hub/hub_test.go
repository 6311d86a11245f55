package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"github.com/user/ptyhost/internal/boundary"
	"github.com/user/ptyhost/internal/codec"
	"github.com/user/ptyhost/internal/pty"
)

func TestProtocolMarshalClientMessage(t *testing.T) {
	msg := ClientMessage{
		Type:    TypeCreate,
		Command: "sh -c 'echo hi'",
		Cwd:     "/tmp",
		Env:     map[string]string{"NO_COLOR": "1"},
		Rows:    50,
		Cols:    120,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ClientMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if decoded.Type != TypeCreate || decoded.Command != msg.Command || decoded.Cwd != msg.Cwd {
		t.Errorf("decoded %+v, want %+v", decoded, msg)
	}
	if decoded.Rows != 50 || decoded.Cols != 120 {
		t.Errorf("size = %dx%d, want 50x120", decoded.Rows, decoded.Cols)
	}
	if decoded.Env["NO_COLOR"] != "1" {
		t.Errorf("env = %v, want %v", decoded.Env, msg.Env)
	}
}

func TestProtocolMarshalServerMessage(t *testing.T) {
	msg := ServerMessage{Type: TypeExited, Session: "s-1", ExitCode: 3}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded ServerMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != TypeExited || decoded.Session != "s-1" || decoded.ExitCode != 3 {
		t.Errorf("decoded %+v, want %+v", decoded, msg)
	}
}

func newTestHub(token string) *Hub {
	surf := boundary.NewSurface(boundary.SpawnFunc(func(spec codec.CommandSpec) (boundary.Session, error) {
		return pty.Spawn(spec)
	}))
	return New(surf, token, 10*time.Millisecond, codec.Size{Rows: 24, Cols: 80}, nil)
}

func TestTokenAuthentication(t *testing.T) {
	const validToken = "secret-token-123"

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"valid token", validToken, http.StatusSwitchingProtocols},
		{"invalid token", "wrong-token", http.StatusUnauthorized},
		{"missing token", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHub(validToken)
			server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
			defer server.Close()

			url := fmt.Sprintf("ws://%s/ws", server.URL[7:])
			if tt.token != "" {
				url = fmt.Sprintf("%s?token=%s", url, tt.token)
			}

			dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
			conn, resp, err := websocket.Dial(dialCtx, url, nil)
			dialCancel()

			if resp != nil && resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusSwitchingProtocols {
				if err != nil {
					t.Fatalf("expected successful connection, got %v", err)
				}
			}
			if conn != nil {
				conn.Close(websocket.StatusNormalClosure, "")
			}
		})
	}
}

// readServerMessage reads and decodes the next message from the socket.
func readServerMessage(ctx context.Context, t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("socket read: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode server message: %v", err)
	}
	return msg
}

// TestSessionOverWebsocket creates a session through the socket, collects
// its output, and waits for the exit notification.
func TestSessionOverWebsocket(t *testing.T) {
	const token = "test-token"
	h := newTestHub(token)
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url := fmt.Sprintf("ws://%s/ws?token=%s", server.URL[7:], token)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	create, _ := json.Marshal(ClientMessage{Type: TypeCreate, Command: "echo hub-roundtrip"})
	if err := conn.Write(ctx, websocket.MessageText, create); err != nil {
		t.Fatalf("write create: %v", err)
	}

	var (
		sessionID string
		output    strings.Builder
		exited    bool
	)
	for !exited {
		msg := readServerMessage(ctx, t, conn)
		switch msg.Type {
		case TypeCreated:
			sessionID = msg.Session
		case TypeOutput:
			output.WriteString(msg.Data)
		case TypeExited:
			if msg.Session != sessionID {
				t.Errorf("exited for session %q, created %q", msg.Session, sessionID)
			}
			if msg.ExitCode != 0 {
				t.Errorf("exit code = %d, want 0", msg.ExitCode)
			}
			exited = true
		case TypeError:
			t.Fatalf("server error: %s", msg.Message)
		}
	}

	if !strings.Contains(output.String(), "hub-roundtrip") {
		t.Errorf("output %q does not contain %q", output.String(), "hub-roundtrip")
	}
}

// TestResizeOverWebsocket creates a long-lived session, resizes it, and
// queries the geometry back.
func TestResizeOverWebsocket(t *testing.T) {
	const token = "test-token"
	h := newTestHub(token)
	server := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	url := fmt.Sprintf("ws://%s/ws?token=%s", server.URL[7:], token)
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	create, _ := json.Marshal(ClientMessage{Type: TypeCreate, Command: "sleep 10"})
	if err := conn.Write(ctx, websocket.MessageText, create); err != nil {
		t.Fatalf("write create: %v", err)
	}

	created := readServerMessage(ctx, t, conn)
	if created.Type != TypeCreated {
		t.Fatalf("first message = %+v, want created", created)
	}
	id := created.Session

	resize, _ := json.Marshal(ClientMessage{Type: TypeResize, Session: id, Rows: 50, Cols: 120})
	if err := conn.Write(ctx, websocket.MessageText, resize); err != nil {
		t.Fatalf("write resize: %v", err)
	}
	getSize, _ := json.Marshal(ClientMessage{Type: TypeGetSize, Session: id})
	if err := conn.Write(ctx, websocket.MessageText, getSize); err != nil {
		t.Fatalf("write get_size: %v", err)
	}

	for {
		msg := readServerMessage(ctx, t, conn)
		if msg.Type == TypeError {
			t.Fatalf("server error: %s", msg.Message)
		}
		if msg.Type != TypeSize {
			continue // sleep produces no output, but skip anything else
		}
		if msg.Rows != 50 || msg.Cols != 120 {
			t.Errorf("size = %dx%d, want 50x120", msg.Rows, msg.Cols)
		}
		break
	}

	closeMsg, _ := json.Marshal(ClientMessage{Type: TypeClose, Session: id})
	if err := conn.Write(ctx, websocket.MessageText, closeMsg); err != nil {
		t.Fatalf("write close: %v", err)
	}
}
