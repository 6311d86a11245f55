// Package hub exposes PTY sessions to websocket clients. Each connection
// owns the sessions it creates: output is pumped to the socket by one
// poller goroutine per session, and everything is torn down when the
// connection goes away.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"nhooyr.io/websocket"

	"github.com/user/ptyhost/internal/boundary"
	"github.com/user/ptyhost/internal/codec"
	"github.com/user/ptyhost/internal/history"
	"github.com/user/ptyhost/internal/session"
	"github.com/user/ptyhost/internal/stream"
)

// Recorder is the slice of history.Store the hub needs; nil disables
// recording.
type Recorder interface {
	Record(ctx context.Context, sessionID, kind, detail string) error
}

// Hub accepts websocket connections and drives sessions on their behalf.
type Hub struct {
	surf         *boundary.Surface
	token        string
	pollInterval time.Duration
	defaultSize  codec.Size
	recorder     Recorder
}

// New creates a Hub over the given surface. recorder may be nil.
func New(surf *boundary.Surface, token string, pollInterval time.Duration, defaultSize codec.Size, recorder Recorder) *Hub {
	return &Hub{
		surf:         surf,
		token:        token,
		pollInterval: pollInterval,
		defaultSize:  defaultSize,
		recorder:     recorder,
	}
}

// HandleWebSocket upgrades the request and serves it until the client goes
// away. Authentication is a token query parameter, matching how terminal
// attach URLs are shared.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || token != h.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("websocket accept error: %v", err)
		return
	}

	c := &conn{
		hub:      h,
		ws:       wsConn,
		send:     make(chan ServerMessage, 256),
		attached: make(map[string]*attached),
	}
	c.serve(r.Context())
}

// attached is one session driven on behalf of a connection.
type attached struct {
	sess   *session.Session
	cancel context.CancelFunc
}

type conn struct {
	hub  *Hub
	ws   *websocket.Conn
	send chan ServerMessage

	mu       sync.Mutex
	attached map[string]*attached
}

func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.closeAll()
	defer c.ws.Close(websocket.StatusNormalClosure, "")

	go c.writePump(ctx)

	c.ws.SetReadLimit(1 << 20)
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Printf("websocket read error: %v", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "invalid message format")
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *conn) dispatch(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case TypeCreate:
		c.handleCreate(ctx, msg)
	case TypeInput:
		c.handleInput(msg)
	case TypeResize:
		c.handleResize(ctx, msg)
	case TypeGetSize:
		c.handleGetSize(msg)
	case TypeClose:
		c.handleClose(ctx, msg.Session)
	default:
		c.sendError(msg.Session, "unknown message type: "+msg.Type)
	}
}

func (c *conn) handleCreate(ctx context.Context, msg ClientMessage) {
	argv, err := shellquote.Split(msg.Command)
	if err != nil {
		c.sendError("", fmt.Sprintf("invalid command: %v", err))
		return
	}
	if len(argv) == 0 {
		c.sendError("", "empty command")
		return
	}

	spec := codec.CommandSpec{
		Cmd:  argv[0],
		Args: argv[1:],
		Env:  msg.Env,
		Cwd:  msg.Cwd,
	}
	sess, err := session.Open(c.hub.surf, spec)
	if err != nil {
		c.sendError("", err.Error())
		return
	}

	size := c.hub.defaultSize
	if msg.Rows > 0 && msg.Cols > 0 {
		size = codec.Size{Rows: msg.Rows, Cols: msg.Cols}
	}
	if err := sess.Resize(size); err != nil {
		log.Printf("initial resize failed: %v", err)
	}

	id := uuid.NewString()
	pollCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.attached[id] = &attached{sess: sess, cancel: cancel}
	c.mu.Unlock()

	c.record(ctx, id, history.EventCreated, msg.Command)
	c.push(ServerMessage{Type: TypeCreated, Session: id, Rows: size.Rows, Cols: size.Cols})

	go c.pump(pollCtx, id, sess)
}

// pump forwards one session's output to the socket until the child exits,
// a read fails, or the poll context is canceled.
func (c *conn) pump(ctx context.Context, id string, sess *session.Session) {
	poller := stream.NewPoller(sess, c.hub.pollInterval)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for data := range poller.Output() {
			c.push(ServerMessage{Type: TypeOutput, Session: id, Data: string(data)})
		}
	}()

	err := poller.Run(ctx)
	<-done

	switch {
	case err == nil:
		code, _ := poller.ExitCode()
		c.record(context.Background(), id, history.EventExited, fmt.Sprintf("exit_code=%d", code))
		c.push(ServerMessage{Type: TypeExited, Session: id, ExitCode: code})
	case ctx.Err() != nil:
		// Detached: session closed by the client or connection teardown.
	default:
		c.sendError(id, err.Error())
	}
}

func (c *conn) handleInput(msg ClientMessage) {
	a, ok := c.lookup(msg.Session)
	if !ok {
		c.sendError(msg.Session, "unknown session")
		return
	}
	if err := a.sess.Write(msg.Data); err != nil {
		c.sendError(msg.Session, err.Error())
	}
}

func (c *conn) handleResize(ctx context.Context, msg ClientMessage) {
	a, ok := c.lookup(msg.Session)
	if !ok {
		c.sendError(msg.Session, "unknown session")
		return
	}
	size := codec.Size{Rows: msg.Rows, Cols: msg.Cols}
	if err := a.sess.Resize(size); err != nil {
		c.sendError(msg.Session, err.Error())
		return
	}
	c.record(ctx, msg.Session, history.EventResized, fmt.Sprintf("rows=%d cols=%d", msg.Rows, msg.Cols))
}

func (c *conn) handleGetSize(msg ClientMessage) {
	a, ok := c.lookup(msg.Session)
	if !ok {
		c.sendError(msg.Session, "unknown session")
		return
	}
	size, err := a.sess.Size()
	if err != nil {
		c.sendError(msg.Session, err.Error())
		return
	}
	c.push(ServerMessage{Type: TypeSize, Session: msg.Session, Rows: size.Rows, Cols: size.Cols})
}

func (c *conn) handleClose(ctx context.Context, id string) {
	c.mu.Lock()
	a, ok := c.attached[id]
	if ok {
		delete(c.attached, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	a.cancel()
	a.sess.Close()
	c.record(ctx, id, history.EventClosed, "")
}

func (c *conn) closeAll() {
	c.mu.Lock()
	all := c.attached
	c.attached = make(map[string]*attached)
	c.mu.Unlock()

	for id, a := range all {
		a.cancel()
		a.sess.Close()
		c.record(context.Background(), id, history.EventClosed, "connection closed")
	}
}

func (c *conn) lookup(id string) (*attached, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.attached[id]
	return a, ok
}

func (c *conn) record(ctx context.Context, id, kind, detail string) {
	if c.hub.recorder == nil {
		return
	}
	if err := c.hub.recorder.Record(ctx, id, kind, detail); err != nil {
		log.Printf("history record failed: %v", err)
	}
}

func (c *conn) push(msg ServerMessage) {
	select {
	case c.send <- msg:
	default:
		log.Printf("send buffer full, dropping %s message for session %s", msg.Type, msg.Session)
	}
}

func (c *conn) sendError(sessionID, message string) {
	c.push(ServerMessage{Type: TypeError, Session: sessionID, Message: message})
}

func (c *conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.Ping(ctx); err != nil {
				return
			}
		case msg := <-c.send:
			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("marshal server message: %v", err)
				continue
			}
			if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
