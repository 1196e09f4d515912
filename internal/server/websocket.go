// Package server implements the preview server: the session shell page,
// preview documents, module handles, the editing API and generation pushes.
package server

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zot/uigen/internal/config"
	"github.com/zot/uigen/internal/pipeline"
	"github.com/zot/uigen/internal/protocol"
	"github.com/zot/uigen/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 30 * time.Second
	pongWait       = pingPeriod * 2
	maxMessageSize = 16 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// connection is one websocket client of a session. Only writePump writes
// to conn.
type connection struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	batcher   *protocol.MessageBatcher
	done      chan struct{}
}

// WebSocketEndpoint handles WebSocket connections.
type WebSocketEndpoint struct {
	config      *config.Config
	connections map[string]*connection // connectionID -> connection
	sessions    *session.Manager
	handler     *protocol.Handler
	mu          sync.RWMutex
}

// NewWebSocketEndpoint creates a new WebSocket endpoint.
func NewWebSocketEndpoint(cfg *config.Config, sessions *session.Manager, handler *protocol.Handler) *WebSocketEndpoint {
	return &WebSocketEndpoint{
		config:      cfg,
		connections: make(map[string]*connection),
		sessions:    sessions,
		handler:     handler,
	}
}

// Log logs a message via the config.
func (ws *WebSocketEndpoint) Log(level int, format string, args ...interface{}) {
	ws.config.Log(level, format, args...)
}

// PreviewURL is where the shell loads the document of generation seq.
func PreviewURL(sessionID string, seq uint64) string {
	return "/" + sessionID + "/preview?seq=" + strconv.FormatUint(seq, 10)
}

// HandleWebSocket upgrades the request and binds the connection to sess.
// The latest generation, if any, is pushed immediately.
func (ws *WebSocketEndpoint) HandleWebSocket(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.Log(0, "WebSocket upgrade failed: %v", err)
		return
	}

	c := &connection{
		id:        generateConnectionID(),
		sessionID: sess.ID,
		conn:      conn,
		batcher:   protocol.NewMessageBatcher(),
		done:      make(chan struct{}),
	}

	ws.mu.Lock()
	ws.connections[c.id] = c
	ws.mu.Unlock()

	ws.Log(1, "WebSocket connected: session=%s conn=%s", sess.ID, c.id)

	sess.AddConnection(c.id, func(res *pipeline.Result) {
		if err := c.batcher.QueueGeneration(protocol.Generation(res, PreviewURL(sess.ID, res.Seq))); err != nil {
			ws.Log(0, "Failed to queue generation %d: %v", res.Seq, err)
		}
	})

	go ws.writePump(c)
	go ws.readPump(c, sess)
}

// readPump reads command batches from a connection and queues one
// response per command.
func (ws *WebSocketEndpoint) readPump(c *connection, sess *session.Session) {
	defer func() {
		ws.onDisconnect(c, sess)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				ws.Log(0, "WebSocket error: %v", err)
			}
			return
		}
		sess.Touch()
		ws.processMessage(c, sess, message)
	}
}

// processMessage runs one frame, which may hold a single command, an array
// or an atomic batch.
func (ws *WebSocketEndpoint) processMessage(c *connection, sess *session.Session, message []byte) {
	ws.Log(4, "[IN] conn=%s data=%s", c.id, message)

	msgs, atomic, err := protocol.ParseMessages(message)
	if err != nil {
		ws.Log(0, "Failed to parse message: %v", err)
		c.batcher.QueueError(protocol.CodeBadRequest, err.Error())
		return
	}
	for _, resp := range ws.handler.Handle(sess.Project(), msgs, atomic) {
		if err := c.batcher.QueueResponse(resp); err != nil {
			ws.Log(0, "Failed to queue response %d: %v", resp.ID, err)
			c.batcher.QueueError(protocol.CodeInternal, err.Error())
		}
	}
}

// writePump writes queued frames and keeps the connection alive.
func (ws *WebSocketEndpoint) writePump(c *connection) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.batcher.Ready():
			for _, frame := range c.batcher.Flush() {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					ws.Log(1, "WebSocket write failed: conn=%s: %v", c.id, err)
					c.conn.Close()
					return
				}
				ws.Log(2, "[OUT] conn=%s bytes=%d", c.id, len(frame))
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// onDisconnect handles connection close.
func (ws *WebSocketEndpoint) onDisconnect(c *connection, sess *session.Session) {
	ws.mu.Lock()
	delete(ws.connections, c.id)
	ws.mu.Unlock()
	close(c.done)

	ws.Log(1, "WebSocket disconnected: session=%s conn=%s", c.sessionID, c.id)
	sess.RemoveConnection(c.id)
}

// IsConnected checks if a connection is active.
func (ws *WebSocketEndpoint) IsConnected(connectionID string) bool {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	_, ok := ws.connections[connectionID]
	return ok
}

// GetSessionIDForConnection returns the session ID for a connection.
// Returns empty string if connection is not found.
func (ws *WebSocketEndpoint) GetSessionIDForConnection(connectionID string) string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	if c, ok := ws.connections[connectionID]; ok {
		return c.sessionID
	}
	return ""
}

// Count returns the number of open connections.
func (ws *WebSocketEndpoint) Count() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.connections)
}

func generateConnectionID() string {
	bytes := make([]byte, 16)
	rand.Read(bytes)
	return "conn-" + hex.EncodeToString(bytes)
}
