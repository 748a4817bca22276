package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// WSConn is the subset of *websocket.Conn the hub needs. Tests substitute a
// pipe-backed fake.
type WSConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Envelope is the frame format both directions of the capture socket speak.
//
// Server to client:
//
//	{"type":"start","data":{"kind":"audio"}}   begin streaming chunks
//	{"type":"frame"}                           send one still frame
//	{"type":"stop"}                            end the session
//
// Client to server:
//
//	{"type":"ready","data":{"mimeType":"audio/webm"}}
//	{"type":"denied"}                          user refused device access
//	{"type":"chunk","data":{"data":"<base64>"}}
//	{"type":"eof"}                             client-side stop
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

type startPayload struct {
	Kind string `json:"kind"`
}

type readyPayload struct {
	MIMEType string `json:"mimeType"`
}

type chunkPayload struct {
	Data []byte `json:"data"`
}

type wsEvent struct {
	kind string // "ready", "denied", "chunk", "eof"
	mime string
	data []byte
}

// Hub tracks the live capture socket of each user. A user has at most one;
// a newer connection replaces the previous one.
type Hub struct {
	mu    sync.Mutex
	conns map[string]*wsConn
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]*wsConn)}
}

// Serve pumps one user's capture socket until it closes. It blocks, so the
// HTTP handler calls it as the tail of the upgrade request.
func (h *Hub) Serve(userID string, ws WSConn) {
	conn := &wsConn{
		ws:     ws,
		events: make(chan wsEvent, 64),
		closed: make(chan struct{}),
	}

	h.mu.Lock()
	if prev, ok := h.conns[userID]; ok {
		prev.shutdown()
	}
	h.conns[userID] = conn
	h.mu.Unlock()

	log.Printf("[media] capture socket connected user=%s", userID)
	conn.readPump()

	h.mu.Lock()
	if h.conns[userID] == conn {
		delete(h.conns, userID)
	}
	h.mu.Unlock()
	log.Printf("[media] capture socket closed user=%s", userID)
}

// DeviceFor returns the Device view of one user's capture socket. The handle
// stays valid across reconnects; each Acquire resolves the current socket.
func (h *Hub) DeviceFor(userID string) Device {
	return &deviceHandle{hub: h, userID: userID}
}

func (h *Hub) lookup(userID string) *wsConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conns[userID]
}

type deviceHandle struct {
	hub    *Hub
	userID string
}

func (d *deviceHandle) Acquire(ctx context.Context, kind Kind) (Stream, error) {
	conn := d.hub.lookup(d.userID)
	if conn == nil {
		return nil, fmt.Errorf("no capture socket for user %s: %w", d.userID, ErrPermissionDenied)
	}
	return conn.acquire(ctx, kind)
}

// wsConn wraps one live socket. The browser end owns the actual microphone
// and camera; acquire asks it to start and waits for its ready/denied answer.
type wsConn struct {
	ws      WSConn
	writeMu sync.Mutex

	events chan wsEvent
	closed chan struct{}

	sessionMu sync.Mutex
	active    bool
}

func (c *wsConn) readPump() {
	for {
		var msg Envelope
		if err := c.ws.ReadJSON(&msg); err != nil {
			c.shutdown()
			return
		}

		ev, ok := c.decode(msg)
		if !ok {
			continue
		}
		select {
		case c.events <- ev:
		case <-c.closed:
			return
		default:
			// The consumer fell behind; dropping a chunk beats blocking the
			// socket read loop.
			log.Printf("[media] dropping capture event type=%s", ev.kind)
		}
	}
}

func (c *wsConn) decode(msg Envelope) (wsEvent, bool) {
	switch msg.Type {
	case "ready":
		var p readyPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			log.Printf("[media] bad ready payload: %v", err)
			return wsEvent{}, false
		}
		return wsEvent{kind: "ready", mime: p.MIMEType}, true
	case "denied":
		return wsEvent{kind: "denied"}, true
	case "chunk":
		var p chunkPayload
		if err := json.Unmarshal(msg.Data, &p); err != nil {
			log.Printf("[media] bad chunk payload: %v", err)
			return wsEvent{}, false
		}
		return wsEvent{kind: "chunk", data: p.Data}, true
	case "eof":
		return wsEvent{kind: "eof"}, true
	default:
		log.Printf("[media] ignoring capture message type=%q", msg.Type)
		return wsEvent{}, false
	}
}

func (c *wsConn) shutdown() {
	c.sessionMu.Lock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	c.sessionMu.Unlock()
	if err := c.ws.Close(); err != nil {
		log.Printf("[media] close capture socket: %v", err)
	}
}

func (c *wsConn) send(msgType string, data any) error {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return err
		}
		raw = b
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(Envelope{Type: msgType, Data: raw, Timestamp: time.Now().Unix()})
}

// acquire starts one capture session on the socket and waits for the browser
// to confirm device access.
func (c *wsConn) acquire(ctx context.Context, kind Kind) (Stream, error) {
	c.sessionMu.Lock()
	if c.active {
		c.sessionMu.Unlock()
		return nil, ErrCaptureBusy
	}
	c.active = true
	c.sessionMu.Unlock()

	// Discard events left over from a previous session.
	for {
		select {
		case <-c.events:
			continue
		default:
		}
		break
	}

	if err := c.send("start", startPayload{Kind: kind.String()}); err != nil {
		c.release()
		return nil, fmt.Errorf("start capture: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			c.release()
			return nil, ctx.Err()
		case <-c.closed:
			c.release()
			return nil, errors.New("media: capture socket closed")
		case ev := <-c.events:
			switch ev.kind {
			case "ready":
				return &wsStream{conn: c, mime: ev.mime}, nil
			case "denied":
				c.release()
				return nil, ErrPermissionDenied
			}
			// Stale chunk or eof from before the start; keep waiting.
		}
	}
}

func (c *wsConn) release() {
	c.sessionMu.Lock()
	c.active = false
	c.sessionMu.Unlock()
}

type wsStream struct {
	conn *wsConn
	mime string
}

func (s *wsStream) NextChunk(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.conn.closed:
			return nil, io.EOF
		case ev := <-s.conn.events:
			switch ev.kind {
			case "chunk":
				return ev.data, nil
			case "eof":
				return nil, io.EOF
			}
		}
	}
}

func (s *wsStream) StillFrame(ctx context.Context) ([]byte, error) {
	if err := s.conn.send("frame", nil); err != nil {
		return nil, fmt.Errorf("request frame: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.conn.closed:
			return nil, io.EOF
		case ev := <-s.conn.events:
			if ev.kind == "chunk" {
				return ev.data, nil
			}
		}
	}
}

func (s *wsStream) MIMEType() string {
	if s.mime == "" {
		return "application/octet-stream"
	}
	return s.mime
}

func (s *wsStream) Close() error {
	err := s.conn.send("stop", nil)
	s.conn.release()
	return err
}
