// Package transport is the duplex socket boundary §1 treats as an external
// message source/sink: connection accept, heartbeat, and JSON/binary
// framing. It owns no Room or wire-protocol semantics of its own — every
// inbound text frame is handed to the Session Dispatcher verbatim, and
// every outbound frame is whatever the dispatcher or Room already encoded.
// Grounded on the teacher's transport.Client read/write pump pair,
// generalized from a single binary proto framing to KasagiEngine's
// JSON-control/binary-data split (§6).
package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teeban10/kasagi-main/internal/v1/dispatcher"
)

// errSendQueueFull is returned by SendJSON/SendBinary when the connection's
// outbound buffer is saturated; the caller already logs and moves on.
var errSendQueueFull = errors.New("transport: send queue full")

const (
	writeWait = 10 * time.Second
	// pongWait covers §5's 30s ping interval plus its 10s pong grace.
	pongWait       = 40 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 64 * 1024
)

// wsConn is the subset of *websocket.Conn the pump goroutines use, narrowed
// for testability the way the teacher's wsConnection interface is.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

type frame struct {
	binary bool
	data   []byte
}

// Client is one accepted socket's read/write pump pair. It satisfies
// dispatcher.Conn so the Session Dispatcher can address it without knowing
// it is backed by a WebSocket.
type Client struct {
	conn wsConn
	send chan frame
}

// NewClient wraps conn with a buffered outbound queue. Call Run to start
// both pumps; Run blocks until the connection closes.
func NewClient(conn wsConn) *Client {
	return &Client{conn: conn, send: make(chan frame, 64)}
}

var _ dispatcher.Conn = (*Client)(nil)

// SendJSON satisfies dispatcher.Conn, queuing a JSON text control frame.
func (c *Client) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.enqueue(frame{binary: false, data: data})
}

// SendBinary satisfies dispatcher.Conn, queuing a binary data frame
// (snapshot or delta).
func (c *Client) SendBinary(b []byte) error {
	return c.enqueue(frame{binary: true, data: b})
}

// enqueue drops the frame rather than blocking when the outbound queue is
// full: §4.4 specifies no per-client backpressure or retry, only the
// socket's own OS buffer.
func (c *Client) enqueue(f frame) error {
	select {
	case c.send <- f:
		return nil
	default:
		return errSendQueueFull
	}
}

// Run starts the read and write pumps on the calling and a background
// goroutine respectively, blocking until the connection closes. onMessage
// is invoked for every inbound text frame; onClose runs exactly once on
// exit, after both pumps have stopped.
func (c *Client) Run(onMessage func([]byte), onClose func()) {
	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(done)
	}()

	c.readPump(onMessage)
	close(done)
	<-writerDone

	if onClose != nil {
		onClose()
	}
}

func (c *Client) readPump(onMessage func([]byte)) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		onMessage(data)
	}
}

func (c *Client) writePump(done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				c.writeDeadlined(websocket.CloseMessage, nil)
				return
			}
			mt := websocket.TextMessage
			if f.binary {
				mt = websocket.BinaryMessage
			}
			if err := c.writeDeadlined(mt, f.data); err != nil {
				slog.Warn("transport: write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.writeDeadlined(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *Client) writeDeadlined(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}
