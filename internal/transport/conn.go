// Package transport carries sessions over websockets and serves the HTTP
// surface of the server.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/danieljhkim/deltaserve/internal/protocol"
)

type received struct {
	msg protocol.Message
	err error
}

// Conn is a session connection over one websocket. Every protocol message
// travels as one text frame holding its JSON encoding.
type Conn struct {
	ws           *websocket.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	incoming chan received
	done     chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewConn starts reading from ws. A zero timeout disables that deadline.
func NewConn(ws *websocket.Conn, readTimeout, writeTimeout time.Duration) *Conn {
	c := &Conn{
		ws:           ws,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
		incoming:     make(chan received),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *Conn) readLoop() {
	defer close(c.incoming)
	for {
		if c.readTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		}
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = io.EOF
			}
			c.deliver(received{err: err})
			return
		}

		var r received
		switch messageType {
		case websocket.TextMessage:
			if err := json.Unmarshal(data, &r.msg); err != nil {
				r.err = fmt.Errorf("%w: %w", protocol.ErrMalformed, err)
			}
		default:
			r.err = fmt.Errorf("%w: unexpected websocket message type %d", protocol.ErrMalformed, messageType)
		}
		if !c.deliver(r) || r.err != nil {
			return
		}
	}
}

func (c *Conn) deliver(r received) bool {
	select {
	case c.incoming <- r:
		return true
	case <-c.done:
		return false
	}
}

// Receive returns the next message. A client that closed the connection
// yields io.EOF.
func (c *Conn) Receive(ctx context.Context) (protocol.Message, error) {
	select {
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case r, ok := <-c.incoming:
		if !ok {
			return protocol.Message{}, io.EOF
		}
		return r.msg, r.err
	}
}

// Send writes msg as one text frame.
func (c *Conn) Send(ctx context.Context, msg protocol.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.ws.WriteJSON(msg)
}

// Close sends a close frame and releases the connection.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		deadline := time.Now().Add(time.Second)
		closeErr := c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		if closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
			glog.V(2).Infof("transport: close frame: %v", closeErr)
		}
		err = c.ws.Close()
	})
	return err
}
