// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// WebSocketUpgrader is used by UpgradeWebSocket and Server.ServeHTTP.
var WebSocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// WebSocketDialer is used by DialWebSocket.
var WebSocketDialer = &websocket.Dialer{
	Proxy:            http.ProxyFromEnvironment,
	HandshakeTimeout: 45 * time.Second,
	ReadBufferSize:   64 * 1024,
	WriteBufferSize:  64 * 1024,
}

// WebSocketTransport presents a WebSocket connection as a byte stream.
// Every Write is sent as one binary message, and the payloads of
// received messages are read back to back.
type WebSocketTransport struct {
	conn      *websocket.Conn
	rmu       sync.Mutex
	reader    io.Reader
	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketTransport wraps conn.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	return &WebSocketTransport{conn: conn}
}

// Conn returns the underlying connection.
func (t *WebSocketTransport) Conn() *websocket.Conn {
	return t.conn
}

func (t *WebSocketTransport) Read(p []byte) (n int, err error) {
	t.rmu.Lock()
	defer t.rmu.Unlock()
	for {
		if t.reader == nil {
			var r io.Reader
			if _, r, err = t.conn.NextReader(); err != nil {
				return 0, webSocketError(err)
			}
			t.reader = r
		}
		n, err = t.reader.Read(p)
		if err == io.EOF {
			t.reader = nil
			if n == 0 {
				continue
			}
			err = nil
		}
		return
	}
}

func (t *WebSocketTransport) Write(p []byte) (int, error) {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, webSocketError(err)
	}
	return len(p), nil
}

// SetWriteDeadline sets the deadline for future writes.
func (t *WebSocketTransport) SetWriteDeadline(tm time.Time) error {
	return t.conn.SetWriteDeadline(tm)
}

// Close sends a close message and closes the connection.
func (t *WebSocketTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// webSocketError maps orderly close messages to io.EOF.
func webSocketError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	if err == websocket.ErrCloseSent {
		return io.ErrClosedPipe
	}
	return errors.WithStack(err)
}

// UpgradeWebSocket upgrades the HTTP request to a WebSocket and returns
// a Protocol on it. The Protocol is not started.
func UpgradeWebSocket(w http.ResponseWriter, r *http.Request, handler RequestHandler) (*Protocol, error) {
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return NewProtocol(NewWebSocketTransport(conn), handler), nil
}

// DialWebSocket connects to a ws:// or wss:// URL and returns a started Protocol.
func DialWebSocket(ctx context.Context, url string, handler RequestHandler) (*Protocol, error) {
	conn, _, err := WebSocketDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	p := NewProtocol(NewWebSocketTransport(conn), handler)
	p.Start()
	return p, nil
}
