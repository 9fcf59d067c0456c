package streaming

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func Test_WebSocket_Transport(t *testing.T) {
	defer leaktest.Check(t)()
	received := make(chan []byte, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		tr := NewWebSocketTransport(conn)
		defer tr.Close()
		b, err := io.ReadAll(tr)
		assert.NoError(t, err)
		received <- b
	}))
	defer ts.Close()

	conn, _, err := WebSocketDialer.Dial(wsURL(ts), nil)
	require.NoError(t, err)
	tr := NewWebSocketTransport(conn)
	assert.Equal(t, conn, tr.Conn())
	assert.NoError(t, tr.SetWriteDeadline(time.Now().Add(time.Second)))

	// message boundaries are not visible to the reader
	var want bytes.Buffer
	for _, part := range []string{"first", "", "second", strings.Repeat("x", 100000)} {
		n, err := tr.Write([]byte(part))
		assert.NoError(t, err)
		assert.Equal(t, len(part), n)
		want.WriteString(part)
	}
	assert.NoError(t, tr.Close())
	assert.NoError(t, tr.Close())

	select {
	case b := <-received:
		assert.Equal(t, want.Bytes(), b)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}

	_, err = tr.Write([]byte("closed"))
	assert.Error(t, err)
}

func Test_WebSocket_Error(t *testing.T) {
	assert.Equal(t, io.EOF, webSocketError(&websocket.CloseError{Code: websocket.CloseNormalClosure}))
	assert.Equal(t, io.EOF, webSocketError(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.Equal(t, io.ErrClosedPipe, webSocketError(websocket.ErrCloseSent))
	ce := &websocket.CloseError{Code: websocket.CloseProtocolError}
	assert.Equal(t, ce, errors.Cause(webSocketError(ce)))
}

func Test_WebSocket_Server(t *testing.T) {
	defer leaktest.Check(t)()
	srv := NewServer("", echoHandler{})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	p, err := DialWebSocket(context.Background(), wsURL(ts), nil)
	require.NoError(t, err)

	data := randomBytes(5*MaxPayloadLength + 3)
	resp, err := p.SendRequest(context.Background(), NewRequest("PUT", "/echo", NewBytesContent("", data)))
	require.NoError(t, err)
	got, err := resp.Streams[0].ReadAll(context.Background())
	assert.NoError(t, err)
	assert.True(t, bytes.Equal(data, got))
	assert.Equal(t, 1, srv.ActiveConns())

	assert.NoError(t, p.Close())
	assert.Eventually(t, func() bool { return srv.ActiveConns() == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, srv.ServeErrors())
}

func Test_WebSocket_Client(t *testing.T) {
	defer leaktest.Check(t)()
	srv := NewServer("", echoHandler{})
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.Close()

	c := NewClient(wsURL(ts), nil)
	defer c.Close()
	resp, err := c.SendRequest(context.Background(), NewRequest("GET", "/api/messages"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Cancel()
}

func Test_WebSocket_Upgrade(t *testing.T) {
	defer leaktest.Check(t)()
	done := make(chan error, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := UpgradeWebSocket(w, r, echoHandler{})
		if !assert.NoError(t, err) {
			return
		}
		done <- p.Serve()
	}))
	defer ts.Close()

	p, err := DialWebSocket(context.Background(), wsURL(ts), nil)
	require.NoError(t, err)
	resp, err := p.SendRequest(context.Background(), NewRequest("GET", "/api/messages"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Cancel()

	p.Close()
	assert.Equal(t, ErrPeerDisconnected{}, errors.Cause(<-done))
}

func Test_WebSocket_NotUpgradable(t *testing.T) {
	srv := NewServer("", echoHandler{})
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 1, len(srv.ServeErrors()))

	srv.Close()
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	_, err := DialWebSocket(context.Background(), "ws://127.0.0.1:1/", nil)
	assert.Error(t, err)
}
