package streaming

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const srvAddr = "127.0.0.1:0"

type srvTester struct {
	t         *testing.T
	isClosed  bool
	srv       *Server
	serveDone chan struct{}
	serveErr  error
}

func newSrvTester(t *testing.T, setup ...func(srv *Server)) *srvTester {
	st := &srvTester{
		t:         t,
		srv:       NewServer(srvAddr, echoHandler{}),
		serveDone: make(chan struct{}),
	}
	for _, fn := range setup {
		fn(st.srv)
	}
	ln, lnerr := st.srv.Listen(srvAddr)
	require.NoError(t, lnerr)
	require.NotNil(t, ln)
	go st.Serve(ln)
	return st
}

func (st *srvTester) Serve(ln net.Listener) {
	st.serveErr = st.srv.Serve(ln)
	assert.Equal(st.t, ErrServerClosed{}, errors.Cause(st.serveErr))
	close(st.serveDone)
}

func (st *srvTester) URL() string {
	return "tcp://" + st.srv.Addr
}

func (st *srvTester) Close() {
	if !st.isClosed {
		st.isClosed = true
		assert.NoError(st.t, st.srv.Close())
		select {
		case <-st.serveDone:
		case <-time.After(5 * time.Second):
			st.t.Error("timeout waiting for server to stop")
		}
	}
}

func Test_Server_simple(t *testing.T) {
	defer leaktest.Check(t)()
	st := newSrvTester(t)
	st.Close()
	err := st.srv.Serve(&net.TCPListener{})
	assert.Equal(t, ErrServerClosed{}, errors.Cause(err))
}

func Test_Server_support_functions(t *testing.T) {
	st := newSrvTester(t)
	defer st.Close()
	em := st.srv.ServeErrors()
	assert.NotNil(t, em)
	assert.Zero(t, st.srv.ActiveConns())
	assert.Zero(t, st.srv.BytesWritten())
	assert.Zero(t, st.srv.BytesRead())
	st.srv.AddBytesRead(1)
	st.srv.AddBytesWritten(2)
	assert.Equal(t, int64(1), st.srv.BytesRead())
	assert.Equal(t, int64(2), st.srv.BytesWritten())
	assert.Equal(t, ":10111", st.srv.DefaultListenAddr())
}

func Test_Server_TCP(t *testing.T) {
	defer leaktest.Check(t)()
	st := newSrvTester(t)
	defer st.Close()

	c := NewClient(st.URL(), nil)
	c.DialTimeout = time.Second
	defer c.Close()

	resp, err := c.SendRequest(context.Background(), NewRequest("GET", "/api/messages"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	s, err := resp.Streams[0].ReadAsString(context.Background())
	assert.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, s)

	assert.Equal(t, 1, st.srv.ActiveConns())
	assert.True(t, st.srv.BytesRead() > 0)
	assert.True(t, st.srv.BytesWritten() > 0)
	st.srv.NetLog(true)

	assert.NoError(t, c.Close())
	assert.Eventually(t, func() bool { return st.srv.ActiveConns() == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, st.srv.ServeErrors())
}

func Test_Server_CloseDisconnectsClients(t *testing.T) {
	defer leaktest.Check(t)()
	st := newSrvTester(t)
	c := NewClient(st.URL(), nil)
	c.DialTimeout = time.Second
	defer c.Close()

	p, err := c.Protocol(context.Background())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return st.srv.ActiveConns() == 1 }, time.Second, time.Millisecond)

	st.Close()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client not disconnected")
	}
	assert.Equal(t, ErrPeerDisconnected{}, errors.Cause(p.Err()))
	_, err = c.SendRequest(context.Background(), NewRequest("GET", "/"))
	assert.Error(t, err)
}

func Test_Server_MaxConns(t *testing.T) {
	defer leaktest.Check(t)()
	st := newSrvTester(t, func(srv *Server) { srv.MaxConns = 1 })
	defer st.Close()

	c1 := NewClient(st.URL(), nil)
	defer c1.Close()
	_, err := c1.SendRequest(context.Background(), NewRequest("GET", "/api/messages"))
	require.NoError(t, err)

	c2 := NewClient(st.URL(), nil)
	defer c2.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c2.SendRequest(ctx, NewRequest("GET", "/api/messages"))
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
	assert.Equal(t, 1, st.srv.ActiveConns())

	assert.NoError(t, c1.Close())
	resp, err := c2.SendRequest(context.Background(), NewRequest("GET", "/api/messages"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Cancel()
}
