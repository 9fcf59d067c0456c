// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Server accepts connections and runs a Protocol on each of them.
// It serves raw TCP connections through Serve and WebSocket
// connections through ServeHTTP.
type Server struct {
	Addr          string          // TCP address to listen on, ":10111" if empty
	Handler       RequestHandler  // serves requests from every connection
	MaxConns      int             // maximum number of concurrent connections, 0 means no limit
	WriteTimeout  time.Duration   // per frame write timeout, DefaultWriteTimeout if zero
	Logger        *zerolog.Logger // DefaultLogger() if nil
	listeners     map[net.Listener]struct{}
	bytesWritten  int64
	bytesRead     int64
	mu            sync.Mutex
	serveErrorsMu sync.Mutex
	serveErrors   map[string]int
	connLimiter   chan struct{}
	doneChan      chan struct{}
	active        map[*Protocol]struct{}
	netLog        bool
}

// NewServer returns a Server that serves requests with handler.
func NewServer(addr string, handler RequestHandler) *Server {
	return &Server{
		Addr:    addr,
		Handler: handler,
		netLog:  defaultNetLogEnabled(),
	}
}

func (srv *Server) logger() zerolog.Logger {
	if srv.Logger != nil {
		return *srv.Logger
	}
	return DefaultLogger()
}

// tcpKeepAliveListener sets TCP keep-alive timeouts on accepted
// network connections, so dead peers eventually go away.
type tcpKeepAliveListener struct {
	*net.TCPListener
}

func (ln tcpKeepAliveListener) Accept() (c net.Conn, err error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return
	}
	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)
	return tc, nil
}

// Listen announces on the local network address.
func (srv *Server) Listen(address string) (net.Listener, error) {
	ln, err := net.Listen("tcp", address)
	if err == nil {
		srv.Addr = ln.Addr().String()
		ln = tcpKeepAliveListener{ln.(*net.TCPListener)}
	}
	return ln, errors.WithStack(err)
}

// DefaultListenAddr returns the default address:port to listen on.
func (srv *Server) DefaultListenAddr() string {
	return ":10111"
}

func (srv *Server) getListenAddr(addr string) string {
	if addr == "" {
		return srv.DefaultListenAddr()
	}
	return addr
}

// ListenAndServe listens on srv.Addr and then calls Serve.
func (srv *Server) ListenAndServe() (err error) {
	listener, err := srv.Listen(srv.getListenAddr(srv.Addr))
	if err == nil {
		err = srv.Serve(listener)
	}
	return
}

// Serve accepts connections on l and runs a Protocol on each until
// the Server is closed.
func (srv *Server) Serve(l net.Listener) error {
	defer l.Close()
	var tempDelay time.Duration // how long to sleep on accept failure

	if err := func() error {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		select {
		case <-srv.getDoneChanLocked():
			return errors.WithStack(ErrServerClosed{})
		default:
		}
		srv.trackListenerLocked(l, true)
		return nil
	}(); err != nil {
		return err
	}
	defer srv.trackListener(l, false)

	for {
		rwc, err := l.Accept()
		if err != nil {
			select {
			case <-srv.getDoneChan():
				return errors.WithStack(ErrServerClosed{})
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if max := 1 * time.Second; tempDelay > max {
					tempDelay = max
				}
				time.Sleep(tempDelay)
				continue
			}
			return errors.WithStack(err)
		}
		tempDelay = 0
		if !srv.acquireConn() {
			rwc.Close()
			continue
		}
		go srv.serveConn(rwc)
	}
}

// ServeHTTP upgrades the request to a WebSocket and serves it until
// the connection ends.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-srv.getDoneChan():
		http.Error(w, "server closed", http.StatusServiceUnavailable)
		return
	default:
	}
	conn, err := WebSocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.countServeError(err)
		return
	}
	if !srv.acquireConn() {
		conn.Close()
		return
	}
	srv.serveConn(NewWebSocketTransport(conn))
}

func (srv *Server) serveConn(rwc io.ReadWriteCloser) {
	defer srv.releaseConn()
	p := NewProtocol(rwc, srv.Handler)
	p.StatsCollector = srv
	if srv.WriteTimeout > 0 {
		p.WriteTimeout = srv.WriteTimeout
	}
	p.Logger = srv.logger().With().Uint32("protocol", p.serialNumber).Logger()
	srv.mu.Lock()
	p.NetLog(srv.netLog)
	srv.mu.Unlock()
	if !srv.trackProtocol(p, true) {
		p.Close()
		return
	}
	defer srv.trackProtocol(p, false)
	if err := p.Serve(); err != nil && !isClosedError(err) {
		srv.countServeError(err)
	}
}

func (srv *Server) countServeError(err error) {
	srv.serveErrorsMu.Lock()
	defer srv.serveErrorsMu.Unlock()
	if srv.serveErrors == nil {
		srv.serveErrors = make(map[string]int)
	}
	srv.serveErrors[err.Error()]++
	log := srv.logger()
	log.Debug().Err(err).Msg("serve error")
}

// NetLog enables or disables frame logging on current and future connections.
func (srv *Server) NetLog(state bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.netLog = state
	for p := range srv.active {
		p.NetLog(state)
	}
}

// ServeErrors returns a copy of the serve errors map
func (srv *Server) ServeErrors() map[string]int {
	srv.serveErrorsMu.Lock()
	defer srv.serveErrorsMu.Unlock()
	m := make(map[string]int)
	for k, v := range srv.serveErrors {
		m[k] = v
	}
	return m
}

func (srv *Server) trackListener(ln net.Listener, add bool) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.trackListenerLocked(ln, add)
}

func (srv *Server) trackListenerLocked(ln net.Listener, add bool) {
	if srv.listeners == nil {
		srv.listeners = make(map[net.Listener]struct{})
	}
	if add {
		// If the *Server is being reused after a previous
		// Close, reset its doneChan:
		if len(srv.listeners) == 0 && len(srv.active) == 0 {
			srv.doneChan = nil
		}
		srv.listeners[ln] = struct{}{}
	} else {
		delete(srv.listeners, ln)
	}
}

// trackProtocol returns false if adding to a closed Server.
func (srv *Server) trackProtocol(p *Protocol, add bool) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.active == nil {
		srv.active = make(map[*Protocol]struct{})
	}
	if !add {
		delete(srv.active, p)
		return true
	}
	select {
	case <-srv.getDoneChanLocked():
		return false
	default:
	}
	srv.active[p] = struct{}{}
	return true
}

func (srv *Server) getDoneChan() <-chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.getDoneChanLocked()
}

func (srv *Server) getDoneChanLocked() chan struct{} {
	if srv.doneChan == nil {
		srv.doneChan = make(chan struct{})
	}
	return srv.doneChan
}

func (srv *Server) closeDoneChanLocked() {
	ch := srv.getDoneChanLocked()
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (srv *Server) getConnLimiter() chan struct{} {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.connLimiter == nil && srv.MaxConns > 0 {
		srv.connLimiter = make(chan struct{}, srv.MaxConns)
	}
	return srv.connLimiter
}

// acquireConn waits for a free connection slot, or returns false if the Server closes.
func (srv *Server) acquireConn() bool {
	limiter := srv.getConnLimiter()
	if limiter == nil {
		return true
	}
	select {
	case limiter <- struct{}{}:
		return true
	case <-srv.getDoneChan():
		return false
	}
}

func (srv *Server) releaseConn() {
	if limiter := srv.getConnLimiter(); limiter != nil {
		<-limiter
	}
}

func (srv *Server) closeListenersLocked() error {
	var err error
	for ln := range srv.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil {
			err = cerr
		}
		delete(srv.listeners, ln)
	}
	return err
}

// Close immediately closes all listeners and connections.
func (srv *Server) Close() error {
	srv.mu.Lock()
	srv.closeDoneChanLocked()
	err := srv.closeListenersLocked()
	active := make([]*Protocol, 0, len(srv.active))
	for p := range srv.active {
		active = append(active, p)
	}
	srv.mu.Unlock()
	for _, p := range active {
		p.Close()
	}
	return err
}

// ActiveConns returns the number of connections being served.
func (srv *Server) ActiveConns() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.active)
}

// AddBytesWritten adds n to the number of bytes written statistic.
func (srv *Server) AddBytesWritten(n int64) {
	atomic.AddInt64(&srv.bytesWritten, n)
}

// BytesWritten returns the current number of bytes written.
func (srv *Server) BytesWritten() int64 {
	return atomic.LoadInt64(&srv.bytesWritten)
}

// AddBytesRead adds n to the number of bytes read statistic.
func (srv *Server) AddBytesRead(n int64) {
	atomic.AddInt64(&srv.bytesRead, n)
}

// BytesRead returns the current number of bytes read.
func (srv *Server) BytesRead() int64 {
	return atomic.LoadInt64(&srv.bytesRead)
}
