// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Client dials a Server and sends requests over one Protocol, dialing
// again if the connection goes away.
type Client struct {
	URL          string          // ws://, wss:// or tcp:// address of the server
	DialTimeout  time.Duration   // dialing timeout
	WriteTimeout time.Duration   // per frame write timeout, DefaultWriteTimeout if zero
	Handler      RequestHandler  // serves requests sent by the server (optional)
	Logger       *zerolog.Logger // DefaultLogger() if nil
	mu           sync.Mutex      // protects those below
	proto        *Protocol
	lastError    error
	lastAttempt  time.Time
	firstAttempt time.Time
	closed       bool
}

// NewClient returns a Client for the server at rawurl. No connection is
// made until the first request.
func NewClient(rawurl string, handler RequestHandler) *Client {
	return &Client{
		URL:         rawurl,
		DialTimeout: time.Second * 60,
		Handler:     handler,
	}
}

func (c *Client) logger() zerolog.Logger {
	if c.Logger != nil {
		return *c.Logger
	}
	return DefaultLogger()
}

// Close closes the current connection. The Client can not be used afterwards.
func (c *Client) Close() (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.proto != nil {
		err = c.proto.Close()
		c.proto = nil
	}
	return
}

func (c *Client) dialTransport(ctx context.Context) (io.ReadWriteCloser, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	switch u.Scheme {
	case "ws", "wss":
		conn, _, err := WebSocketDialer.DialContext(ctx, c.URL, nil)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return NewWebSocketTransport(conn), nil
	case "tcp":
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		return conn, errors.WithStack(err)
	}
	return nil, errors.Errorf("unsupported scheme %q", u.Scheme)
}

// dialLocked connects to the server.
// Must run with the mutex locked.
func (c *Client) dialLocked(ctx context.Context) (*Protocol, error) {
	if c.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.DialTimeout)
		defer cancel()
	}
	rwc, err := c.dialTransport(ctx)
	if err != nil {
		c.lastError = err
		c.lastAttempt = time.Now()
		if c.firstAttempt.IsZero() {
			c.firstAttempt = c.lastAttempt
		}
		return nil, c.offlineError()
	}
	c.lastError = nil
	c.lastAttempt = time.Time{}
	c.firstAttempt = time.Time{}
	p := NewProtocol(rwc, c.Handler)
	p.Logger = c.logger().With().Str("url", c.URL).Uint32("protocol", p.serialNumber).Logger()
	if c.WriteTimeout > 0 {
		p.WriteTimeout = c.WriteTimeout
	}
	p.Start()
	return p, nil
}

func (c *Client) offlineError() (err error) {
	if err = c.lastError; err == nil {
		err = errors.New("server unresponsive")
	}
	if c.firstAttempt != c.lastAttempt {
		err = errors.Wrap(err, fmt.Sprintf("no connection for %v", time.Since(c.firstAttempt)))
	}
	return
}

// Protocol returns the connected Protocol, dialing if needed.
func (c *Client) Protocol(ctx context.Context) (*Protocol, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.WithStack(ErrClosed{})
	}
	if c.proto != nil && !c.proto.isClosed() {
		return c.proto, nil
	}
	p, err := c.dialLocked(ctx)
	if err != nil {
		return nil, err
	}
	c.proto = p
	return p, nil
}

// SendRequest sends req to the server and waits for the response.
// Requests are not retried.
func (c *Client) SendRequest(ctx context.Context, req *Request) (*ReceiveResponse, error) {
	p, err := c.Protocol(ctx)
	if err != nil {
		return nil, err
	}
	return p.SendRequest(ctx, req)
}
