// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// StatsCollector is the interface required to collect statistics
type StatsCollector interface {
	AddBytesWritten(int64)
	AddBytesRead(int64)
}

// Protocol runs the request/response protocol over one transport.
// Both ends may send requests and serve them.
type Protocol struct {
	io.ReadWriteCloser                // The transport
	StatsCollector                    // Where to report statistics (optional)
	Handler            RequestHandler // Serves inbound requests (optional)
	Logger             zerolog.Logger
	WriteTimeout       time.Duration // per frame, if the transport has SetWriteDeadline
	OnDisconnect       func(p *Protocol, err error)
	OnProtocolError    func(p *Protocol, err error)

	sender     *payloadSender
	receiver   *payloadReceiver
	assemblers *payloadAssemblerManager
	streams    *streamManager
	requests   *RequestManager

	mu             sync.Mutex
	producers      map[uuid.UUID]chan struct{}
	doneChan       chan struct{}
	ctx            context.Context
	cancel         context.CancelFunc
	disconnectOnce sync.Once
	disconnectErr  error
	serving        int32
	protocolErrors int64
	netLog         int32
	serialNumber   uint32
}

var protocolNextSerialNumber uint32

// NewProtocol creates a Protocol on the transport rwc. Call Serve or
// Start to begin exchanging frames.
func NewProtocol(rwc io.ReadWriteCloser, handler RequestHandler) *Protocol {
	p := &Protocol{
		ReadWriteCloser: rwc,
		Handler:         handler,
		WriteTimeout:    DefaultWriteTimeout,
		producers:       make(map[uuid.UUID]chan struct{}),
		doneChan:        make(chan struct{}),
		requests:        NewRequestManager(),
		sender:          newPayloadSender(DefaultSendQueueSize),
		serialNumber:    atomic.AddUint32(&protocolNextSerialNumber, 1),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.streams = newStreamManager(p.sendCancelStream)
	p.assemblers = newPayloadAssemblerManager(p.streams, p)
	p.receiver = newPayloadReceiver(p.assemblers)
	p.Logger = DefaultLogger().With().Uint32("protocol", p.serialNumber).Logger()
	p.NetLog(defaultNetLogEnabled())
	return p
}

func (p *Protocol) String() string {
	return fmt.Sprintf("[Protocol %x]", p.serialNumber)
}

// NetLog enables or disables debug logging of every frame header.
func (p *Protocol) NetLog(state bool) {
	var v int32
	if state {
		v = 1
	}
	atomic.StoreInt32(&p.netLog, v)
}

func (p *Protocol) logFrame(dir string, h Header) {
	if atomic.LoadInt32(&p.netLog) != 0 {
		p.Logger.Debug().Str("dir", dir).Stringer("header", h).Msg("frame")
	}
}

// Serve processes incoming and outgoing frames until the Protocol
// disconnects. It returns nil after Close, otherwise the error that
// ended the connection. Serve returns at once if the Protocol was
// closed before it started.
func (p *Protocol) Serve() error {
	if !atomic.CompareAndSwapInt32(&p.serving, 0, 1) {
		return errors.New("protocol already serving")
	}
	if p.isClosed() {
		p.sender.drain()
		return p.Err()
	}

	p.sender.stats = p.StatsCollector
	p.sender.writeTimeout = p.WriteTimeout
	if d, ok := p.ReadWriteCloser.(writeDeadliner); ok {
		p.sender.deadliner = d
	}
	p.sender.onFrame = func(h Header) { p.logFrame("WRIT", h) }
	p.sender.log = p.Logger
	p.receiver.stats = p.StatsCollector
	p.receiver.onFrame = func(h Header) { p.logFrame("READ", h) }

	errCh := make(chan error, 2)
	go func() {
		_, err := p.receiver.run(bufio.NewReaderSize(p.ReadWriteCloser, 64*1024))
		errCh <- err
	}()
	go func() {
		_, err := p.sender.run(bufio.NewWriterSize(p.ReadWriteCloser, 64*1024))
		errCh <- err
	}()

	p.disconnect(<-errCh)
	<-errCh
	return p.Err()
}

// Start runs Serve in a new goroutine.
func (p *Protocol) Start() {
	go p.Serve()
}

// Done returns a channel that is closed when the Protocol disconnects.
func (p *Protocol) Done() <-chan struct{} {
	return p.doneChan
}

// Err returns the error that caused the disconnect. It is nil while
// connected and after a local Close.
func (p *Protocol) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnectErr
}

func (p *Protocol) isClosed() bool {
	select {
	case <-p.doneChan:
		return true
	default:
		return false
	}
}

// Close disconnects, telling the peer first if possible. It is safe
// to call more than once.
func (p *Protocol) Close() error {
	p.disconnect(nil)
	return nil
}

// Disconnect is the same as Close.
func (p *Protocol) Disconnect() {
	p.disconnect(nil)
}

func (p *Protocol) disconnect(cause error) {
	first := false
	p.disconnectOnce.Do(func() {
		first = true
		if cause == nil {
			// waits for Serve to start if it has not yet
			p.sendCancelAll()
		}

		p.mu.Lock()
		p.disconnectErr = cause
		close(p.doneChan)
		producers := p.producers
		p.producers = nil
		p.mu.Unlock()

		p.cancel()
		p.sender.stop()
		if err := p.ReadWriteCloser.Close(); err != nil && !isClosedError(err) {
			p.Logger.Debug().Err(err).Msg("closing transport")
		}

		derr := errors.WithStack(&DisconnectedError{Err: cause})
		rejected := p.requests.RejectAll(derr)
		p.assemblers.cancelAll(derr)
		for _, ch := range producers {
			close(ch)
		}

		ev := p.Logger.Debug()
		if cause != nil && !isClosedError(cause) {
			ev = p.Logger.Warn().Err(cause)
		}
		ev.Int("rejected", rejected).Msg("disconnected")
	})
	if first && p.OnDisconnect != nil {
		p.OnDisconnect(p, cause)
	}
}

func (p *Protocol) sendCancelAll() {
	h, _ := NewHeader(PayloadTypeCancelAll, 0, uuid.Nil, true)
	ctx, cancel := context.WithTimeout(context.Background(), DefaultCancelAllTimeout)
	defer cancel()
	sentCh := make(chan error, 1)
	if err := p.sender.send(ctx, &sendPacket{header: h, sent: func(err error) { sentCh <- err }}); err == nil {
		select {
		case <-sentCh:
		case <-ctx.Done():
		case <-p.sender.stoppedCh:
		}
	}
}

func (p *Protocol) sendCancelStream(id uuid.UUID) {
	h, _ := NewHeader(PayloadTypeCancelStream, 0, id, true)
	go p.sender.send(p.ctx, &sendPacket{header: h})
}

// SendRequest sends req and waits for the response, ctx being done or
// the connection going away. On a disconnect the error wraps a
// *DisconnectedError.
func (p *Protocol) SendRequest(ctx context.Context, req *Request) (*ReceiveResponse, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if p.isClosed() {
		return nil, errors.WithStack(&DisconnectedError{Err: p.Err()})
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	id := uuid.New()
	pending, err := p.requests.Expect(id)
	if err != nil {
		return nil, err
	}
	if p.isClosed() {
		// disconnected between the check and Expect, RejectAll may have missed us
		p.requests.Reject(id, errors.WithStack(&DisconnectedError{Err: p.Err()}))
	} else {
		payload, contents := req.payload()
		if err = p.sendMessage(PayloadTypeRequest, id, payload, contents); err != nil {
			if isClosedError(err) {
				err = errors.WithStack(&DisconnectedError{Err: p.Err()})
			}
			p.requests.Reject(id, err)
		}
	}
	return pending.Wait(ctx)
}

// PendingRequests returns the number of sent requests awaiting a response.
func (p *Protocol) PendingRequests() int {
	return p.requests.PendingCount()
}

// ActiveStreams returns the number of inbound content streams still arriving.
func (p *Protocol) ActiveStreams() int {
	return p.streams.count()
}

// ProtocolErrors returns the number of protocol violations seen from the peer.
func (p *Protocol) ProtocolErrors() int64 {
	return atomic.LoadInt64(&p.protocolErrors)
}

// sendMessage queues the envelope and starts a producer per content.
// Once queued, a message is only stopped by the peer or a disconnect.
func (p *Protocol) sendMessage(pt PayloadType, id uuid.UUID, payload interface{}, contents []outboundContent) error {
	ed := &envelopeDisassembler{payloadType: pt, id: id, payload: payload}
	if err := ed.disassemble(p.ctx, p.sender); err != nil {
		return err
	}
	for _, oc := range contents {
		cd := &contentDisassembler{id: oc.id, content: oc.content, cancel: p.trackProducer(oc.id)}
		go p.produce(cd)
	}
	return nil
}

func (p *Protocol) produce(cd *contentDisassembler) {
	defer p.releaseProducer(cd.id)
	if err := cd.disassemble(p.ctx, p.sender); err != nil && !isClosedError(err) {
		p.Logger.Warn().Err(err).Stringer("stream", cd.id).Msg("sending content")
	}
}

func (p *Protocol) trackProducer(id uuid.UUID) <-chan struct{} {
	ch := make(chan struct{})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producers == nil {
		close(ch)
	} else {
		p.producers[id] = ch
	}
	return ch
}

func (p *Protocol) releaseProducer(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.producers, id)
}

func (p *Protocol) sendResponse(id uuid.UUID, resp *Response) {
	payload, contents := resp.payload()
	if err := p.sendMessage(PayloadTypeResponse, id, payload, contents); err != nil && !isClosedError(err) {
		p.Logger.Warn().Err(err).Stringer("request", id).Msg("sending response")
	}
}

func (p *Protocol) serveRequest(req *ReceiveRequest) {
	p.sendResponse(req.ID, p.processRequest(req))
}

// processRequest calls the Handler, turning errors and panics into 500 responses.
func (p *Protocol) processRequest(req *ReceiveRequest) (resp *Response) {
	if p.Handler == nil {
		return NewErrorResponse(http.StatusNotImplemented, nil)
	}
	defer func() {
		if r := recover(); r != nil {
			err := errors.Errorf("panic serving %s %s: %v", req.Verb, req.Path, r)
			p.Logger.Error().Err(err).Stringer("request", req.ID).Msg("handler panic")
			resp = NewErrorResponse(http.StatusInternalServerError, err)
		}
	}()
	resp, err := p.Handler.ProcessRequest(p.ctx, req)
	if err != nil {
		p.Logger.Info().Err(err).Str("verb", req.Verb).Str("path", req.Path).Msg("handler error")
		return NewErrorResponse(http.StatusInternalServerError, err)
	}
	if resp == nil {
		return NewErrorResponse(http.StatusInternalServerError, errors.New("handler returned no response"))
	}
	return resp
}

func (p *Protocol) requestAssembled(id uuid.UUID, req *ReceiveRequest, err error) {
	if err != nil {
		p.protocolError(err)
		go p.sendResponse(id, p.processRequestError(id, err))
		return
	}
	go p.serveRequest(req)
}

// processRequestError lets a RequestErrorHandler answer a request that
// could not be decoded, falling back to a 400 response.
func (p *Protocol) processRequestError(id uuid.UUID, err error) (resp *Response) {
	if eh, ok := p.Handler.(RequestErrorHandler); ok {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.Logger.Error().Interface("panic", r).Stringer("request", id).Msg("request error handler panic")
					resp = nil
				}
			}()
			resp = eh.ProcessRequestError(p.ctx, id, err)
		}()
	}
	if resp == nil {
		resp = NewErrorResponse(http.StatusBadRequest, err)
	}
	return
}

func (p *Protocol) responseAssembled(id uuid.UUID, resp *ReceiveResponse, err error) {
	if err != nil {
		p.protocolError(err)
		p.requests.Reject(id, err)
		return
	}
	if !p.requests.SignalResponse(id, resp) {
		p.Logger.Debug().Stringer("request", id).Int("status", resp.StatusCode).Msg("response for unknown request")
		resp.Cancel()
	}
}

func (p *Protocol) cancelAllReceived() {
	p.disconnect(errors.WithStack(ErrPeerDisconnected{}))
}

func (p *Protocol) cancelStreamReceived(id uuid.UUID) {
	p.mu.Lock()
	ch := p.producers[id]
	delete(p.producers, id)
	p.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func (p *Protocol) unitFailed(id uuid.UUID, err error) {
	p.requests.Reject(id, err)
}

func (p *Protocol) protocolError(err error) {
	atomic.AddInt64(&p.protocolErrors, 1)
	p.Logger.Warn().Err(err).Msg("protocol error")
	if p.OnProtocolError != nil {
		p.OnProtocolError(p, err)
	}
}
