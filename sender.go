// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// sendPacket is one frame waiting to be written. payload must yield
// exactly header.PayloadLength bytes.
type sendPacket struct {
	header  Header
	payload io.Reader
	sent    func(error) // optional, called once the frame is written or has failed
}

type flusher interface {
	Flush() error
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// payloadSender writes queued frames to the transport one at a time,
// so the bytes of two frames never mix.
type payloadSender struct {
	queue        chan *sendPacket
	doneCh       chan struct{} // closed by stop()
	stoppedCh    chan struct{} // closed when run() returns
	stopOnce     sync.Once
	stoppedOnce  sync.Once
	deadliner    writeDeadliner
	writeTimeout time.Duration
	stats        StatsCollector
	onFrame      func(h Header)
	log          zerolog.Logger
	buf          []byte
}

func newPayloadSender(queueSize int) *payloadSender {
	if queueSize < 1 {
		queueSize = DefaultSendQueueSize
	}
	return &payloadSender{
		queue:     make(chan *sendPacket, queueSize),
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		log:       zerolog.Nop(),
		buf:       make([]byte, MaxPayloadLength),
	}
}

// send queues pkt without waiting for it to be written.
func (ps *payloadSender) send(ctx context.Context, pkt *sendPacket) error {
	select {
	case <-ps.doneCh:
		return errors.WithStack(ErrClosed{})
	case <-ps.stoppedCh:
		return errors.WithStack(ErrClosed{})
	default:
	}
	select {
	case ps.queue <- pkt:
		return nil
	case <-ps.doneCh:
		return errors.WithStack(ErrClosed{})
	case <-ps.stoppedCh:
		return errors.WithStack(ErrClosed{})
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// sendWait queues a frame and waits until it has been written, or
// until the sender is stopped.
func (ps *payloadSender) sendWait(ctx context.Context, h Header, payload []byte) error {
	errCh := make(chan error, 1)
	pkt := &sendPacket{
		header:  h,
		payload: bytes.NewReader(payload),
		sent:    func(err error) { errCh <- err },
	}
	if err := ps.send(ctx, pkt); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	case <-ps.doneCh:
		return errors.WithStack(ErrClosed{})
	case <-ps.stoppedCh:
		return errors.WithStack(ErrClosed{})
	}
}

func (ps *payloadSender) stop() {
	ps.stopOnce.Do(func() { close(ps.doneCh) })
}

// run writes queued frames to w until stopped or a write fails.
func (ps *payloadSender) run(w io.Writer) (n int64, err error) {
	defer ps.drain()
	f, hasFlusher := w.(flusher)
	for {
		var pkt *sendPacket
		select {
		case pkt = <-ps.queue:
		case <-ps.doneCh:
			return n, errors.WithStack(ErrClosed{})
		}

		if ps.deadliner != nil && ps.writeTimeout > 0 {
			if derr := ps.deadliner.SetWriteDeadline(time.Now().Add(ps.writeTimeout)); derr != nil {
				ps.log.Debug().Err(derr).Msg("setting write deadline")
			}
		}

		var written int64
		written, err = ps.writePacket(w, pkt)
		n += written

		// flush once the queue runs dry
		if err == nil && hasFlusher && len(ps.queue) == 0 {
			err = errors.WithStack(f.Flush())
		}

		if ps.stats != nil && written > 0 {
			ps.stats.AddBytesWritten(written)
		}
		if pkt.sent != nil {
			pkt.sent(err)
		}
		if err != nil {
			return
		}
	}
}

func (ps *payloadSender) writePacket(w io.Writer, pkt *sendPacket) (n int64, err error) {
	var hdr [MaxHeaderLength]byte
	var m int
	if ps.onFrame != nil {
		ps.onFrame(pkt.header)
	}
	if m, err = w.Write(pkt.header.AppendTo(hdr[:0])); err != nil {
		return int64(m), errors.WithStack(err)
	}
	n += int64(m)
	for remaining := pkt.header.PayloadLength; remaining > 0; {
		chunk := remaining
		if chunk > MaxPayloadLength {
			chunk = MaxPayloadLength
		}
		if _, err = io.ReadFull(pkt.payload, ps.buf[:chunk]); err != nil {
			// the header already promised these bytes, the wire is now out of sync
			return n, errors.Wrapf(err, "payload shorter than %v", pkt.header)
		}
		m, err = w.Write(ps.buf[:chunk])
		n += int64(m)
		if err != nil {
			return n, errors.WithStack(err)
		}
		remaining -= chunk
	}
	return
}

// drain fails every packet still queued once run() has returned.
func (ps *payloadSender) drain() {
	ps.stoppedOnce.Do(func() { close(ps.stoppedCh) })
	for {
		select {
		case pkt := <-ps.queue:
			if pkt.sent != nil {
				pkt.sent(errors.WithStack(ErrClosed{}))
			}
		default:
			return
		}
	}
}
