// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

import (
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// frameSink receives the frames decoded by a payloadReceiver.
type frameSink interface {
	// frameStream returns the Stream the payload of h is written to,
	// or nil if the payload is to be discarded.
	frameStream(h Header) *Stream
	// frameReceived is called after every chunk of a Stream frame, and
	// once after the whole payload for other frames. last is true for
	// the final call of the frame.
	frameReceived(h Header, s *Stream, last bool)
	// frameFailed is called when a header did not parse but its payload
	// could be skipped. The logical unit for id is lost.
	frameFailed(id uuid.UUID, err error)
}

// payloadReceiver is the read loop. It decodes headers and routes the
// payload bytes following them to the sink.
type payloadReceiver struct {
	sink    frameSink
	stats   StatsCollector
	onFrame func(h Header)
}

func newPayloadReceiver(sink frameSink) *payloadReceiver {
	return &payloadReceiver{sink: sink}
}

// run reads frames from r until an error occurs. A header that cannot
// be parsed and whose length cannot be recovered is fatal, since the
// start of the next header is unknown.
func (pr *payloadReceiver) run(r io.Reader) (n int64, err error) {
	var hdr [MaxHeaderLength]byte
	buf := make([]byte, MaxPayloadLength)

	count := func(m int64) {
		n += m
		if pr.stats != nil && m > 0 {
			pr.stats.AddBytesRead(m)
		}
	}

	for {
		var m int
		m, err = io.ReadFull(r, hdr[:])
		count(int64(m))
		if err != nil {
			return n, errors.WithStack(err)
		}

		h, perr := ParseHeader(hdr[:])
		if perr != nil {
			length, id, ok := recoverHeader(hdr[:])
			if !ok {
				return n, perr
			}
			var skipped int64
			skipped, err = io.CopyN(io.Discard, r, int64(length))
			count(skipped)
			if err != nil {
				return n, errors.WithStack(err)
			}
			pr.sink.frameFailed(id, perr)
			continue
		}

		if pr.onFrame != nil {
			pr.onFrame(h)
		}

		s := pr.sink.frameStream(h)
		isStream := h.PayloadType == PayloadTypeStream
		for remaining := h.PayloadLength; remaining > 0; {
			chunk := remaining
			if chunk > MaxPayloadLength {
				chunk = MaxPayloadLength
			}
			m, err = io.ReadFull(r, buf[:chunk])
			count(int64(m))
			if err != nil {
				return n, errors.WithStack(err)
			}
			remaining -= m
			if s != nil {
				// a cancelled Stream refuses the bytes, which is fine
				s.Write(buf[:m])
			}
			if isStream {
				pr.sink.frameReceived(h, s, remaining == 0)
			}
		}
		if !isStream || h.PayloadLength == 0 {
			pr.sink.frameReceived(h, s, true)
		}
	}
}
