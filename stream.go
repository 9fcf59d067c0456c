package streaming

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/pkg/errors"
)

// Stream is an unbounded byte queue. One party writes and ends it,
// another reads it. Readers block until bytes arrive, the Stream is
// ended or it is cancelled. Subscribers are notified of every write.
type Stream struct {
	mu      sync.Mutex
	chunks  [][]byte
	length  int
	ended   bool
	err     error
	waitCh  chan struct{} // closed and replaced on every state change
	doneCh  chan struct{} // closed once ended or cancelled
	subs    []func(n int)
	written int64
}

// NewStream returns an empty Stream.
func NewStream() *Stream {
	return &Stream{waitCh: make(chan struct{}), doneCh: make(chan struct{})}
}

// must hold s.mu
func (s *Stream) doneLocked() {
	select {
	case <-s.doneCh:
	default:
		close(s.doneCh)
	}
}

// must hold s.mu
func (s *Stream) wakeLocked() {
	close(s.waitCh)
	s.waitCh = make(chan struct{})
}

// Write appends a copy of p to the Stream.
func (s *Stream) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	if s.err != nil {
		err = s.err
		s.mu.Unlock()
		return
	}
	if s.ended {
		s.mu.Unlock()
		return 0, errors.WithStack(ErrStreamEnded{})
	}
	if n = len(p); n > 0 {
		s.chunks = append(s.chunks, append([]byte(nil), p...))
		s.length += n
		s.written += int64(n)
		s.wakeLocked()
	}
	subs := s.subs
	s.mu.Unlock()
	if n > 0 {
		for _, fn := range subs {
			fn(n)
		}
	}
	return
}

// Read implements io.Reader. It returns io.EOF once the Stream has
// ended and all buffered bytes are consumed.
func (s *Stream) Read(p []byte) (int, error) {
	return s.ReadContext(context.Background(), p)
}

// ReadContext is like Read but gives up when ctx is done.
func (s *Stream) ReadContext(ctx context.Context, p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}
	for {
		s.mu.Lock()
		if s.length > 0 {
			n = s.readLocked(p)
			s.mu.Unlock()
			return
		}
		if s.err != nil {
			err = s.err
			s.mu.Unlock()
			return
		}
		if s.ended {
			s.mu.Unlock()
			return 0, io.EOF
		}
		waitCh := s.waitCh
		s.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return 0, errors.WithStack(ctx.Err())
		}
	}
}

func (s *Stream) readLocked(p []byte) (n int) {
	for len(p) > 0 && len(s.chunks) > 0 {
		m := copy(p, s.chunks[0])
		n += m
		p = p[m:]
		if m == len(s.chunks[0]) {
			s.chunks[0] = nil
			s.chunks = s.chunks[1:]
		} else {
			s.chunks[0] = s.chunks[0][m:]
		}
	}
	s.length -= n
	return
}

// ReadAll reads until the Stream ends, fails or ctx is done.
func (s *Stream) ReadAll(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	p := make([]byte, MaxPayloadLength)
	for {
		n, err := s.ReadContext(ctx, p)
		buf.Write(p[:n])
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return buf.Bytes(), err
		}
	}
}

// End marks the Stream as complete. Further writes fail. Calling End
// more than once has no effect.
func (s *Stream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.ended = true
		s.wakeLocked()
		s.doneLocked()
	}
}

// Cancel discards buffered bytes and makes pending and future reads
// and writes fail with err. A nil err means ErrStreamCancelled.
// Only the first call has any effect.
func (s *Stream) Cancel(err error) {
	if err == nil {
		err = errors.WithStack(ErrStreamCancelled{})
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		s.chunks = nil
		s.length = 0
		s.wakeLocked()
		s.doneLocked()
	}
}

// Done returns a channel that is closed when the Stream is ended or
// cancelled. Buffered bytes may still be waiting to be read.
func (s *Stream) Done() <-chan struct{} {
	return s.doneCh
}

// Len returns the number of bytes buffered and not yet read.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// Written returns the total number of bytes ever written.
func (s *Stream) Written() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Ended returns true if End has been called.
func (s *Stream) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Err returns the cancellation error, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe registers fn to be called with the byte count after every
// non-empty write. It is called on the writing goroutine.
func (s *Stream) Subscribe(fn func(n int)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}
