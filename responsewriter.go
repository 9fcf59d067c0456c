package streaming

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// ResponseWriter implements http.ResponseWriter for an HTTPHandler.
// The status and headers are sent when the handler first writes or
// flushes, and the body streams to the peer as it is written.
type ResponseWriter struct {
	Code        int         // the HTTP response code from WriteHeader
	HeaderMap   http.Header // the HTTP response headers
	Flushed     bool
	wroteHeader bool
	sent        http.Header
	failErr     error
	headerCh    chan struct{} // closed once the status is known
	finishOnce  sync.Once
	pr          *io.PipeReader
	pw          *io.PipeWriter
}

func newResponseWriter() *ResponseWriter {
	pr, pw := io.Pipe()
	return &ResponseWriter{
		HeaderMap: make(http.Header),
		Code:      http.StatusOK,
		headerCh:  make(chan struct{}),
		pr:        pr,
		pw:        pw,
	}
}

// Header returns the response headers.
func (rw *ResponseWriter) Header() http.Header {
	m := rw.HeaderMap
	if m == nil {
		m = make(http.Header)
		rw.HeaderMap = m
	}
	return m
}

// Write sends buf as part of the response body. It blocks until the
// peer's content stream has taken it.
func (rw *ResponseWriter) Write(buf []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.pw.Write(buf)
}

// WriteHeader sets rw.Code and releases the response envelope.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.Code = code
		rw.sent = rw.Header().Clone()
		rw.wroteHeader = true
		close(rw.headerCh)
	}
}

// Flush sends the response envelope if it has not been sent.
func (rw *ResponseWriter) Flush() {
	if !rw.Flushed {
		if !rw.wroteHeader {
			rw.WriteHeader(http.StatusOK)
		}
		rw.Flushed = true
	}
}

// finish ends the body. If the handler failed before writing
// anything, err is returned from response instead.
func (rw *ResponseWriter) finish(err error) {
	rw.finishOnce.Do(func() {
		if !rw.wroteHeader {
			rw.failErr = err
			rw.WriteHeader(http.StatusOK)
		}
		rw.pw.CloseWithError(err)
	})
}

// response waits for the status and returns the Response whose single
// content stream reads the body.
func (rw *ResponseWriter) response(ctx context.Context) (*Response, error) {
	select {
	case <-rw.headerCh:
	case <-ctx.Done():
		rw.pr.CloseWithError(ctx.Err())
		return nil, ctx.Err()
	}
	if rw.failErr != nil {
		rw.pr.CloseWithError(rw.failErr)
		return nil, rw.failErr
	}
	length := 0
	if cl := rw.sent.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n > 0 {
			length = n
		}
	}
	return NewResponse(rw.Code, NewContent(rw.sent.Get("Content-Type"), length, rw.pr)), nil
}
