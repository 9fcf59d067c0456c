package streaming

import (
	"context"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// HTTPHandler serves requests arriving over a Protocol with an
// http.Handler. The content streams of a request are read back to back
// as the HTTP request body, with the Content-Type of the first one.
// The HTTP response body becomes a single content stream.
type HTTPHandler struct {
	http.Handler
}

// NewHTTPHandler returns a RequestHandler that calls h.
func NewHTTPHandler(h http.Handler) *HTTPHandler {
	return &HTTPHandler{Handler: h}
}

// ProcessRequest implements RequestHandler.
func (hh *HTTPHandler) ProcessRequest(ctx context.Context, req *ReceiveRequest) (*Response, error) {
	var body io.Reader = http.NoBody
	if len(req.Streams) > 0 {
		readers := make([]io.Reader, len(req.Streams))
		for i, cs := range req.Streams {
			readers[i] = cs
		}
		body = io.MultiReader(readers...)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Verb, req.Path, body)
	if err != nil {
		return NewErrorResponse(http.StatusBadRequest, err), nil
	}
	hr.RequestURI = req.Path
	if len(req.Streams) > 0 {
		if ct := req.Streams[0].ContentType; ct != "" {
			hr.Header.Set("Content-Type", ct)
		}
		if len(req.Streams) == 1 && req.Streams[0].Length > 0 {
			hr.ContentLength = int64(req.Streams[0].Length)
		}
	} else {
		hr.ContentLength = 0
	}

	rw := newResponseWriter()
	stop := context.AfterFunc(ctx, func() { rw.pr.CloseWithError(ctx.Err()) })
	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = errors.Errorf("panic serving %s %s: %v", req.Verb, req.Path, r)
			}
			stop()
			rw.finish(err)
		}()
		hh.Handler.ServeHTTP(rw, hr)
	}()
	return rw.response(ctx)
}
