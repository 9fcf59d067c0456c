package streaming

import (
	"net/http"

	"github.com/google/uuid"
)

// Response is an outbound response.
type Response struct {
	StatusCode int
	Streams    []*Content
}

// NewResponse returns a Response with the given content streams attached.
func NewResponse(statusCode int, streams ...*Content) *Response {
	return &Response{StatusCode: statusCode, Streams: streams}
}

// NewErrorResponse returns a Response carrying the error text as its only stream.
func NewErrorResponse(statusCode int, err error) *Response {
	text := http.StatusText(statusCode)
	if err != nil {
		text = err.Error()
	}
	return NewResponse(statusCode, NewStringContent(text))
}

// AddStream attaches another content stream.
func (resp *Response) AddStream(c *Content) {
	resp.Streams = append(resp.Streams, c)
}

func (resp *Response) payload() (*ResponsePayload, []outboundContent) {
	descs, contents := describeStreams(resp.Streams)
	return &ResponsePayload{StatusCode: resp.StatusCode, Streams: descs}, contents
}

// ReceiveResponse is the inbound response to a request sent with SendRequest.
type ReceiveResponse struct {
	ID         uuid.UUID
	StatusCode int
	Streams    []*ContentStream
}

// IsSuccess returns true for 2xx status codes.
func (resp *ReceiveResponse) IsSuccess() bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Cancel cancels every content stream of the response.
func (resp *ReceiveResponse) Cancel() {
	for _, cs := range resp.Streams {
		cs.Cancel()
	}
}
