package streaming

import (
	"context"

	"github.com/google/uuid"
)

// Request is an outbound request.
type Request struct {
	Verb    string
	Path    string
	Streams []*Content
}

// NewRequest returns a Request with the given content streams attached.
func NewRequest(verb, path string, streams ...*Content) *Request {
	return &Request{Verb: verb, Path: path, Streams: streams}
}

// AddStream attaches another content stream.
func (req *Request) AddStream(c *Content) {
	req.Streams = append(req.Streams, c)
}

func (req *Request) payload() (*RequestPayload, []outboundContent) {
	descs, contents := describeStreams(req.Streams)
	return &RequestPayload{Verb: req.Verb, Path: req.Path, Streams: descs}, contents
}

// ReceiveRequest is an inbound request as handed to a RequestHandler.
type ReceiveRequest struct {
	ID      uuid.UUID
	Verb    string
	Path    string
	Streams []*ContentStream
}

// RequestHandler processes inbound requests. The returned Response is
// sent to the peer under the id of the request. A non-nil error is
// sent as a 500 response.
type RequestHandler interface {
	ProcessRequest(ctx context.Context, req *ReceiveRequest) (*Response, error)
}

// RequestErrorHandler may be implemented by a RequestHandler to be told
// about inbound requests whose envelope could not be decoded. The
// returned Response is sent in place of the default 400 response;
// returning nil keeps the default.
type RequestErrorHandler interface {
	ProcessRequestError(ctx context.Context, id uuid.UUID, err error) *Response
}

// RequestHandlerFunc adapts an ordinary function to a RequestHandler.
type RequestHandlerFunc func(ctx context.Context, req *ReceiveRequest) (*Response, error)

// ProcessRequest calls fn(ctx, req).
func (fn RequestHandlerFunc) ProcessRequest(ctx context.Context, req *ReceiveRequest) (*Response, error) {
	return fn(ctx, req)
}

type outboundContent struct {
	id      uuid.UUID
	content *Content
}

// describeStreams never returns nil descs, so envelopes always carry a
// streams array.
func describeStreams(streams []*Content) (descs []StreamDescription, contents []outboundContent) {
	descs = make([]StreamDescription, 0, len(streams))
	for _, c := range streams {
		if c == nil {
			continue
		}
		oc := outboundContent{id: uuid.New(), content: c}
		descs = append(descs, StreamDescription{
			ID:          oc.id,
			ContentType: c.ContentType,
			Length:      c.Length,
		})
		contents = append(contents, oc)
	}
	return
}
