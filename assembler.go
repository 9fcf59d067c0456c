package streaming

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// assembler accumulates the frames of one inbound logical unit.
type assembler interface {
	getStream() *Stream
	// onReceive is called after bytes for the unit were written to its Stream.
	onReceive(h Header, last bool)
	// fail abandons the unit.
	fail(err error)
}

type payloadAssembler struct {
	id     uuid.UUID
	mu     sync.Mutex
	stream *Stream
}

func (pa *payloadAssembler) getStream() *Stream {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pa.stream == nil {
		pa.stream = NewStream()
	}
	return pa.stream
}

// contentStreamAssembler collects a content stream declared by an envelope.
type contentStreamAssembler struct {
	payloadAssembler
	contentType string
	length      int
	manager     *streamManager
}

func newContentStreamAssembler(sm *streamManager, d StreamDescription) *contentStreamAssembler {
	return &contentStreamAssembler{
		payloadAssembler: payloadAssembler{id: d.ID},
		contentType:      d.ContentType,
		length:           d.Length,
		manager:          sm,
	}
}

func (a *contentStreamAssembler) onReceive(h Header, last bool) {
	if h.End && last {
		a.getStream().End()
		a.manager.remove(a.id)
	}
}

func (a *contentStreamAssembler) fail(err error) {
	a.getStream().Cancel(err)
}

// close discards the stream and releases its id.
func (a *contentStreamAssembler) close() {
	a.getStream().Cancel(nil)
	a.manager.closeStream(a.id)
}

// readEnvelope decodes the completed envelope in s into v.
func readEnvelope(pt PayloadType, id uuid.UUID, s *Stream, schema *gojsonschema.Schema, v interface{}) error {
	s.End()
	b, err := s.ReadAll(context.Background())
	if err == nil {
		err = decodeEnvelope(schema, b, v)
	}
	if err != nil {
		return errors.WithStack(&EnvelopeError{ID: id, PayloadType: pt, Err: err})
	}
	return nil
}

// registerStreams declares the content streams of an envelope so their
// frames have somewhere to land. It runs on the read loop, before the
// next frame is read.
func registerStreams(pt PayloadType, id uuid.UUID, sm *streamManager, descs []StreamDescription) ([]*ContentStream, error) {
	streams := make([]*ContentStream, 0, len(descs))
	for _, d := range descs {
		a, err := sm.register(d)
		if err != nil {
			for _, cs := range streams {
				cs.Cancel()
			}
			return nil, errors.WithStack(&EnvelopeError{ID: id, PayloadType: pt, Err: err})
		}
		streams = append(streams, newContentStream(a))
	}
	return streams, nil
}

type receiveRequestAssembler struct {
	payloadAssembler
	streams     *streamManager
	onCompleted func(id uuid.UUID, req *ReceiveRequest, err error)
}

func (a *receiveRequestAssembler) onReceive(h Header, last bool) {
	if !h.End || !last {
		return
	}
	var payload RequestPayload
	err := readEnvelope(PayloadTypeRequest, a.id, a.getStream(), requestEnvelopeSchema, &payload)
	if err != nil {
		a.onCompleted(a.id, nil, err)
		return
	}
	req := &ReceiveRequest{ID: a.id, Verb: payload.Verb, Path: payload.Path}
	if req.Streams, err = registerStreams(PayloadTypeRequest, a.id, a.streams, payload.Streams); err != nil {
		req = nil
	}
	a.onCompleted(a.id, req, err)
}

func (a *receiveRequestAssembler) fail(err error) {
	a.getStream().Cancel(err)
	a.onCompleted(a.id, nil, errors.WithStack(&EnvelopeError{ID: a.id, PayloadType: PayloadTypeRequest, Err: err}))
}

type receiveResponseAssembler struct {
	payloadAssembler
	streams     *streamManager
	onCompleted func(id uuid.UUID, resp *ReceiveResponse, err error)
}

func (a *receiveResponseAssembler) onReceive(h Header, last bool) {
	if !h.End || !last {
		return
	}
	var payload ResponsePayload
	err := readEnvelope(PayloadTypeResponse, a.id, a.getStream(), responseEnvelopeSchema, &payload)
	if err != nil {
		a.onCompleted(a.id, nil, err)
		return
	}
	resp := &ReceiveResponse{ID: a.id, StatusCode: payload.StatusCode}
	if resp.Streams, err = registerStreams(PayloadTypeResponse, a.id, a.streams, payload.Streams); err != nil {
		resp = nil
	}
	a.onCompleted(a.id, resp, err)
}

func (a *receiveResponseAssembler) fail(err error) {
	a.getStream().Cancel(err)
	a.onCompleted(a.id, nil, errors.WithStack(&EnvelopeError{ID: a.id, PayloadType: PayloadTypeResponse, Err: err}))
}
