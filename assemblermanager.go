package streaming

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// assemblyHandler is told about completed and failed logical units.
type assemblyHandler interface {
	requestAssembled(id uuid.UUID, req *ReceiveRequest, err error)
	responseAssembled(id uuid.UUID, resp *ReceiveResponse, err error)
	cancelAllReceived()
	cancelStreamReceived(id uuid.UUID)
	// unitFailed reports a malformed frame for an id with no unit in progress.
	unitFailed(id uuid.UUID, err error)
	protocolError(err error)
}

// payloadAssemblerManager implements frameSink. Envelope frames go to
// an assembler per id, Stream frames to the streamManager.
type payloadAssemblerManager struct {
	mu      sync.Mutex
	active  map[uuid.UUID]assembler
	streams *streamManager
	handler assemblyHandler
}

func newPayloadAssemblerManager(streams *streamManager, handler assemblyHandler) *payloadAssemblerManager {
	return &payloadAssemblerManager{
		active:  make(map[uuid.UUID]assembler),
		streams: streams,
		handler: handler,
	}
}

func (m *payloadAssemblerManager) frameStream(h Header) *Stream {
	switch h.PayloadType {
	case PayloadTypeStream:
		a, closed := m.streams.lookup(h.ID)
		if a != nil {
			return a.getStream()
		}
		if !closed {
			m.handler.protocolError(errors.WithStack(ErrUnknownStream{ID: h.ID}))
		}
		return nil
	case PayloadTypeRequest, PayloadTypeResponse:
		return m.getAssembler(h).getStream()
	case PayloadTypeCancelAll, PayloadTypeCancelStream:
		return nil
	default:
		m.handler.protocolError(newHeaderError(nil, "unhandled payload type %v", h.PayloadType))
		return nil
	}
}

func (m *payloadAssemblerManager) frameReceived(h Header, s *Stream, last bool) {
	switch h.PayloadType {
	case PayloadTypeStream:
		a, closed := m.streams.lookup(h.ID)
		if a != nil {
			a.onReceive(h, last)
		} else if closed && h.End && last {
			m.streams.clearClosed(h.ID)
		}
	case PayloadTypeRequest, PayloadTypeResponse:
		if h.End && last {
			m.mu.Lock()
			a := m.active[h.ID]
			delete(m.active, h.ID)
			m.mu.Unlock()
			if a != nil {
				a.onReceive(h, last)
			}
		}
	case PayloadTypeCancelAll:
		m.handler.cancelAllReceived()
	case PayloadTypeCancelStream:
		m.handler.cancelStreamReceived(h.ID)
	}
}

func (m *payloadAssemblerManager) frameFailed(id uuid.UUID, err error) {
	m.handler.protocolError(err)
	m.mu.Lock()
	a := m.active[id]
	delete(m.active, id)
	m.mu.Unlock()
	if a != nil {
		a.fail(err)
		return
	}
	if m.streams.failStream(id, err) {
		return
	}
	m.handler.unitFailed(id, err)
}

func (m *payloadAssemblerManager) getAssembler(h Header) assembler {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.active[h.ID]
	if a == nil {
		if h.PayloadType == PayloadTypeRequest {
			a = &receiveRequestAssembler{
				payloadAssembler: payloadAssembler{id: h.ID},
				streams:          m.streams,
				onCompleted:      m.handler.requestAssembled,
			}
		} else {
			a = &receiveResponseAssembler{
				payloadAssembler: payloadAssembler{id: h.ID},
				streams:          m.streams,
				onCompleted:      m.handler.responseAssembled,
			}
		}
		m.active[h.ID] = a
	}
	return a
}

// cancelAll abandons every envelope in progress and every content stream.
func (m *payloadAssemblerManager) cancelAll(err error) {
	m.mu.Lock()
	active := m.active
	m.active = make(map[uuid.UUID]assembler)
	m.mu.Unlock()
	for _, a := range active {
		a.getStream().Cancel(err)
	}
	m.streams.cancelAll(err)
}

func (m *payloadAssemblerManager) activeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
