package streaming

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// streamManager maps content stream ids to their assemblers. Ids that
// were closed locally while still arriving are remembered until their
// End frame, so the remaining frames are dropped quietly.
type streamManager struct {
	mu       sync.Mutex
	active   map[uuid.UUID]*contentStreamAssembler
	closed   map[uuid.UUID]struct{}
	onCancel func(id uuid.UUID) // optional, called when a stream is abandoned before its End
}

func newStreamManager(onCancel func(id uuid.UUID)) *streamManager {
	return &streamManager{
		active:   make(map[uuid.UUID]*contentStreamAssembler),
		closed:   make(map[uuid.UUID]struct{}),
		onCancel: onCancel,
	}
}

func (sm *streamManager) register(d StreamDescription) (*contentStreamAssembler, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, ok := sm.active[d.ID]; ok {
		return nil, errors.Errorf("content stream %v declared twice", d.ID)
	}
	delete(sm.closed, d.ID)
	a := newContentStreamAssembler(sm, d)
	sm.active[d.ID] = a
	return a, nil
}

// lookup returns the assembler for id, or whether id was closed locally.
func (sm *streamManager) lookup(id uuid.UUID) (a *contentStreamAssembler, closed bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if a = sm.active[id]; a == nil {
		_, closed = sm.closed[id]
	}
	return
}

// remove forgets a stream that received its End frame.
func (sm *streamManager) remove(id uuid.UUID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.active, id)
}

func (sm *streamManager) clearClosed(id uuid.UUID) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.closed, id)
}

func (sm *streamManager) abandonLocked(id uuid.UUID) (a *contentStreamAssembler) {
	if a = sm.active[id]; a != nil {
		delete(sm.active, id)
		sm.closed[id] = struct{}{}
	}
	return
}

// closeStream releases id because the consumer gave up on it.
func (sm *streamManager) closeStream(id uuid.UUID) {
	sm.mu.Lock()
	a := sm.abandonLocked(id)
	sm.mu.Unlock()
	if a != nil && sm.onCancel != nil {
		sm.onCancel(id)
	}
}

// failStream abandons id with err. Returns false if id is not active.
func (sm *streamManager) failStream(id uuid.UUID, err error) bool {
	sm.mu.Lock()
	a := sm.abandonLocked(id)
	sm.mu.Unlock()
	if a == nil {
		return false
	}
	a.fail(err)
	if sm.onCancel != nil {
		sm.onCancel(id)
	}
	return true
}

// cancelAll fails every active stream, used when the connection goes away.
func (sm *streamManager) cancelAll(err error) {
	sm.mu.Lock()
	active := sm.active
	sm.active = make(map[uuid.UUID]*contentStreamAssembler)
	sm.closed = make(map[uuid.UUID]struct{})
	sm.mu.Unlock()
	for _, a := range active {
		a.fail(err)
	}
}

func (sm *streamManager) count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.active)
}
