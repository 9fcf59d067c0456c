package streaming

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type pendingResult struct {
	resp *ReceiveResponse
	err  error
}

// PendingResponse is the waiter for one outstanding request.
type PendingResponse struct {
	ID       uuid.UUID
	manager  *RequestManager
	resultCh chan pendingResult // buffered, written at most once
}

// RequestManager correlates responses with the requests waiting for them.
type RequestManager struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*PendingResponse
}

// NewRequestManager returns an empty RequestManager.
func NewRequestManager() *RequestManager {
	return &RequestManager{pending: make(map[uuid.UUID]*PendingResponse)}
}

// Expect registers id as pending. It fails if id is already pending.
func (rm *RequestManager) Expect(id uuid.UUID) (*PendingResponse, error) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, ok := rm.pending[id]; ok {
		return nil, errors.WithStack(ErrDuplicateRequest{ID: id})
	}
	pr := &PendingResponse{
		ID:       id,
		manager:  rm,
		resultCh: make(chan pendingResult, 1),
	}
	rm.pending[id] = pr
	return pr, nil
}

// GetResponse registers id and waits for its response.
func (rm *RequestManager) GetResponse(ctx context.Context, id uuid.UUID) (*ReceiveResponse, error) {
	pr, err := rm.Expect(id)
	if err != nil {
		return nil, err
	}
	return pr.Wait(ctx)
}

// Wait blocks until the response arrives, the request is rejected or
// ctx is done. In the last case the request is no longer pending and a
// response arriving later is treated as unknown.
func (pr *PendingResponse) Wait(ctx context.Context) (*ReceiveResponse, error) {
	select {
	case r := <-pr.resultCh:
		return r.resp, r.err
	case <-ctx.Done():
		if pr.manager.remove(pr) {
			return nil, errors.WithStack(ctx.Err())
		}
		// resolved while we were giving up
		r := <-pr.resultCh
		return r.resp, r.err
	}
}

func (rm *RequestManager) remove(pr *PendingResponse) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.pending[pr.ID] == pr {
		delete(rm.pending, pr.ID)
		return true
	}
	return false
}

func (rm *RequestManager) resolve(id uuid.UUID, r pendingResult) bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	pr, ok := rm.pending[id]
	if ok {
		delete(rm.pending, id)
		pr.resultCh <- r
	}
	return ok
}

// SignalResponse hands resp to the request waiting for id. It returns
// false if no request with that id is pending.
func (rm *RequestManager) SignalResponse(id uuid.UUID, resp *ReceiveResponse) bool {
	return rm.resolve(id, pendingResult{resp: resp})
}

// Reject fails the request waiting for id with err.
func (rm *RequestManager) Reject(id uuid.UUID, err error) bool {
	return rm.resolve(id, pendingResult{err: err})
}

// RejectAll fails every pending request with err and returns how many there were.
func (rm *RequestManager) RejectAll(err error) int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	n := len(rm.pending)
	for id, pr := range rm.pending {
		delete(rm.pending, id)
		pr.resultCh <- pendingResult{err: err}
	}
	return n
}

// PendingCount returns the number of requests awaiting a response.
func (rm *RequestManager) PendingCount() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.pending)
}
