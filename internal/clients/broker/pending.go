package broker

import (
	"context"
	"sync"

	"github.com/aristath/scout/internal/domain"
)

// pendingRequest collects the records for one outstanding request until the
// transport signals completion. The Resolver awaits the done channel instead
// of polling shared buffers, so overlapping requests on one session cannot
// race each other.
type pendingRequest struct {
	records []ContractRecord
	err     error
	done    chan struct{}
	once    sync.Once
}

func newPendingRequest() *pendingRequest {
	return &pendingRequest{done: make(chan struct{})}
}

func (p *pendingRequest) complete(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// pendingRegistry tracks outstanding requests keyed by request ID.
// One registry per session; the session serializes ID allocation.
type pendingRegistry struct {
	mu       sync.Mutex
	inFlight map[int64]*pendingRequest
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{inFlight: make(map[int64]*pendingRequest)}
}

// open registers a new outstanding request.
func (r *pendingRegistry) open(requestID int64) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	req := newPendingRequest()
	r.inFlight[requestID] = req
	return req
}

// appendRecord adds a record to an outstanding request. Records arriving for
// unknown request IDs (late replies after a timeout) are dropped.
func (r *pendingRegistry) appendRecord(requestID int64, record ContractRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req, ok := r.inFlight[requestID]; ok {
		req.records = append(req.records, record)
	}
}

// complete marks a request finished and removes it from the registry.
func (r *pendingRegistry) complete(requestID int64, err error) {
	r.mu.Lock()
	req, ok := r.inFlight[requestID]
	if ok {
		delete(r.inFlight, requestID)
	}
	r.mu.Unlock()

	if ok {
		req.complete(err)
	}
}

// failAll aborts every outstanding request with the given error.
// Used when the connection drops.
func (r *pendingRegistry) failAll(err error) {
	r.mu.Lock()
	pending := make([]*pendingRequest, 0, len(r.inFlight))
	for id, req := range r.inFlight {
		pending = append(pending, req)
		delete(r.inFlight, id)
	}
	r.mu.Unlock()

	for _, req := range pending {
		req.complete(err)
	}
}

// discard removes a request without completing it (caller timed out and no
// longer wants the answer). Late records for it are then dropped on arrival.
func (r *pendingRegistry) discard(requestID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, requestID)
}

// await blocks until the request completes or the context expires.
// A context expiry returns ErrRequestTimeout; the request is discarded so a
// late completion cannot leak into a later request's results.
func (r *pendingRegistry) await(ctx context.Context, requestID int64, req *pendingRequest) ([]ContractRecord, error) {
	select {
	case <-req.done:
		if req.err != nil {
			return nil, req.err
		}
		return req.records, nil
	case <-ctx.Done():
		r.discard(requestID)
		return nil, domain.ErrRequestTimeout
	}
}
