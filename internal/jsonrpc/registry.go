package jsonrpc

import (
	"encoding/json"
	"sync"
)

// ResponseCallback receives the outcome of a request: the server's error
// object or its raw result, exactly one of which is meaningful.
type ResponseCallback func(rpcErr *Error, result json.RawMessage)

// registry correlates outstanding request ids with their completion
// callbacks. Ids are positive integers assigned monotonically from 1 per
// transport instance. Each pending entry is removed at most once, either
// by the matching response or by a cancellation acknowledgement.
//
// Mutations are mutex-guarded so requests may be issued from goroutines
// other than the read loop.
type registry struct {
	mu      sync.Mutex
	nextID  int64
	pending map[int64]ResponseCallback
}

func newRegistry() *registry {
	return &registry{pending: make(map[int64]ResponseCallback)}
}

// register assigns the next id and stores cb under it. The caller must
// register before writing the request bytes so a response arriving
// arbitrarily fast is never missed.
func (r *registry) register(cb ResponseCallback) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.pending[r.nextID] = cb
	return r.nextID
}

// take removes and returns the callback for id, if any.
func (r *registry) take(id int64) (ResponseCallback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return cb, ok
}

// drop removes the entry for id without returning it. Used for
// cancellation acknowledgements, where the callback must never run.
func (r *registry) drop(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[id]
	delete(r.pending, id)
	return ok
}

// clear discards all pending entries, returning how many were dropped.
func (r *registry) clear() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.pending)
	r.pending = make(map[int64]ResponseCallback)
	return n
}

// size returns the number of outstanding requests.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
