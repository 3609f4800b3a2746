package transport

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Blockstream/cln-lsps/lsps/common"
)

// RequestID identifies an in-flight request: the peer it was sent to plus
// the JSON-RPC id of the message. The caller must never reuse an id while a
// request for it is pending; generated ids carry 80 bits of entropy so
// collisions are not a practical concern.
type RequestID struct {
	Peer  string
	MsgId string
}

func NewRequestID(peer string, id common.JsonRpcId) RequestID {
	return RequestID{Peer: peer, MsgId: id.Key()}
}

// Matcher correlates asynchronous responses with pending requests. Register
// must be called before the request is sent so that an immediate response
// cannot race past the pending entry. The internal map is guarded by a
// mutex held only for O(1) map operations, never while waiting.
type Matcher struct {
	mu      sync.Mutex
	pending map[RequestID]chan json.RawMessage
}

func NewMatcher() *Matcher {
	return &Matcher{
		pending: make(map[RequestID]chan json.RawMessage),
	}
}

// PendingRequest is the awaitable side of a registered request.
type PendingRequest struct {
	id      RequestID
	matcher *Matcher
	ch      chan json.RawMessage
}

// Register creates a pending entry for id. The returned PendingRequest must
// either be waited on or cancelled; otherwise the entry leaks.
func (m *Matcher) Register(id RequestID) *PendingRequest {
	ch := make(chan json.RawMessage, 1)
	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()
	return &PendingRequest{id: id, matcher: m, ch: ch}
}

// Resolve delivers a response to the pending request with the given id and
// reports whether one existed. Unknown ids (duplicates, unsolicited or
// late responses) are a no-op returning false. A request is resolved at
// most once: the entry is removed before delivery.
func (m *Matcher) Resolve(id RequestID, response json.RawMessage) bool {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	// Buffered; the waiter may arrive later or already be gone.
	ch <- response
	return true
}

// Wait blocks until the response arrives or ctx is done. Cancellation
// removes the pending entry so the map does not grow under sustained
// timeouts.
func (p *PendingRequest) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case resp := <-p.ch:
		return resp, nil
	case <-ctx.Done():
		p.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel deregisters the pending request if it has not been resolved yet.
func (p *PendingRequest) Cancel() {
	p.matcher.mu.Lock()
	delete(p.matcher.pending, p.id)
	p.matcher.mu.Unlock()
}

// PendingCount returns the number of unresolved requests.
func (m *Matcher) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
