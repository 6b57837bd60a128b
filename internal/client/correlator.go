package client

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/Secineralyr/Cotonestrum/internal/protocol"
)

// pendingRequest is a request awaiting its response. ch has room for
// exactly one Result.
type pendingRequest struct {
	op        protocol.Op
	ch        chan Result
	sentAt    time.Time
	span      trace.Span
	onSuccess func(Result)
	onFailure func(Result)
}

// deliver hands the result to the waiter and to the matching callback.
func (p *pendingRequest) deliver(res Result) {
	p.ch <- res
	if res.OK() {
		if p.onSuccess != nil {
			p.onSuccess(res)
		}
		return
	}
	if p.onFailure != nil {
		p.onFailure(res)
	}
}

// correlator maps request ids to pending requests. An entry is removed
// before its result is delivered, so a duplicate response finds nothing.
type correlator struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newCorrelator() *correlator {
	return &correlator{pending: make(map[string]*pendingRequest)}
}

func (c *correlator) add(reqID string, p *pendingRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[reqID] = p
}

func (c *correlator) take(reqID string) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[reqID]
	if ok {
		delete(c.pending, reqID)
	}
	return p, ok
}

// drain removes and returns every pending request.
func (c *correlator) drain() map[string]*pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := c.pending
	c.pending = make(map[string]*pendingRequest)
	return out
}

func (c *correlator) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
