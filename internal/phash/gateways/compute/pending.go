package compute

import (
	"sync"

	"github.com/user1303836/x-gif-blocker/internal/phash/domain"
)

type callResult struct {
	resp domain.ComputeResponse
	err  error
}

// pendingCalls maps correlation ids to waiting callers. Each id resolves at
// most once; late or unknown replies are dropped.
type pendingCalls struct {
	mu    sync.Mutex
	calls map[string]chan callResult
}

func newPendingCalls() *pendingCalls {
	return &pendingCalls{calls: make(map[string]chan callResult)}
}

func (p *pendingCalls) register(id string) <-chan callResult {
	ch := make(chan callResult, 1)
	p.mu.Lock()
	p.calls[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *pendingCalls) cancel(id string) {
	p.mu.Lock()
	delete(p.calls, id)
	p.mu.Unlock()
}

func (p *pendingCalls) resolve(resp domain.ComputeResponse) bool {
	p.mu.Lock()
	ch, ok := p.calls[resp.RequestID]
	delete(p.calls, resp.RequestID)
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- callResult{resp: resp}
	return true
}

func (p *pendingCalls) failAll(err error) int {
	p.mu.Lock()
	calls := p.calls
	p.calls = make(map[string]chan callResult)
	p.mu.Unlock()
	for _, ch := range calls {
		ch <- callResult{err: err}
	}
	return len(calls)
}

func (p *pendingCalls) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
