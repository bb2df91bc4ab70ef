package deriv

import (
	"encoding/json"
	"sync"
)

type pendingResult struct {
	data json.RawMessage
	err  error
}

// pendingTable correlates in-flight requests with their responses by req_id.
// IDs come from a monotonic counter that resets with each connection, so a
// response from a dead socket can never resolve a request on the new one.
type pendingTable struct {
	mu      sync.Mutex
	nextID  int64
	waiting map[int64]chan pendingResult
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		waiting: make(map[int64]chan pendingResult),
	}
}

// register allocates a req_id and a buffered result channel for it
func (p *pendingTable) register() (int64, chan pendingResult) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	ch := make(chan pendingResult, 1)
	p.waiting[id] = ch
	return id, ch
}

// resolve delivers a response to the waiter, if it is still waiting
func (p *pendingTable) resolve(id int64, data json.RawMessage, err error) {
	p.mu.Lock()
	ch, ok := p.waiting[id]
	if ok {
		delete(p.waiting, id)
	}
	p.mu.Unlock()

	if ok {
		ch <- pendingResult{data: data, err: err}
	}
}

// drop abandons a request after a timeout so a late response is discarded
func (p *pendingTable) drop(id int64) {
	p.mu.Lock()
	delete(p.waiting, id)
	p.mu.Unlock()
}

// failAll rejects every in-flight request, used when the connection dies
func (p *pendingTable) failAll(err error) {
	p.mu.Lock()
	waiting := p.waiting
	p.waiting = make(map[int64]chan pendingResult)
	p.mu.Unlock()

	for _, ch := range waiting {
		ch <- pendingResult{err: err}
	}
}

// reset starts a fresh id sequence for a new connection
func (p *pendingTable) reset() {
	p.mu.Lock()
	p.nextID = 0
	p.mu.Unlock()
}
