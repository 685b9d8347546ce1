package client

import (
	"sync"
	"time"

	"github.com/mnohosten/bridgepay/pkg/txid"
	"github.com/mnohosten/bridgepay/pkg/wire"
)

// PendingTransfer is one queued transfer. Its transaction ID was
// allocated when the transfer was first attempted and never changes,
// so retries are deduplicated server-side.
type PendingTransfer struct {
	Req        wire.TransferRequest
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

// Queue is an in-order queue of transfers waiting for the coordinator
// to become reachable.
type Queue struct {
	mu    sync.Mutex
	items []*PendingTransfer
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue appends a transfer. Enqueuing a txid already present returns
// the existing entry instead of adding a second one.
func (q *Queue) Enqueue(req wire.TransferRequest) *PendingTransfer {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range q.items {
		if p.Req.TxID == req.TxID {
			return p
		}
	}
	p := &PendingTransfer{Req: req, EnqueuedAt: time.Now()}
	q.items = append(q.items, p)
	return p
}

// Head returns a copy of the oldest pending transfer without removing
// it. Mutations go through RecordAttempt so they stay under the lock.
func (q *Queue) Head() (PendingTransfer, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return PendingTransfer{}, false
	}
	return *q.items[0], true
}

// RecordAttempt notes a failed delivery attempt on a queued transfer.
// Unknown txids are ignored; the entry may have drained concurrently.
func (q *Queue) RecordAttempt(id txid.TxID, lastError string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range q.items {
		if p.Req.TxID == id {
			p.Attempts++
			p.LastError = lastError
			return
		}
	}
}

// Dequeue removes the transfer with the given txid.
func (q *Queue) Dequeue(id txid.TxID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.items {
		if p.Req.TxID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// Len returns the number of pending transfers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Items returns a snapshot of the pending transfers in queue order.
func (q *Queue) Items() []PendingTransfer {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]PendingTransfer, len(q.items))
	for i, p := range q.items {
		out[i] = *p
	}
	return out
}
