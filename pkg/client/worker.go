package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mnohosten/bridgepay/pkg/wire"
)

// Outcome is the terminal result of a queued transfer, delivered on the
// worker's outcome channel once the coordinator has answered.
type Outcome struct {
	Req    wire.TransferRequest
	Result wire.TransferResult
	Err    error
}

// Worker drains the offline queue. It polls the coordinator and, once
// reachable, replays queued transfers one at a time in queue order so
// duplicates and causally dependent transfers resolve deterministically.
type Worker struct {
	client   *Client
	queue    *Queue
	interval time.Duration
	logger   *zap.Logger

	outcomes chan Outcome

	mu     sync.Mutex
	paused bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWorker creates a queue worker polling at the given interval.
func NewWorker(client *Client, queue *Queue, interval time.Duration, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		client:   client,
		queue:    queue,
		interval: interval,
		logger:   logger,
		outcomes: make(chan Outcome, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Outcomes delivers terminal results of queued transfers. The channel
// is buffered; outcomes overflowing the buffer are logged and dropped.
func (w *Worker) Outcomes() <-chan Outcome { return w.outcomes }

// Start launches the polling loop.
func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.drain()
			case <-w.ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the polling loop. Queued transfers stay queued.
func (w *Worker) Stop() {
	w.once.Do(w.cancel)
	w.wg.Wait()
}

// Pause suspends draining, keeping the queue and its txids intact.
// Used when the coordinator rejects the token and a re-login is needed.
func (w *Worker) Pause() {
	w.mu.Lock()
	w.paused = true
	w.mu.Unlock()
}

// Resume restarts draining after a successful re-login.
func (w *Worker) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
}

// Paused reports whether draining is suspended.
func (w *Worker) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Submit attempts a transfer immediately when the queue is empty and
// the coordinator answers; otherwise it enqueues the request and
// reports it as queued. The txid in req is reused verbatim on every
// later retry.
func (w *Worker) Submit(ctx context.Context, req wire.TransferRequest) (wire.TransferResult, error) {
	// Never jump ahead of older queued transfers.
	if w.queue.Len() > 0 {
		w.queue.Enqueue(req)
		return wire.TransferResult{TxID: req.TxID, Status: wire.StatusQueued}, nil
	}

	result, err := w.client.Transfer(ctx, req)
	if err != nil && Offline(err) {
		w.queue.Enqueue(req)
		w.logger.Info("coordinator unreachable, transfer queued",
			zap.String("txid", req.TxID.String()))
		return wire.TransferResult{TxID: req.TxID, Status: wire.StatusQueued}, nil
	}
	return result, err
}

// drain replays queued transfers head-first until the queue empties,
// the coordinator drops away again, or an auth failure pauses the
// worker. A ping probe gates the replay so offline polls stay cheap
// instead of resubmitting the head transfer every interval.
func (w *Worker) drain() {
	if w.Paused() || w.queue.Len() == 0 {
		return
	}
	if err := w.client.Ping(w.ctx); err != nil {
		return
	}
	for {
		if w.Paused() {
			return
		}
		head, ok := w.queue.Head()
		if !ok {
			return
		}

		result, err := w.client.Transfer(w.ctx, head.Req)
		switch {
		case err == nil:
			// Committed, aborted, or a replayed duplicate outcome.
			w.queue.Dequeue(head.Req.TxID)
			w.emit(Outcome{Req: head.Req, Result: result})

		case Offline(err):
			w.queue.RecordAttempt(head.Req.TxID, err.Error())
			return

		case wire.CodeOf(err) == wire.CodeUnauthorized:
			// Token expired while offline. Keep the queue (and every
			// txid in it) and wait for a re-login.
			w.queue.RecordAttempt(head.Req.TxID, err.Error())
			w.Pause()
			w.logger.Warn("queue drain paused, re-login required",
				zap.String("txid", head.Req.TxID.String()))
			return

		default:
			if wire.CodeOf(err) == wire.CodeDuplicateTxn {
				// Still in flight on the coordinator; ask again later.
				w.queue.RecordAttempt(head.Req.TxID, err.Error())
				return
			}
			// Definitive rejection: surface it and move on.
			w.queue.Dequeue(head.Req.TxID)
			w.emit(Outcome{Req: head.Req, Err: err})
		}
	}
}

func (w *Worker) emit(o Outcome) {
	select {
	case w.outcomes <- o:
	default:
		w.logger.Warn("outcome channel full, dropping",
			zap.String("txid", o.Req.TxID.String()))
	}
}
