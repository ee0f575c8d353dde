package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrWorkerClosed is returned for requests sent to, or pending on, a closed worker.
var ErrWorkerClosed = errors.New("search worker closed")

const workerQueueSize = 16

// Ack acknowledges a SetData request.
type Ack struct {
	Seq        uint64 `json:"seq"`
	Generation uint64 `json:"generation"`
	Rows       int    `json:"rows"`
}

// Match is the answer to one Search request. Rows are taken from the same
// generation the indices were computed against.
type Match struct {
	Seq        uint64           `json:"seq"`
	Generation uint64           `json:"generation"`
	Query      string           `json:"query"`
	Indices    []int            `json:"indices"`
	Rows       []map[string]any `json:"rows,omitempty"`
}

type workerRequest struct {
	ctx     context.Context
	seq     uint64
	setData bool
	rows    []map[string]any
	query   string
	reply   chan workerReply
}

type workerReply struct {
	ack   Ack
	match Match
	err   error
}

// Worker owns one Index on a dedicated goroutine. Requests are handled
// strictly in the order they were issued. Every request gets a sequence
// number; a Match whose Seq is older than Latest has been superseded.
type Worker struct {
	requests chan workerRequest
	done     chan struct{}
	stopped  chan struct{}
	// enqueue is a one-slot lock ordering sequence assignment with the
	// channel send. Waiters can still give up on their own ctx.
	enqueue chan struct{}

	nextSeq    uint64
	latest     atomic.Uint64
	generation atomic.Uint64
	closeOnce  sync.Once
}

// NewWorker starts a worker goroutine. Call Close to stop it.
func NewWorker() *Worker {
	w := newWorker(workerQueueSize)
	go w.run()
	return w
}

func newWorker(queue int) *Worker {
	return &Worker{
		requests: make(chan workerRequest, queue),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		enqueue:  make(chan struct{}, 1),
	}
}

func (w *Worker) run() {
	defer close(w.stopped)
	index := &Index{}
	var generation uint64
	for {
		select {
		case <-w.done:
			return
		case req := <-w.requests:
			if req.setData {
				generation++
				rows := index.SetData(req.rows)
				w.generation.Store(generation)
				req.reply <- workerReply{ack: Ack{Seq: req.seq, Generation: generation, Rows: rows}}
				continue
			}
			indices, err := index.SearchContext(req.ctx, req.query)
			if err != nil {
				req.reply <- workerReply{err: err}
				continue
			}
			req.reply <- workerReply{match: Match{
				Seq:        req.seq,
				Generation: generation,
				Query:      req.query,
				Indices:    indices,
				Rows:       index.Rows(indices),
			}}
		}
	}
}

// SetData replaces the worker's rows. The returned Ack carries the new data
// generation and the row count.
func (w *Worker) SetData(ctx context.Context, rows []map[string]any) (Ack, error) {
	reply, err := w.send(ctx, workerRequest{setData: true, rows: rows})
	if err != nil {
		return Ack{}, err
	}
	return reply.ack, reply.err
}

// Search queries the current rows. A cancelled ctx aborts both the wait and
// a scan already in progress.
func (w *Worker) Search(ctx context.Context, query string) (Match, error) {
	reply, err := w.send(ctx, workerRequest{query: query})
	if err != nil {
		return Match{}, err
	}
	return reply.match, reply.err
}

func (w *Worker) send(ctx context.Context, req workerRequest) (workerReply, error) {
	req.ctx = ctx
	req.reply = make(chan workerReply, 1)

	select {
	case <-w.done:
		return workerReply{}, ErrWorkerClosed
	default:
	}

	select {
	case w.enqueue <- struct{}{}:
	case <-w.done:
		return workerReply{}, ErrWorkerClosed
	case <-ctx.Done():
		return workerReply{}, ctx.Err()
	}
	w.nextSeq++
	req.seq = w.nextSeq
	select {
	case w.requests <- req:
	case <-w.done:
		<-w.enqueue
		return workerReply{}, ErrWorkerClosed
	case <-ctx.Done():
		<-w.enqueue
		return workerReply{}, ctx.Err()
	}
	if !req.setData {
		w.latest.Store(req.seq)
	}
	<-w.enqueue

	select {
	case reply := <-req.reply:
		return reply, nil
	case <-w.done:
		return workerReply{}, ErrWorkerClosed
	case <-ctx.Done():
		return workerReply{}, ctx.Err()
	}
}

// Latest is the sequence number of the most recently issued search.
func (w *Worker) Latest() uint64 {
	return w.latest.Load()
}

// Generation is the data generation of the most recent SetData.
func (w *Worker) Generation() uint64 {
	return w.generation.Load()
}

// Stale reports whether m was superseded by a newer search or computed
// against rows that have since been replaced.
func (w *Worker) Stale(m Match) bool {
	return m.Seq < w.Latest() || m.Generation < w.Generation()
}

// Close stops the worker and waits for its goroutine to exit. Pending
// requests fail with ErrWorkerClosed.
func (w *Worker) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
}
