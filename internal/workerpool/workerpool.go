// Package workerpool implements the fixed-size worker binding of §5: each
// interception is pinned at creation to one worker's job channel and DNS
// resolver, and every later callback for that interception runs on the
// same worker, so no cross-worker migration is possible.
//
// Grounded on the teacher's connSem-gated `go func()` dispatch in
// proxy.Server.Start, generalized from "spawn a goroutine per conn" to
// "hand the conn's callbacks to a pinned worker's channel".
package workerpool

import (
	"math"
	"net"
	"sync/atomic"
)

// Worker owns one job channel and one DNS resolver; all callbacks for
// interceptions bound to this worker are submitted to its channel and run
// by its single loop goroutine, in submission order.
type Worker struct {
	id       int
	jobs     chan func()
	resolver *net.Resolver
	load     int32
}

// ID returns the worker's index in the pool, used in log lines.
func (w *Worker) ID() int { return w.id }

// Resolver returns this worker's DNS resolver (§5: "each worker owns an
// event base and a DNS resolver").
func (w *Worker) Resolver() *net.Resolver { return w.resolver }

// Submit enqueues fn to run on this worker's loop goroutine.
func (w *Worker) Submit(fn func()) { w.jobs <- fn }

// Release decrements this worker's load counter once the interception
// bound to it has fully torn down.
func (w *Worker) Release() { atomic.AddInt32(&w.load, -1) }

func (w *Worker) run() {
	for fn := range w.jobs {
		fn()
	}
}

// Pool is a fixed-size set of workers.
type Pool struct {
	workers []*Worker
}

// New starts n workers, each with its own job channel and resolver.
func New(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{workers: make([]*Worker, n)}
	for i := range p.workers {
		w := &Worker{id: i, jobs: make(chan func(), 256), resolver: &net.Resolver{}}
		p.workers[i] = w
		go w.run()
	}
	return p
}

// Bind returns the least-loaded worker and increments its load counter;
// call (*Worker).Release when the interception bound to it tears down.
func (p *Pool) Bind() *Worker {
	var best *Worker
	bestLoad := int32(math.MaxInt32)
	for _, w := range p.workers {
		l := atomic.LoadInt32(&w.load)
		if l < bestLoad {
			bestLoad = l
			best = w
		}
	}
	atomic.AddInt32(&best.load, 1)
	return best
}

// Close stops every worker's loop. Jobs already submitted run to
// completion; no further Submit calls may be made after Close.
func (p *Pool) Close() {
	for _, w := range p.workers {
		close(w.jobs)
	}
}
