// Package workerpool implements the fixed-size supervised pool of
// request-handling goroutines described in §4.H. Each worker owns a
// private catalog.Conn (its own SQLite connection and scratch Arena)
// for its entire life, drains workqueue.Queue, and is replaced in
// place if its handler reports a HardError.
package workerpool

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/marmitar/moviecatalogd/internal/builder"
	"github.com/marmitar/moviecatalogd/internal/catalog"
	"github.com/marmitar/moviecatalogd/internal/util"
	"github.com/marmitar/moviecatalogd/internal/workqueue"
)

// HandlerFunc processes one accepted connection to completion. It
// returns true if it exited normally (ParseDone or a clean close) and
// false if it hit a HardError, signaling the pool to tear down and
// respawn the worker that ran it.
type HandlerFunc func(ctx context.Context, workerID uint64, conn net.Conn, store *catalog.Conn) bool

// Pool is the worker set (§4.H). The zero value is not usable;
// construct with New.
type Pool struct {
	queue   *workqueue.Queue
	dsn     string
	handle  HandlerFunc
	retries int
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	slots []*slot

	nextID       atomic.Uint64
	shuttingDown atomic.Bool
}

type slot struct {
	id    atomic.Uint64
	alive atomic.Bool
}

// New constructs a Pool that will spawn capacity workers, each
// connecting to dsn, on Start. retries bounds the enqueue spin-retry
// budget (§4.H "add_work"). logger receives worker lifecycle and
// panic-recovery messages; a nil logger is replaced by log.Default,
// the process's standard logger.
func New(queue *workqueue.Queue, capacity int, dsn string, retries int, handle HandlerFunc, logger *log.Logger) *Pool {
	if capacity <= 0 {
		panic("workerpool: capacity must be positive")
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &Pool{
		queue:   queue,
		dsn:     dsn,
		handle:  handle,
		retries: retries,
		logger:  logger,
		slots:   make([]*slot, capacity),
	}
	for i := range p.slots {
		p.slots[i] = &slot{}
	}
	return p
}

// Start spawns every worker and returns immediately; workers run
// until ctx is done or Stop is called.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.slots {
		p.spawnLocked(i)
	}
}

// spawnLocked must be called with p.mu held.
func (p *Pool) spawnLocked(slotIdx int) {
	id := p.nextID.Add(1)
	s := p.slots[slotIdx]
	s.id.Store(id)
	s.alive.Store(true)

	p.wg.Add(1)
	util.SafeGo(func() { p.runWorker(slotIdx, id) })
}

func (p *Pool) runWorker(slotIdx int, id uint64) {
	defer p.wg.Done()
	defer p.slots[slotIdx].alive.Store(false)

	arena := builder.New()
	store, err := catalog.Connect(p.ctx, p.dsn, arena)
	if err != nil {
		p.logger.Printf("workerpool: worker %d: connect: %v", id, err)
		return
	}
	defer func() {
		if err := store.Disconnect(); err != nil {
			p.logger.Printf("workerpool: worker %d: disconnect: %v", id, err)
		}
	}()

	for {
		if p.ctx.Err() != nil {
			return
		}

		conn, ok := p.queue.Pop()
		if !ok {
			if !p.queue.WaitNotEmpty(p.ctx) {
				if p.ctx.Err() != nil {
					return
				}
				continue
			}
			continue
		}

		if !p.handle(p.ctx, id, conn, store) {
			p.logger.Printf("workerpool: worker %d: hard error, tearing down connection", id)
			return
		}
	}
}

// EnqueueConn is the accept loop's add_work path. If the pool is
// shutting down the connection is closed and true is returned (a
// clean drop, not a failure). Otherwise every slot is checked for
// liveness and dead ones are respawned before attempting to push;
// push is retried up to p.retries times against a full queue. Returns
// false if the connection could not be enqueued, in which case the
// caller owns closing it.
func (p *Pool) EnqueueConn(conn net.Conn) bool {
	if p.shuttingDown.Load() {
		conn.Close()
		return true
	}

	p.reviveDeadSlots()

	for attempt := 0; attempt <= p.retries; attempt++ {
		if p.queue.Push(conn) {
			return true
		}
	}
	return false
}

func (p *Pool) reviveDeadSlots() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.slots {
		if !s.alive.Load() {
			p.spawnLocked(i)
		}
	}
}

// AllDead reports whether every worker slot is currently dead (used
// by callers deciding whether the service can make progress at all).
func (p *Pool) AllDead() bool {
	for _, s := range p.slots {
		if s.alive.Load() {
			return false
		}
	}
	return true
}

// Stop requests every worker to exit, clears the queue, and waits for
// all worker goroutines to finish or ctx to be done, whichever comes
// first.
func (p *Pool) Stop(ctx context.Context) error {
	p.shuttingDown.Store(true)
	p.queue.Shutdown()
	if p.cancel != nil {
		p.cancel()
	}
	p.queue.Clear()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workerpool: stop: %w", ctx.Err())
	}
}
