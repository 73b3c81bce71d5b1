package workerpool

import (
	"context"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmitar/moviecatalogd/internal/catalog"
	"github.com/marmitar/moviecatalogd/internal/workqueue"
)

func pipeConn(t *testing.T) (client, server net.Conn) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() {
		c.Close()
		s.Close()
	})
	return c, s
}

func TestPoolProcessesEnqueuedConnections(t *testing.T) {
	t.Parallel()

	q := workqueue.New(4)
	processed := make(chan uint64, 4)
	handle := func(ctx context.Context, workerID uint64, conn net.Conn, store *catalog.Conn) bool {
		conn.Close()
		processed <- workerID
		return true
	}

	p := New(q, 2, ":memory:", 3, handle, nil)
	p.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	client, _ := pipeConn(t)
	if !p.EnqueueConn(client) {
		t.Fatal("EnqueueConn returned false")
	}

	select {
	case <-processed:
	case <-time.After(2 * time.Second):
		t.Fatal("connection was never processed")
	}
}

func TestEnqueueConnAfterShutdownClosesAndReturnsTrue(t *testing.T) {
	t.Parallel()

	q := workqueue.New(4)
	handle := func(context.Context, uint64, net.Conn, *catalog.Conn) bool { return true }
	p := New(q, 1, ":memory:", 0, handle, nil)
	p.shuttingDown.Store(true)

	client, _ := pipeConn(t)
	if !p.EnqueueConn(client) {
		t.Fatal("EnqueueConn during shutdown returned false")
	}
	if _, err := client.Read(make([]byte, 1)); err != io.ErrClosedPipe && err == nil {
		t.Fatal("connection was not closed")
	}
}

func TestEnqueueConnFailsWhenFullAndNoRetries(t *testing.T) {
	t.Parallel()

	q := workqueue.New(1)
	started := make(chan struct{})
	release := make(chan struct{})
	var blocked atomic.Bool
	handle := func(ctx context.Context, workerID uint64, conn net.Conn, store *catalog.Conn) bool {
		if blocked.CompareAndSwap(false, true) {
			close(started)
			<-release
		}
		conn.Close()
		return true
	}

	p := New(q, 1, ":memory:", 0, handle, nil)
	p.Start(context.Background())
	defer func() {
		close(release)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	first, _ := pipeConn(t)
	if !p.EnqueueConn(first) {
		t.Fatal("first EnqueueConn returned false")
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the first connection")
	}

	second, _ := pipeConn(t)
	if !p.EnqueueConn(second) {
		t.Fatal("second EnqueueConn returned false (queue should have room for one)")
	}

	third, _ := pipeConn(t)
	if p.EnqueueConn(third) {
		t.Fatal("third EnqueueConn on a full queue with no retries returned true")
	}
}

func TestStopWaitsForWorkersToExit(t *testing.T) {
	t.Parallel()

	q := workqueue.New(4)
	handle := func(context.Context, uint64, net.Conn, *catalog.Conn) bool { return true }
	p := New(q, 3, ":memory:", 0, handle, nil)
	p.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !p.AllDead() {
		t.Fatal("AllDead() = false after Stop")
	}
}

func TestWorkerRespawnsAfterHardError(t *testing.T) {
	t.Parallel()

	q := workqueue.New(4)
	var calls atomic.Int32
	handle := func(ctx context.Context, workerID uint64, conn net.Conn, store *catalog.Conn) bool {
		conn.Close()
		n := calls.Add(1)
		return n != 1 // first call reports a hard error
	}

	p := New(q, 1, ":memory:", 3, handle, nil)
	p.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p.Stop(ctx)
	}()

	first, _ := pipeConn(t)
	p.EnqueueConn(first)

	deadline := time.After(2 * time.Second)
	for calls.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("first call never happened")
		case <-time.After(time.Millisecond):
		}
	}

	// Give the dead worker a moment to mark its slot, then enqueue a
	// second connection: EnqueueConn's revival pass should respawn it.
	deadline = time.After(2 * time.Second)
	for !p.AllDead() {
		select {
		case <-deadline:
			t.Fatal("worker slot was never marked dead after the hard error")
		case <-time.After(time.Millisecond):
		}
	}

	second, _ := pipeConn(t)
	deadline = time.After(2 * time.Second)
	for {
		if p.EnqueueConn(second) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("could not enqueue after worker died")
		default:
		}
	}

	deadline = time.After(2 * time.Second)
	for calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("second call never happened after respawn")
		case <-time.After(time.Millisecond):
		}
	}
}
