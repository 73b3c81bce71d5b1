// Command catalogd is the movie catalog TCP server: accept
// connections, parse a YAML operation stream from each, and run them
// against a SQLite-backed catalog. Startup is entirely env-driven
// (internal/config); there are no flags and no subcommands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/marmitar/moviecatalogd/internal/catalog"
	"github.com/marmitar/moviecatalogd/internal/config"
	"github.com/marmitar/moviecatalogd/internal/handler"
	"github.com/marmitar/moviecatalogd/internal/workerpool"
	"github.com/marmitar/moviecatalogd/internal/workqueue"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Printf("catalogd: %v", err)
		return 1
	}

	catalog.SetCleanupLogger(func(err error) {
		logger.Printf("catalogd: %v", err)
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	listener, err := listen(cfg.ListenPort)
	if err != nil {
		logger.Printf("catalogd: %v", err)
		return 1
	}
	defer listener.Close()

	queue := workqueue.New(cfg.QueueCapacity)
	pool := workerpool.New(queue, cfg.WorkersCapacity, cfg.DSN(), cfg.EnqueueRetries, handler.Handle, logger)
	pool.Start(ctx)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return acceptLoop(groupCtx, listener, pool, cfg.SocketTimeout, logger)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("catalogd: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		logger.Printf("catalogd: %v", err)
		return 1
	}
	return 0
}

// listen opens the accept socket with SO_REUSEADDR set, matching the
// specification's accept-loop contract for restart-friendly rebinding.
func listen(port int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			if err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return sockErr
		},
	}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("catalogd: listen on port %d: %w", port, err)
	}
	return ln, nil
}

// acceptLoop runs until ctx is done, handing each accepted connection
// to the worker pool's enqueue path. A connection that cannot be
// enqueued (pool exhausted) is closed by the caller, matching the
// pool's ownership contract.
func acceptLoop(ctx context.Context, listener net.Listener, pool *workerpool.Pool, timeout time.Duration, logger *log.Logger) error {
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("catalogd: accept: %w", err)
		}

		if err := setSocketTimeouts(conn, timeout); err != nil {
			logger.Printf("catalogd: set socket timeouts: %v", err)
		}

		if !pool.EnqueueConn(conn) {
			logger.Printf("catalogd: dropping connection, pool is exhausted")
			conn.Close()
		}
	}
}

// setSocketTimeouts applies SO_RCVTIMEO/SO_SNDTIMEO to an accepted
// TCP connection so a stalled client cannot pin a worker forever.
func setSocketTimeouts(conn net.Conn, timeout time.Duration) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return fmt.Errorf("syscall conn: %w", err)
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		if err := unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
			sockErr = err
			return
		}
		sockErr = unix.SetsockoptTimeval(int(fd), unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
	}); err != nil {
		return err
	}
	return sockErr
}
