package pool

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kartikbazzad/edgedb/internal/logger"
)

// ShutdownTimeout is the default time allowed for workers to drain.
const ShutdownTimeout = 30 * time.Second

// GracefulShutdown stops ingress and joins the pool, on a signal or on an
// explicit call. It runs at most once.
type GracefulShutdown struct {
	pool        *WorkerPool
	stopIngress func()
	logger      *logger.Logger
	timeout     time.Duration
	shutdownCh  chan os.Signal

	mu           sync.Mutex
	shuttingDown bool
	done         chan struct{}
	err          error
}

// NewGracefulShutdown creates a shutdown handler. stopIngress must close
// every job sender handle so the workers can drain and exit.
func NewGracefulShutdown(pool *WorkerPool, stopIngress func(), log *logger.Logger) *GracefulShutdown {
	return &GracefulShutdown{
		pool:        pool,
		stopIngress: stopIngress,
		logger:      log,
		timeout:     ShutdownTimeout,
		shutdownCh:  make(chan os.Signal, 1),
		done:        make(chan struct{}),
	}
}

// WithTimeout sets the join timeout.
func (gs *GracefulShutdown) WithTimeout(d time.Duration) *GracefulShutdown {
	gs.timeout = d
	return gs
}

// StartSignalHandling starts listening for shutdown signals (SIGTERM, SIGINT).
func (gs *GracefulShutdown) StartSignalHandling() {
	signal.Notify(gs.shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-gs.shutdownCh:
			gs.logger.Info("Received shutdown signal: %v", sig)
			gs.Shutdown()
		case <-gs.done:
		}
	}()
}

// Done is closed once shutdown has completed.
func (gs *GracefulShutdown) Done() <-chan struct{} {
	return gs.done
}

// Shutdown stops ingress and waits for the workers. Concurrent and repeated
// calls wait for the first one and return its result.
func (gs *GracefulShutdown) Shutdown() error {
	gs.mu.Lock()
	if gs.shuttingDown {
		gs.mu.Unlock()
		<-gs.done
		return gs.err
	}
	gs.shuttingDown = true
	gs.mu.Unlock()

	defer close(gs.done)
	defer signal.Stop(gs.shutdownCh)

	gs.logger.Info("Starting graceful shutdown (timeout: %v)", gs.timeout)

	// Phase 1: stop accepting new jobs
	if gs.stopIngress != nil {
		gs.stopIngress()
	}
	gs.logger.Info("Stopped accepting new jobs")

	// Phase 2: let workers drain the queue and finish open transactions
	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	if err := gs.pool.Join(ctx); err != nil {
		gs.logger.Warn("Worker drain incomplete: %v", err)
		gs.err = err
		return err
	}

	gs.logger.Info("Graceful shutdown complete")
	return nil
}
