// Package pool implements the worker pool that executes statement units.
//
// The pool owns a fixed set of workers, each holding one dedicated engine
// connection for its whole life. Workers drain a shared, unbounded job
// queue. When a unit opens an interactive transaction, the worker creates a
// private queue, hands its sending half to the scheduler (TxnBegin), and
// serves only that queue until the transaction commits, closes, or times
// out (TxnEnded). This keeps every statement of a transaction on the
// connection that began it.
//
// Lifecycle:
//
//	pool, jobs, err := NewWorkerPool(cfg, factory, log)
//	... jobs.Send(job) ...
//	jobs.Close()        // after closing every clone
//	err = pool.Join(ctx)
//
// Workers run on an ants goroutine pool sized to the worker count and are
// locked to their OS thread unless configured otherwise.
package pool

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/juju/clock"
	"github.com/panjf2000/ants/v2"

	"github.com/kartikbazzad/edgedb/internal/config"
	"github.com/kartikbazzad/edgedb/internal/errors"
	"github.com/kartikbazzad/edgedb/internal/logger"
	"github.com/kartikbazzad/edgedb/internal/metrics"
	"github.com/kartikbazzad/edgedb/internal/queue"
	"github.com/kartikbazzad/edgedb/internal/types"
)

// WorkerPool manages the workers and their completion signals.
type WorkerPool struct {
	cfg     config.PoolConfig
	gp      *ants.Pool
	jobs    *queue.Receiver[*Job]
	workers []*worker
	done    []chan struct{}
	clock   clock.Clock
	logger  *logger.Logger

	mu               sync.Mutex
	fatal            error
	releaseOnce      sync.Once
	unsetQueueSource func()

	busy      atomic.Int64
	openTxns  atomic.Int64
	processed atomic.Uint64
	timeouts  atomic.Uint64
}

// NewWorkerPool opens one connection per worker and starts the workers.
// It returns the pool and the sending half of the shared job queue.
//
// If the goroutine pool cannot be created or any connection cannot be
// opened, every connection already opened is closed and no worker is left
// running.
func NewWorkerPool(cfg *config.PoolConfig, factory ConnectionFactory, log *logger.Logger) (*WorkerPool, *JobSender, error) {
	return newWorkerPool(cfg, factory, log, clock.WallClock)
}

func newWorkerPool(cfg *config.PoolConfig, factory ConnectionFactory, log *logger.Logger, clk clock.Clock) (*WorkerPool, *JobSender, error) {
	if cfg == nil {
		cfg = config.DefaultPoolConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if log == nil {
		log = logger.Default()
	}

	n := cfg.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}

	conns := make([]Connection, 0, n)
	closeConns := func() {
		for _, c := range conns {
			if err := c.Close(); err != nil {
				log.Warn("Failed to close connection: %v", err)
			}
		}
	}

	for i := 0; i < n; i++ {
		c, err := factory()
		if err != nil {
			closeConns()
			return nil, nil, fmt.Errorf("%w: worker %d: %w", errors.ErrConnectionFactory, i, err)
		}
		conns = append(conns, c)
	}

	p := &WorkerPool{
		cfg:    *cfg,
		clock:  clk,
		logger: log,
	}

	gp, err := ants.NewPool(n,
		ants.WithPanicHandler(func(v any) {
			log.Error("Worker panic: %v", v)
		}),
		ants.WithLogger(log),
	)
	if err != nil {
		closeConns()
		return nil, nil, fmt.Errorf("%w: %w", errors.ErrPoolCreation, err)
	}
	p.gp = gp

	tx, rx := queue.New[*Job]()
	p.jobs = rx

	classifier := errors.NewClassifier()
	for i, c := range conns {
		w := &worker{
			id:         i,
			pool:       p,
			conn:       c,
			jobs:       rx,
			classifier: classifier,
			logger:     log.With("worker", i),
			done:       make(chan struct{}),
		}
		p.workers = append(p.workers, w)
		p.done = append(p.done, w.done)
	}

	for i, w := range p.workers {
		if err := gp.Submit(w.run); err != nil {
			// Stop the workers already running, then close the rest.
			tx.Close()
			for _, started := range p.workers[:i] {
				<-started.done
			}
			for _, rest := range p.workers[i:] {
				rest.conn.Close()
			}
			gp.Release()
			return nil, nil, fmt.Errorf("%w: %w", errors.ErrPoolCreation, err)
		}
	}

	p.unsetQueueSource = metrics.SetQueueDepthSource(rx.Len)

	log.Info("Worker pool started: %d workers, transaction timeout %v", n, cfg.TxnTimeout)
	return p, tx, nil
}

// Join waits for every worker to exit. Workers exit once the job queue is
// closed and drained; Join does not close it. It returns ctx.Err() if ctx
// ends first, otherwise the first fatal worker error, if any.
func (p *WorkerPool) Join(ctx context.Context) error {
	for _, done := range p.done {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.releaseOnce.Do(func() {
		p.gp.Release()
		p.unsetQueueSource()
		p.logger.Info("Worker pool stopped")
	})
	return p.fatalErr()
}

// Stats returns a point-in-time snapshot of pool activity.
func (p *WorkerPool) Stats() types.Stats {
	return types.Stats{
		Workers:          len(p.workers),
		BusyWorkers:      int(p.busy.Load()),
		OpenTransactions: int(p.openTxns.Load()),
		QueueDepth:       p.jobs.Len(),
		JobsProcessed:    p.processed.Load(),
		TxnTimeouts:      p.timeouts.Load(),
	}
}

func (p *WorkerPool) setFatal(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fatal == nil {
		p.fatal = err
	}
}

func (p *WorkerPool) fatalErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatal
}
