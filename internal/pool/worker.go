package pool

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/kartikbazzad/edgedb/internal/errors"
	"github.com/kartikbazzad/edgedb/internal/logger"
	"github.com/kartikbazzad/edgedb/internal/metrics"
	"github.com/kartikbazzad/edgedb/internal/queue"
	"github.com/kartikbazzad/edgedb/internal/statements"
	"github.com/kartikbazzad/edgedb/internal/types"
)

// worker owns one connection and serves the shared queue, or a private
// queue while a transaction is pinned to it.
type worker struct {
	id         int
	pool       *WorkerPool
	conn       Connection
	jobs       *queue.Receiver[*Job]
	classifier *errors.Classifier
	logger     *logger.Logger
	done       chan struct{}
}

func (w *worker) run() {
	if w.pool.cfg.LockOSThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer w.exit()

	w.logger.Debug("Worker started")
	for {
		job, err := w.jobs.Recv()
		if err != nil {
			return
		}

		w.pool.busy.Add(1)
		metrics.BusyWorkers.Inc()
		w.handle(job)
		w.pool.busy.Add(-1)
		metrics.BusyWorkers.Dec()
	}
}

// exit releases the connection and fires the completion signal. A panic is
// recorded on the pool and handed on to the goroutine pool's handler.
func (w *worker) exit() {
	r := recover()
	if r != nil {
		if err, ok := r.(error); ok {
			w.pool.setFatal(err)
		} else {
			w.pool.setFatal(fmt.Errorf("worker %d panicked: %v", w.id, r))
		}
	}

	if err := w.conn.Close(); err != nil {
		w.logger.Warn("Failed to close connection: %v", err)
	}
	close(w.done)
	w.logger.Debug("Worker exited")

	if r != nil {
		panic(r)
	}
}

// handle runs job, then any jobs its transaction left behind, in order.
func (w *worker) handle(job *Job) {
	pending := []*Job{job}
	for len(pending) > 0 {
		job, pending = pending[0], pending[1:]
		w.logger.Debug("Executing %q", job.Statements.String())

		if job.Statements.State(statements.Start) == statements.TxnOpened {
			pending = w.handleTransaction(job, pending)
			continue
		}

		// Any other tag, including Invalid, is left for the engine to reject.
		msg := w.execute(job)
		job.Responder.Respond(msg)
		w.notify(job.Scheduler, Ready{Endpoint: job.Endpoint})
	}
}

// handleTransaction serves job's session exclusively until its transaction
// closes or times out. backlog holds the session's jobs that were already
// queued behind job; they are served before anything the scheduler forwards.
// It returns the jobs that remain once the transaction has closed.
func (w *worker) handleTransaction(job *Job, backlog []*Job) []*Job {
	endpoint := job.Endpoint
	sched := job.Scheduler
	log := w.logger.With("endpoint", string(endpoint))

	tx, rx := queue.New[*Job]()
	for _, j := range backlog {
		// rx is still open, so this cannot fail.
		_ = tx.Send(j)
	}

	w.pool.openTxns.Add(1)
	metrics.OpenTransactions.Inc()
	defer func() {
		w.pool.openTxns.Add(-1)
		metrics.OpenTransactions.Dec()
	}()

	// The pin is announced before the first result goes out, so the
	// session's next statement is already routed here.
	w.notify(sched, TxnBegin{Endpoint: endpoint, Sender: tx})
	log.Debug("Transaction pinned")

	timeout := w.pool.cfg.TxnTimeout
	deadline := w.pool.clock.Now().Add(timeout)
	current := job

	for {
		msg := w.execute(current)

		if current.Statements.State(statements.TxnOpened) == statements.TxnClosed && !msg.IsErr() {
			rest := rx.Close()
			w.notify(sched, TxnEnded{Endpoint: endpoint})
			result := metrics.TxnCommitted
			if current.Statements.ClosingKind() == statements.KindRollback {
				result = metrics.TxnRolledBack
			}
			metrics.TransactionsTotal.WithLabelValues(result).Inc()
			current.Responder.Respond(msg)
			log.Debug("Transaction closed (%s)", result)

			// Jobs that raced the close still belong to this session.
			return rest
		}

		// Still open, failed, or invalid: the engine keeps whatever state
		// it is in and the session keeps this worker.
		current.Responder.Respond(msg)

		next, ok := w.waitNext(rx, deadline)
		if !ok {
			w.abortTransaction(current, rx, sched, log)
			return nil
		}
		current = next
		if w.pool.cfg.RefreshDeadline {
			deadline = w.pool.clock.Now().Add(timeout)
		}
	}
}

// waitNext receives the next job of the transaction, or reports false once
// the deadline has passed.
func (w *worker) waitNext(rx *queue.Receiver[*Job], deadline time.Time) (*Job, bool) {
	remaining := deadline.Sub(w.pool.clock.Now())
	if remaining <= 0 {
		return nil, false
	}

	timer := w.pool.clock.NewTimer(remaining)
	defer timer.Stop()

	next, err := rx.RecvTimeout(timer.Chan())
	switch {
	case err == nil:
		return next, true
	case errors.Is(err, queue.ErrClosed):
		// The scheduler dropped the private sender. Nothing more can
		// arrive; hold the transaction until it expires.
		<-timer.Chan()
		return nil, false
	default:
		return nil, false
	}
}

// abortTransaction rolls back an expired transaction and releases the
// session back to the shared queue.
func (w *worker) abortTransaction(last *Job, rx *queue.Receiver[*Job], sched SchedulerHandle, log *logger.Logger) {
	log.Warn("Rolling back transaction: no statement within %v", w.pool.cfg.TxnTimeout)
	if err := w.conn.Rollback(context.Background()); err != nil {
		log.Warn("Rollback failed: %v", err)
	}

	timedOut := types.ErrorMessage(types.TxTimeout, errors.ErrTxnTimeout.Error())
	last.Responder.Respond(timedOut)

	rest := rx.Close()
	w.notify(sched, TxnEnded{Endpoint: last.Endpoint})
	for _, j := range rest {
		j.Responder.Respond(timedOut)
	}

	w.pool.timeouts.Add(1)
	metrics.TransactionsTotal.WithLabelValues(metrics.TxnTimedOut).Inc()
}

// execute runs a statement unit. Engine errors become SQLError outcomes and
// never stop the worker.
func (w *worker) execute(job *Job) types.Message {
	start := time.Now()
	rows, err := w.conn.Execute(context.Background(), job.Statements)
	w.pool.processed.Add(1)

	if err != nil {
		metrics.RecordJob(metrics.OutcomeError, time.Since(start))
		category := w.classifier.Classify(err)
		metrics.RecordError(category.String())
		if w.classifier.IsCritical(category) {
			w.logger.Error("Execution failed (%s): %v", category, err)
		} else {
			w.logger.Debug("Execution failed (%s): %v", category, err)
		}
		return types.ErrorMessage(types.SQLError, err.Error())
	}

	metrics.RecordJob(metrics.OutcomeOK, time.Since(start))
	return types.ResultSet(rows)
}

// notify forwards a lifecycle message. A scheduler that can no longer
// receive is a fatal lifecycle error for this worker. A nil handle discards
// the message.
func (w *worker) notify(sched SchedulerHandle, msg UpdateStateMessage) {
	if sched == nil {
		return
	}
	if err := sched.Notify(msg); err != nil {
		panic(fmt.Errorf("%w: worker %d: %w", errors.ErrSchedulerGone, w.id, err))
	}
}
