// Package scheduler routes submitted statement units to workers.
//
// Jobs for an endpoint go to the shared job queue unless a worker has
// pinned the endpoint's transaction (TxnBegin), in which case they go to
// that worker's private queue until TxnEnded. A single goroutine applies
// submissions and worker notifications in arrival order, so a job is never
// routed on stale pin state.
//
// Shutdown order:
//
//	s.Drain()     // reject new submissions, close the shared queue
//	pool.Join(ctx)
//	s.Stop()      // workers are gone, stop routing
package scheduler

import (
	"fmt"
	"sync"

	"github.com/kartikbazzad/edgedb/internal/errors"
	"github.com/kartikbazzad/edgedb/internal/logger"
	"github.com/kartikbazzad/edgedb/internal/metrics"
	"github.com/kartikbazzad/edgedb/internal/pool"
	"github.com/kartikbazzad/edgedb/internal/queue"
	"github.com/kartikbazzad/edgedb/internal/statements"
	"github.com/kartikbazzad/edgedb/internal/types"
)

const (
	eventSubmit   = "submit"
	eventPinned   = "routed_private"
	eventFallback = "fallback"
	eventBegin    = "txn_begin"
	eventEnded    = "txn_ended"
	eventReady    = "ready"
	eventReplaced = "pin_replaced"
)

type event struct {
	job    *pool.Job
	notify pool.UpdateStateMessage
	drain  bool
}

// Scheduler is the reference pool.SchedulerHandle implementation.
type Scheduler struct {
	jobs   *pool.JobSender
	inbox  *queue.Sender[event]
	events *queue.Receiver[event]
	logger *logger.Logger

	mu       sync.RWMutex
	pins     map[types.Endpoint]*pool.JobSender
	draining bool

	startOnce sync.Once
	done      chan struct{}
}

// New creates a scheduler feeding jobs. The scheduler takes ownership of
// the jobs handle and closes it on Drain.
func New(jobs *pool.JobSender, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	inbox, events := queue.New[event]()
	return &Scheduler{
		jobs:   jobs,
		inbox:  inbox,
		events: events,
		logger: log.With("component", "scheduler"),
		pins:   make(map[types.Endpoint]*pool.JobSender),
		done:   make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		go s.loop()
	})
}

// Submit parses sql and routes it for endpoint. The outcome is delivered
// to responder.
func (s *Scheduler) Submit(endpoint types.Endpoint, sql string, responder pool.Responder) error {
	s.mu.RLock()
	draining := s.draining
	s.mu.RUnlock()
	if draining {
		return errors.ErrSchedulerStopped
	}

	job := &pool.Job{
		Statements: statements.Parse(sql),
		Endpoint:   endpoint,
		Responder:  responder,
		Scheduler:  s,
	}
	if err := s.inbox.Send(event{job: job}); err != nil {
		return errors.ErrSchedulerStopped
	}
	return nil
}

// Notify implements pool.SchedulerHandle. It fails once Stop was called.
func (s *Scheduler) Notify(msg pool.UpdateStateMessage) error {
	if err := s.inbox.Send(event{notify: msg}); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrSchedulerGone, err)
	}
	return nil
}

// Drain stops accepting submissions. Submissions already accepted are
// still routed, then the shared queue is closed so idle workers exit.
// Notifications keep being processed until Stop.
func (s *Scheduler) Drain() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	if err := s.inbox.Send(event{drain: true}); err != nil {
		// Already stopped; close the shared queue directly.
		s.jobs.Close()
	}
}

// Stop ends routing and waits for the routing goroutine. Call it after the
// worker pool has joined.
func (s *Scheduler) Stop() {
	s.Drain()
	s.inbox.Close()
	s.startOnce.Do(func() {
		go s.loop()
	})
	<-s.done
}

// Pinned reports whether endpoint's jobs currently go to a private queue.
func (s *Scheduler) Pinned(endpoint types.Endpoint) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pins[endpoint]
	return ok
}

// PinnedCount returns the number of endpoints with a pinned transaction.
func (s *Scheduler) PinnedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pins)
}

func (s *Scheduler) loop() {
	defer close(s.done)
	defer s.releasePins()

	for {
		ev, err := s.events.Recv()
		if err != nil {
			return
		}
		switch {
		case ev.job != nil:
			s.route(ev.job)
		case ev.notify != nil:
			s.apply(ev.notify)
		case ev.drain:
			s.jobs.Close()
			s.logger.Info("Draining: shared job queue closed")
		}
	}
}

func (s *Scheduler) route(job *pool.Job) {
	metrics.RecordSchedulerEvent(eventSubmit)

	s.mu.RLock()
	private := s.pins[job.Endpoint]
	s.mu.RUnlock()

	if private != nil {
		err := private.Send(job)
		if err == nil {
			metrics.RecordSchedulerEvent(eventPinned)
			return
		}
		// The worker closed its queue; TxnEnded is on its way.
		s.logger.Debug("Private queue for %s gone (%v), using shared queue", job.Endpoint, err)
		metrics.RecordSchedulerEvent(eventFallback)
		s.unpin(job.Endpoint, private)
	}

	if err := s.jobs.Send(job); err != nil {
		s.logger.Warn("Dropping job for %s: %v", job.Endpoint, err)
		job.Responder.Respond(types.ErrorMessage(types.Internal, errors.ErrSchedulerStopped.Error()))
	}
}

func (s *Scheduler) apply(msg pool.UpdateStateMessage) {
	switch m := msg.(type) {
	case pool.TxnBegin:
		metrics.RecordSchedulerEvent(eventBegin)
		s.mu.Lock()
		old := s.pins[m.Endpoint]
		s.pins[m.Endpoint] = m.Sender
		s.mu.Unlock()
		if old != nil && old != m.Sender {
			s.logger.Warn("Endpoint %s pinned twice, replacing previous transaction", m.Endpoint)
			metrics.RecordSchedulerEvent(eventReplaced)
			old.Close()
		}
	case pool.TxnEnded:
		metrics.RecordSchedulerEvent(eventEnded)
		s.mu.RLock()
		current := s.pins[m.Endpoint]
		s.mu.RUnlock()
		// Workers close their private queue before TxnEnded. A live pin
		// belongs to a newer transaction that overtook this message.
		if current == nil {
			return
		}
		if !current.Disconnected() {
			s.logger.Debug("Stale TxnEnded for %s ignored", m.Endpoint)
			return
		}
		s.unpin(m.Endpoint, current)
	case pool.Ready:
		metrics.RecordSchedulerEvent(eventReady)
	default:
		s.logger.Warn("Unknown notification %T for %s", msg, pool.EndpointOf(msg))
	}
}

// unpin removes endpoint's pin if it is still sender.
func (s *Scheduler) unpin(endpoint types.Endpoint, sender *pool.JobSender) {
	s.mu.Lock()
	if s.pins[endpoint] == sender {
		delete(s.pins, endpoint)
	}
	s.mu.Unlock()
	sender.Close()
}

func (s *Scheduler) releasePins() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ep, sender := range s.pins {
		sender.Close()
		delete(s.pins, ep)
	}
}
