package scheduler

import (
	"errors"
	"testing"
	"time"

	dberrors "github.com/kartikbazzad/edgedb/internal/errors"
	"github.com/kartikbazzad/edgedb/internal/logger"
	"github.com/kartikbazzad/edgedb/internal/pool"
	"github.com/kartikbazzad/edgedb/internal/queue"
	"github.com/kartikbazzad/edgedb/internal/types"
)

func recvJob(t *testing.T, rx *queue.Receiver[*pool.Job]) *pool.Job {
	t.Helper()
	job, err := rx.RecvTimeout(time.After(5 * time.Second))
	if err != nil {
		t.Fatalf("no job routed: %v", err)
	}
	return job
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *queue.Receiver[*pool.Job]) {
	t.Helper()
	jobs, global := queue.New[*pool.Job]()
	s := New(jobs, logger.Discard())
	s.Start()
	t.Cleanup(s.Stop)
	return s, global
}

func submit(t *testing.T, s *Scheduler, ep types.Endpoint, sql string) {
	t.Helper()
	if err := s.Submit(ep, sql, make(pool.ChanResponder, 1)); err != nil {
		t.Fatalf("Submit %q: %v", sql, err)
	}
}

func TestScheduler_RoutesByPin(t *testing.T) {
	s, global := newTestScheduler(t)

	submit(t, s, "e1", "BEGIN")
	job := recvJob(t, global)
	if job.Endpoint != "e1" || job.Scheduler != s {
		t.Fatalf("unexpected job %+v", job)
	}

	// Act as the worker that picked up BEGIN.
	private, privateRx := queue.New[*pool.Job]()
	if err := s.Notify(pool.TxnBegin{Endpoint: "e1", Sender: private}); err != nil {
		t.Fatal(err)
	}

	submit(t, s, "e1", "INSERT INTO t VALUES (1)")
	submit(t, s, "e2", "SELECT 1")

	if j := recvJob(t, privateRx); j.Statements.String() != "INSERT INTO t VALUES (1)" {
		t.Errorf("expected INSERT on the private queue, got %q", j.Statements)
	}
	if j := recvJob(t, global); j.Endpoint != "e2" {
		t.Errorf("expected e2 on the shared queue, got %s", j.Endpoint)
	}
	if !s.Pinned("e1") || s.Pinned("e2") {
		t.Error("unexpected pin state")
	}

	// Worker ends the transaction.
	privateRx.Close()
	if err := s.Notify(pool.TxnEnded{Endpoint: "e1"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "unpin", func() bool { return !s.Pinned("e1") })

	submit(t, s, "e1", "SELECT 2")
	if j := recvJob(t, global); j.Statements.String() != "SELECT 2" {
		t.Errorf("expected SELECT 2 on the shared queue, got %q", j.Statements)
	}
}

func TestScheduler_FallbackWhenPrivateQueueClosed(t *testing.T) {
	s, global := newTestScheduler(t)

	private, privateRx := queue.New[*pool.Job]()
	_ = s.Notify(pool.TxnBegin{Endpoint: "e1", Sender: private})
	waitFor(t, "pin", func() bool { return s.Pinned("e1") })

	// Worker closed its queue but TxnEnded has not arrived yet.
	privateRx.Close()
	submit(t, s, "e1", "BEGIN")
	if j := recvJob(t, global); j.Statements.String() != "BEGIN" {
		t.Fatalf("expected fallback to the shared queue, got %q", j.Statements)
	}
	waitFor(t, "unpin", func() bool { return !s.Pinned("e1") })

	// A second worker pins the new transaction, then the first worker's
	// late TxnEnded arrives and must not unpin it.
	next, nextRx := queue.New[*pool.Job]()
	_ = s.Notify(pool.TxnBegin{Endpoint: "e1", Sender: next})
	_ = s.Notify(pool.TxnEnded{Endpoint: "e1"})

	submit(t, s, "e1", "INSERT INTO t VALUES (2)")
	if j := recvJob(t, nextRx); j.Statements.String() != "INSERT INTO t VALUES (2)" {
		t.Errorf("expected job on the new private queue, got %q", j.Statements)
	}
	if !s.Pinned("e1") {
		t.Error("stale TxnEnded removed a live pin")
	}
}

func TestScheduler_ReplacePin(t *testing.T) {
	s, _ := newTestScheduler(t)

	first, _ := queue.New[*pool.Job]()
	second, secondRx := queue.New[*pool.Job]()
	_ = s.Notify(pool.TxnBegin{Endpoint: "e1", Sender: first})
	_ = s.Notify(pool.TxnBegin{Endpoint: "e1", Sender: second})

	submit(t, s, "e1", "SELECT 1")
	recvJob(t, secondRx)

	if err := first.Send(&pool.Job{}); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("replaced sender should be closed, got %v", err)
	}
}

func TestScheduler_DrainAndStop(t *testing.T) {
	jobs, global := queue.New[*pool.Job]()
	s := New(jobs, logger.Discard())
	s.Start()

	submit(t, s, "e1", "SELECT 1")
	s.Drain()
	s.Drain()

	if err := s.Submit("e1", "SELECT 2", make(pool.ChanResponder, 1)); !errors.Is(err, dberrors.ErrSchedulerStopped) {
		t.Errorf("expected ErrSchedulerStopped after Drain, got %v", err)
	}

	// Accepted work is routed, then the shared queue closes.
	recvJob(t, global)
	if _, err := global.RecvTimeout(time.After(5 * time.Second)); !errors.Is(err, queue.ErrClosed) {
		t.Fatalf("expected shared queue closed after drain, got %v", err)
	}

	// Workers still finishing transactions can notify.
	if err := s.Notify(pool.Ready{Endpoint: "e1"}); err != nil {
		t.Errorf("Notify after Drain failed: %v", err)
	}

	s.Stop()
	if err := s.Notify(pool.Ready{Endpoint: "e1"}); !errors.Is(err, dberrors.ErrSchedulerGone) {
		t.Errorf("expected ErrSchedulerGone after Stop, got %v", err)
	}
}

func TestScheduler_StopReleasesPins(t *testing.T) {
	jobs, _ := queue.New[*pool.Job]()
	s := New(jobs, logger.Discard())
	s.Start()

	private, _ := queue.New[*pool.Job]()
	_ = s.Notify(pool.TxnBegin{Endpoint: "e1", Sender: private})
	waitFor(t, "pin", func() bool { return s.PinnedCount() == 1 })

	s.Stop()
	if s.PinnedCount() != 0 {
		t.Error("pins should be released on Stop")
	}
	if err := private.Send(&pool.Job{}); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("private sender should be closed, got %v", err)
	}
}
