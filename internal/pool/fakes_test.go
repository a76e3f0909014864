package pool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kartikbazzad/edgedb/internal/statements"
	"github.com/kartikbazzad/edgedb/internal/types"
)

var errFake = errors.New("fake engine error")

// fakeConn records what it executes and fails any statement containing
// FAIL. It flags concurrent use.
type fakeConn struct {
	id        int
	inUse     atomic.Bool
	overlap   atomic.Bool
	closed    atomic.Bool
	rollbacks atomic.Int32
	failRB    bool
	gate      chan struct{} // SLOW statements block until closed
	started   chan struct{} // signalled when a SLOW statement begins

	mu       sync.Mutex
	executed []string
}

func (c *fakeConn) Execute(ctx context.Context, stmts *statements.Statements) ([]string, error) {
	if !c.inUse.CompareAndSwap(false, true) {
		c.overlap.Store(true)
	}
	defer c.inUse.Store(false)

	c.mu.Lock()
	c.executed = append(c.executed, stmts.String())
	c.mu.Unlock()

	if c.gate != nil && strings.Contains(stmts.String(), "SLOW") {
		c.started <- struct{}{}
		<-c.gate
	}
	if strings.Contains(stmts.String(), "FAIL") {
		return nil, errFake
	}
	return []string{fmt.Sprintf("conn = %d", c.id)}, nil
}

func (c *fakeConn) Rollback(ctx context.Context) error {
	c.rollbacks.Add(1)
	if c.failRB {
		return errFake
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConn) history() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.executed...)
}

type fakeFactory struct {
	mu      sync.Mutex
	conns   []*fakeConn
	failAt  int // 1-based call that fails, 0 never
	failRB  bool
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeFactory) open() (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt > 0 && len(f.conns)+1 == f.failAt {
		return nil, errFake
	}
	c := &fakeConn{id: len(f.conns), failRB: f.failRB, gate: f.gate, started: f.started}
	f.conns = append(f.conns, c)
	return c, nil
}

// router is a minimal scheduler: it records every notification and routes
// follow-up jobs for pinned endpoints to their private queue.
type router struct {
	mu     sync.Mutex
	pins   map[types.Endpoint]*JobSender
	events chan UpdateStateMessage
	fail   atomic.Bool
	jobs   *JobSender
}

func newRouter(jobs *JobSender) *router {
	return &router{
		pins:   make(map[types.Endpoint]*JobSender),
		events: make(chan UpdateStateMessage, 256),
		jobs:   jobs,
	}
}

func (r *router) Notify(msg UpdateStateMessage) error {
	if r.fail.Load() {
		return errors.New("router closed")
	}
	r.mu.Lock()
	switch m := msg.(type) {
	case TxnBegin:
		r.pins[m.Endpoint] = m.Sender
	case TxnEnded:
		delete(r.pins, m.Endpoint)
	}
	r.mu.Unlock()
	r.events <- msg
	return nil
}

// submit routes sql for endpoint and returns the channel its outcomes
// arrive on.
func (r *router) submit(t *testing.T, endpoint types.Endpoint, sql string) ChanResponder {
	t.Helper()
	resp := make(ChanResponder, 4)
	job := &Job{
		Statements: statements.Parse(sql),
		Endpoint:   endpoint,
		Responder:  resp,
		Scheduler:  r,
	}

	r.mu.Lock()
	private := r.pins[endpoint]
	r.mu.Unlock()

	if private != nil {
		if err := private.Send(job); err == nil {
			return resp
		}
	}
	if err := r.jobs.Send(job); err != nil {
		t.Errorf("submit %q: %v", sql, err)
	}
	return resp
}

func (r *router) pinned(endpoint types.Endpoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pins[endpoint] != nil
}

func (r *router) nextEvent(t *testing.T) UpdateStateMessage {
	t.Helper()
	select {
	case ev := <-r.events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no scheduler notification")
		return nil
	}
}

func recvMsg(t *testing.T, c ChanResponder) types.Message {
	t.Helper()
	select {
	case m := <-c:
		return m
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome delivered")
		return types.Message{}
	}
}

func expectNoMsg(t *testing.T, c ChanResponder) {
	t.Helper()
	select {
	case m := <-c:
		t.Fatalf("unexpected extra outcome: %v", m)
	case <-time.After(50 * time.Millisecond):
	}
}
