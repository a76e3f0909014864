package pool

import (
	"context"

	"github.com/kartikbazzad/edgedb/internal/queue"
	"github.com/kartikbazzad/edgedb/internal/statements"
	"github.com/kartikbazzad/edgedb/internal/types"
)

// Job is one statement unit submitted for execution. It is consumed by
// exactly one worker and its Responder receives exactly one outcome.
type Job struct {
	Statements *statements.Statements
	Endpoint   types.Endpoint
	Responder  Responder
	Scheduler  SchedulerHandle
}

// Connection is a dedicated engine connection owned by one worker.
type Connection interface {
	// Execute runs a statement unit and returns the rendered rows.
	Execute(ctx context.Context, stmts *statements.Statements) ([]string, error)
	// Rollback aborts the connection's open transaction.
	Rollback(ctx context.Context) error
	Close() error
}

// ConnectionFactory produces one connection per worker.
type ConnectionFactory func() (Connection, error)

// Responder delivers an execution outcome back to the submitter.
// Respond must not block.
type Responder interface {
	Respond(msg types.Message)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(msg types.Message)

func (f ResponderFunc) Respond(msg types.Message) { f(msg) }

// ChanResponder delivers outcomes on a channel. The channel should be
// buffered: an interactive transaction may receive a timeout outcome
// after its last statement's result.
type ChanResponder chan types.Message

func (c ChanResponder) Respond(msg types.Message) {
	select {
	case c <- msg:
	default:
	}
}

// JobSender is the sending half of the shared job queue. Clone it for each
// producer; the queue closes once every handle is closed.
type JobSender = queue.Sender[*Job]

// UpdateStateMessage is a transaction lifecycle notification from a
// worker to the scheduler.
type UpdateStateMessage interface {
	endpoint() types.Endpoint
}

// TxnBegin announces that Endpoint's transaction is pinned to the worker
// reading from Sender's queue. Follow-up jobs for Endpoint go to Sender.
type TxnBegin struct {
	Endpoint types.Endpoint
	Sender   *queue.Sender[*Job]
}

// TxnEnded announces that Endpoint's transaction is over and its jobs go
// back to the shared queue.
type TxnEnded struct {
	Endpoint types.Endpoint
}

// Ready announces that a one-shot job for Endpoint has completed.
type Ready struct {
	Endpoint types.Endpoint
}

func (m TxnBegin) endpoint() types.Endpoint { return m.Endpoint }
func (m TxnEnded) endpoint() types.Endpoint { return m.Endpoint }
func (m Ready) endpoint() types.Endpoint    { return m.Endpoint }

// EndpointOf returns the endpoint named by msg.
func EndpointOf(msg UpdateStateMessage) types.Endpoint {
	return msg.endpoint()
}

// SchedulerHandle receives lifecycle notifications. Notify must not block
// and fails only when the scheduler is gone.
type SchedulerHandle interface {
	Notify(msg UpdateStateMessage) error
}
