package errors

import (
	"errors"
)

// Queue and pool lifecycle errors
var (
	// ErrQueueClosed is returned when sending on a closed sender, or when
	// receiving from a queue whose senders are all closed and which has
	// been drained.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrDisconnected is returned when sending to a queue whose receiving
	// side has been dropped.
	ErrDisconnected = errors.New("queue receiver is disconnected")

	// ErrRecvTimeout is returned when a bounded receive expires.
	ErrRecvTimeout = errors.New("receive timed out")

	// ErrPoolCreation is returned when the worker goroutine pool cannot be built
	ErrPoolCreation = errors.New("failed to create worker pool")

	// ErrConnectionFactory is returned when a worker connection cannot be opened
	ErrConnectionFactory = errors.New("failed to open worker connection")

	// ErrSchedulerGone is returned when the scheduler no longer accepts
	// notifications from workers.
	ErrSchedulerGone = errors.New("scheduler is gone")

	// ErrSchedulerStopped is returned when submitting to a drained scheduler
	ErrSchedulerStopped = errors.New("scheduler is stopped")

	// ErrTxnTimeout is the outcome delivered when an interactive
	// transaction was rolled back because no statement arrived in time.
	ErrTxnTimeout = errors.New("transaction timed out")

	// ErrUnknownDriver is returned for an unsupported engine driver name
	ErrUnknownDriver = errors.New("unknown sqlite driver")

	// ErrDriverUnavailable is returned when a driver was not compiled in
	ErrDriverUnavailable = errors.New("sqlite driver not available in this build")

	// ErrInvalidConfig is returned by config validation
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Is and As re-export the standard helpers so callers importing this
// package under its own name keep access to them.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
