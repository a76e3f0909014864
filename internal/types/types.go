package types

import "strings"

// Endpoint identifies a client session. The scheduler uses it as the key
// for "which worker currently owns this session's transaction".
type Endpoint string

type ErrorCode byte

const (
	SQLError ErrorCode = iota + 1
	TxTimeout
	Internal
)

func (c ErrorCode) String() string {
	switch c {
	case SQLError:
		return "SQLError"
	case TxTimeout:
		return "TxTimeout"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Message is the outcome of executing one statement unit: either a result
// set or an error. The zero Code means success.
type Message struct {
	Rows  []string
	Code  ErrorCode
	Error string
}

func ResultSet(rows []string) Message {
	return Message{Rows: rows}
}

func ErrorMessage(code ErrorCode, msg string) Message {
	return Message{Code: code, Error: msg}
}

func (m Message) IsErr() bool {
	return m.Code != 0
}

func (m Message) String() string {
	if m.IsErr() {
		return m.Code.String() + ": " + m.Error
	}
	return strings.Join(m.Rows, "\n")
}

type Stats struct {
	Workers          int
	BusyWorkers      int
	OpenTransactions int
	QueueDepth       int
	JobsProcessed    uint64
	TxnTimeouts      uint64
}
