// Package statements implements the statement unit submitted by clients.
//
// A unit is a batch of one or more SQL statements. Parse splits the batch
// and classifies each statement by its effect on the connection's
// transaction state:
//
//	BEGIN                 opens a transaction
//	COMMIT, END, ROLLBACK closes it (ROLLBACK TO a savepoint does not)
//	anything else         leaves it unchanged
//
// State folds those effects over an initial State. Workers call it before
// executing a unit to decide whether the unit opens an interactive
// transaction, and with TxnOpened while a transaction is pinned to them.
//
// The classification is purely textual; the engine remains the authority
// on whether a statement actually succeeds.
package statements

import (
	"strings"
)

type State int

const (
	Start State = iota
	TxnOpened
	TxnClosed
	Invalid
)

func (s State) String() string {
	switch s {
	case Start:
		return "Start"
	case TxnOpened:
		return "TxnOpened"
	case TxnClosed:
		return "TxnClosed"
	default:
		return "Invalid"
	}
}

type Kind int

const (
	KindOther Kind = iota
	KindBegin
	KindCommit
	KindRollback
)

// Step returns the state reached from s after a statement of kind k.
func (s State) Step(k Kind) State {
	switch s {
	case Start, TxnClosed:
		switch k {
		case KindBegin:
			return TxnOpened
		case KindCommit, KindRollback:
			return Invalid
		default:
			return s
		}
	case TxnOpened:
		switch k {
		case KindBegin:
			return Invalid
		case KindCommit, KindRollback:
			return TxnClosed
		default:
			return TxnOpened
		}
	default:
		return Invalid
	}
}

type Statement struct {
	SQL  string
	Kind Kind
}

// Statements is an immutable, parsed statement unit.
type Statements struct {
	raw   string
	stmts []Statement
}

// Parse splits sql into statements. Empty statements are dropped.
func Parse(sql string) *Statements {
	parts := split(sql)
	stmts := make([]Statement, 0, len(parts))
	for _, p := range parts {
		stmts = append(stmts, Statement{SQL: p, Kind: classify(p)})
	}
	return &Statements{raw: sql, stmts: stmts}
}

func (s *Statements) List() []Statement {
	return s.stmts
}

func (s *Statements) Len() int {
	return len(s.stmts)
}

func (s *Statements) String() string {
	return s.raw
}

// State returns the transaction state reached by executing the unit from
// the given initial state.
func (s *Statements) State(from State) State {
	state := from
	for _, st := range s.stmts {
		state = state.Step(st.Kind)
	}
	return state
}

// ClosingKind returns the kind of the last BEGIN, COMMIT or ROLLBACK in the
// unit, or KindOther if it has none.
func (s *Statements) ClosingKind() Kind {
	for i := len(s.stmts) - 1; i >= 0; i-- {
		if k := s.stmts[i].Kind; k != KindOther {
			return k
		}
	}
	return KindOther
}

func classify(stmt string) Kind {
	words := leadingWords(stmt, 3)
	if len(words) == 0 {
		return KindOther
	}

	switch words[0] {
	case "BEGIN":
		return KindBegin
	case "COMMIT", "END":
		return KindCommit
	case "ROLLBACK":
		// ROLLBACK [TRANSACTION] TO [SAVEPOINT] name only unwinds a savepoint.
		for _, w := range words[1:] {
			if w == "TO" {
				return KindOther
			}
		}
		return KindRollback
	default:
		return KindOther
	}
}

// leadingWords returns up to n upper-cased keywords at the start of stmt,
// skipping comments.
func leadingWords(stmt string, n int) []string {
	var words []string
	i := 0
	for i < len(stmt) && len(words) < n {
		c := stmt[i]
		switch {
		case c == '-' && i+1 < len(stmt) && stmt[i+1] == '-':
			i = skipLineComment(stmt, i)
		case c == '/' && i+1 < len(stmt) && stmt[i+1] == '*':
			i = skipBlockComment(stmt, i)
		case isWordByte(c):
			j := i
			for j < len(stmt) && isWordByte(stmt[j]) {
				j++
			}
			words = append(words, strings.ToUpper(stmt[i:j]))
			i = j
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		default:
			return words
		}
	}
	return words
}
