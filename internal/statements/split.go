package statements

import (
	"strings"
	"unicode"
)

// split breaks sql on top-level semicolons. Semicolons inside string
// literals, quoted identifiers, comments, and CREATE TRIGGER bodies do not
// terminate a statement. Returned statements are trimmed and keep their
// terminating semicolon.
func split(sql string) []string {
	var (
		out   []string
		start int
		sc    scanner
	)

	flush := func(end int) {
		stmt := strings.TrimSpace(sql[start:end])
		if hasContent(stmt) {
			out = append(out, stmt)
		}
		start = end
		sc.reset()
	}

	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i, c)
			continue
		case c == '[':
			i = skipQuoted(sql, i, ']')
			continue
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			i = skipLineComment(sql, i)
			continue
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			i = skipBlockComment(sql, i)
			continue
		case isWordByte(c):
			j := i
			for j < len(sql) && isWordByte(sql[j]) {
				j++
			}
			sc.word(strings.ToUpper(sql[i:j]))
			i = j
			continue
		case c == ';':
			if sc.terminates() {
				flush(i + 1)
			} else {
				sc.semicolon()
			}
		}
		i++
	}
	flush(len(sql))
	return out
}

// scanner tracks just enough keyword context to find the end of a
// CREATE TRIGGER ... BEGIN ... END; statement.
type scanner struct {
	words     int
	trigger   bool
	maybeTrig bool // seen CREATE, TEMP/TEMPORARY may follow
	body      bool
	caseDepth int
	lastEnd   bool
}

func (s *scanner) reset() {
	*s = scanner{}
}

func (s *scanner) word(w string) {
	s.words++
	switch {
	case s.words == 1:
		s.maybeTrig = w == "CREATE"
	case s.maybeTrig && !s.trigger && s.words <= 3:
		switch w {
		case "TRIGGER":
			s.trigger = true
		case "TEMP", "TEMPORARY":
		default:
			s.maybeTrig = false
		}
	}

	s.lastEnd = false
	if !s.trigger {
		return
	}
	switch w {
	case "BEGIN":
		s.body = true
	case "CASE":
		s.caseDepth++
	case "END":
		if s.caseDepth > 0 {
			s.caseDepth--
		} else {
			s.lastEnd = true
		}
	}
}

func (s *scanner) semicolon() {
	s.lastEnd = false
}

func (s *scanner) terminates() bool {
	if !s.trigger || !s.body {
		return true
	}
	return s.lastEnd
}

func skipQuoted(sql string, i int, closing byte) int {
	for j := i + 1; j < len(sql); j++ {
		if sql[j] != closing {
			continue
		}
		// doubled quote is an escaped quote
		if closing != ']' && j+1 < len(sql) && sql[j+1] == closing {
			j++
			continue
		}
		return j + 1
	}
	return len(sql)
}

func skipLineComment(sql string, i int) int {
	if n := strings.IndexByte(sql[i:], '\n'); n >= 0 {
		return i + n + 1
	}
	return len(sql)
}

func skipBlockComment(sql string, i int) int {
	if n := strings.Index(sql[i+2:], "*/"); n >= 0 {
		return i + 2 + n + 2
	}
	return len(sql)
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 0x80 || unicode.IsLetter(rune(c)) || unicode.IsDigit(rune(c))
}

// hasContent reports whether stmt holds anything besides semicolons,
// whitespace and comments.
func hasContent(stmt string) bool {
	i := 0
	for i < len(stmt) {
		c := stmt[i]
		switch {
		case c == ';' || c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '-' && i+1 < len(stmt) && stmt[i+1] == '-':
			i = skipLineComment(stmt, i)
		case c == '/' && i+1 < len(stmt) && stmt[i+1] == '*':
			i = skipBlockComment(stmt, i)
		default:
			return true
		}
	}
	return false
}
