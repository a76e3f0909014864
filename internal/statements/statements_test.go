package statements

import (
	"testing"
)

func TestParse_Split(t *testing.T) {
	cases := []struct {
		name string
		sql  string
		want []string
	}{
		{"single", "SELECT 1", []string{"SELECT 1"}},
		{"two", "SELECT 1; SELECT 2;", []string{"SELECT 1;", "SELECT 2;"}},
		{"empty statements dropped", ";; SELECT 1;;  ;", []string{"SELECT 1;"}},
		{"semicolon in string", "INSERT INTO t VALUES ('a;b'); SELECT 1", []string{"INSERT INTO t VALUES ('a;b');", "SELECT 1"}},
		{"escaped quote", "SELECT 'it''s;'; SELECT 2", []string{"SELECT 'it''s;';", "SELECT 2"}},
		{"quoted identifiers", `SELECT "a;b", [c;d], ` + "`e;f`" + ` FROM t`, []string{`SELECT "a;b", [c;d], ` + "`e;f`" + ` FROM t`}},
		{"line comment", "SELECT 1 -- x; y\n; SELECT 2", []string{"SELECT 1 -- x; y\n;", "SELECT 2"}},
		{"block comment", "SELECT /* ; */ 1; SELECT 2", []string{"SELECT /* ; */ 1;", "SELECT 2"}},
		{"comment only", "-- nothing here;\n/* nor; here */", nil},
		{
			"trigger body",
			"CREATE TRIGGER tr AFTER INSERT ON t BEGIN INSERT INTO log VALUES (1); UPDATE c SET n = CASE WHEN n > 0 THEN n + 1 END; END; SELECT 1",
			[]string{
				"CREATE TRIGGER tr AFTER INSERT ON t BEGIN INSERT INTO log VALUES (1); UPDATE c SET n = CASE WHEN n > 0 THEN n + 1 END; END;",
				"SELECT 1",
			},
		},
		{
			"temp trigger",
			"create temp trigger tr after delete on t begin delete from u; end; select 2;",
			[]string{"create temp trigger tr after delete on t begin delete from u; end;", "select 2;"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Parse(tc.sql).List()
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d statements, got %d: %#v", len(tc.want), len(got), got)
			}
			for i, st := range got {
				if st.SQL != tc.want[i] {
					t.Errorf("statement %d: expected %q, got %q", i, tc.want[i], st.SQL)
				}
			}
		})
	}
}

func TestParse_Kind(t *testing.T) {
	cases := []struct {
		sql  string
		kind Kind
	}{
		{"BEGIN", KindBegin},
		{"begin immediate transaction", KindBegin},
		{"  -- open\n BEGIN DEFERRED", KindBegin},
		{"COMMIT", KindCommit},
		{"END TRANSACTION", KindCommit},
		{"ROLLBACK", KindRollback},
		{"rollback transaction", KindRollback},
		{"ROLLBACK TO sp1", KindOther},
		{"ROLLBACK TRANSACTION TO SAVEPOINT sp1", KindOther},
		{"SAVEPOINT sp1", KindOther},
		{"RELEASE sp1", KindOther},
		{"SELECT 'BEGIN'", KindOther},
		{"CREATE TABLE begin_log (x)", KindOther},
	}

	for _, tc := range cases {
		got := Parse(tc.sql).List()
		if len(got) != 1 {
			t.Fatalf("%q: expected 1 statement, got %d", tc.sql, len(got))
		}
		if got[0].Kind != tc.kind {
			t.Errorf("%q: expected kind %d, got %d", tc.sql, tc.kind, got[0].Kind)
		}
	}
}

func TestStatements_State(t *testing.T) {
	cases := []struct {
		sql  string
		from State
		want State
	}{
		{"SELECT 1", Start, Start},
		{"BEGIN", Start, TxnOpened},
		{"BEGIN; INSERT INTO t VALUES (1)", Start, TxnOpened},
		{"BEGIN; INSERT INTO t VALUES (1); COMMIT", Start, TxnClosed},
		{"BEGIN; COMMIT; BEGIN", Start, TxnOpened},
		{"COMMIT", Start, Invalid},
		{"BEGIN; BEGIN", Start, Invalid},
		{"INSERT INTO t VALUES (1)", TxnOpened, TxnOpened},
		{"COMMIT", TxnOpened, TxnClosed},
		{"ROLLBACK", TxnOpened, TxnClosed},
		{"ROLLBACK TO sp", TxnOpened, TxnOpened},
		{"ROLLBACK; BEGIN", TxnOpened, TxnOpened},
		{"BEGIN", TxnOpened, Invalid},
		{"BEGIN", TxnClosed, TxnOpened},
		{"COMMIT; BEGIN", Start, Invalid},
		{"", Start, Start},
	}

	for _, tc := range cases {
		if got := Parse(tc.sql).State(tc.from); got != tc.want {
			t.Errorf("%q from %s: expected %s, got %s", tc.sql, tc.from, tc.want, got)
		}
	}
}

func TestStatements_String(t *testing.T) {
	sql := "SELECT 1;  SELECT 2"
	s := Parse(sql)
	if s.String() != sql {
		t.Errorf("expected raw text preserved, got %q", s.String())
	}
	if s.Len() != 2 {
		t.Errorf("expected 2 statements, got %d", s.Len())
	}
}

func TestStatements_ClosingKind(t *testing.T) {
	cases := []struct {
		sql  string
		want Kind
	}{
		{"COMMIT", KindCommit},
		{"END TRANSACTION", KindCommit},
		{"INSERT INTO t VALUES (1); ROLLBACK", KindRollback},
		{"ROLLBACK TO sp; COMMIT", KindCommit},
		{"ROLLBACK; SELECT 1", KindRollback},
		{"SELECT 1", KindOther},
	}

	for _, tc := range cases {
		if got := Parse(tc.sql).ClosingKind(); got != tc.want {
			t.Errorf("%q: expected kind %d, got %d", tc.sql, tc.want, got)
		}
	}
}
