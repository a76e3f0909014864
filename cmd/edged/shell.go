package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	dberrors "github.com/kartikbazzad/edgedb/internal/errors"
	"github.com/kartikbazzad/edgedb/internal/pool"
	"github.com/kartikbazzad/edgedb/internal/types"
)

const (
	prompt         = "edged> "
	continuePrompt = "   ...> "
	historyFile    = ".edged_history"
)

var dotCommands = []string{".help", ".stats", ".exit"}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive SQL session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := startEngine(cmd)
			if err != nil {
				return err
			}
			e.shutdown.StartSignalHandling()

			sh := newShell(e, cmd.OutOrStdout())
			runErr := sh.run()
			if err := e.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
}

type shell struct {
	engine   *engine
	out      io.Writer
	endpoint types.Endpoint
	// responder of the last submission; a transaction timeout arrives here
	last pool.ChanResponder
}

func newShell(e *engine, out io.Writer) *shell {
	return &shell{
		engine:   e,
		out:      out,
		endpoint: types.Endpoint(uuid.NewString()),
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, historyFile)
}

func (s *shell) run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		var out []string
		for _, c := range dotCommands {
			if strings.HasPrefix(c, in) {
				out = append(out, c)
			}
		}
		return out
	})

	if path := historyPath(); path != "" {
		if f, err := os.Open(path); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer func() {
			if f, err := os.Create(path); err == nil {
				_, _ = line.WriteHistory(f)
				f.Close()
			}
		}()
	}

	fmt.Fprintf(s.out, "edged shell, session %s\nType '.help' for commands.\n\n", s.endpoint)

	var buf strings.Builder
	for {
		if s.stopped() {
			return nil
		}
		s.printNotices()

		p := prompt
		if buf.Len() > 0 {
			p = continuePrompt
		}
		input, err := line.Prompt(p)
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				buf.Reset()
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(s.out)
				return nil
			}
			return err
		}
		if s.stopped() {
			return nil
		}

		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}

		if buf.Len() == 0 && strings.HasPrefix(trimmed, ".") {
			line.AppendHistory(trimmed)
			if exit := s.dotCommand(trimmed); exit {
				return nil
			}
			continue
		}

		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(input)
		if !strings.HasSuffix(trimmed, ";") {
			continue
		}

		sql := buf.String()
		buf.Reset()
		line.AppendHistory(sql)
		if exit := s.execute(sql); exit {
			return nil
		}
	}
}

// stopped reports whether the engine has shut down, e.g. on a signal.
func (s *shell) stopped() bool {
	select {
	case <-s.engine.shutdown.Done():
		fmt.Fprintln(s.out, "engine shut down, leaving the shell")
		return true
	default:
		return false
	}
}

// execute runs sql and prints its outcome. It reports exit once the engine
// no longer accepts statements.
func (s *shell) execute(sql string) (exit bool) {
	resp, msg, err := s.engine.submit(context.Background(), s.endpoint, sql)
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return errors.Is(err, dberrors.ErrSchedulerStopped)
	}
	s.last = resp
	printMessage(s.out, msg)
	return false
}

// printNotices prints outcomes that arrived after their statement's
// result, i.e. transaction timeouts.
func (s *shell) printNotices() {
	if s.last == nil {
		return
	}
	for {
		select {
		case m := <-s.last:
			fmt.Fprintf(s.out, "notice: %s\n", m)
		default:
			return
		}
	}
}

func (s *shell) dotCommand(cmd string) (exit bool) {
	switch cmd {
	case ".exit":
		return true
	case ".help":
		fmt.Fprintln(s.out, "Statements end with ';' and may span lines.")
		fmt.Fprintln(s.out, "  .stats   worker pool statistics")
		fmt.Fprintln(s.out, "  .help    this message")
		fmt.Fprintln(s.out, "  .exit    leave the shell")
	case ".stats":
		st := s.engine.pool.Stats()
		fmt.Fprintf(s.out, "workers:            %d (%d busy)\n", st.Workers, st.BusyWorkers)
		fmt.Fprintf(s.out, "open transactions:  %d (%d pinned sessions)\n", st.OpenTransactions, s.engine.sched.PinnedCount())
		fmt.Fprintf(s.out, "queue depth:        %d\n", st.QueueDepth)
		fmt.Fprintf(s.out, "jobs processed:     %s\n", humanize.Comma(int64(st.JobsProcessed)))
		fmt.Fprintf(s.out, "timed out txns:     %s\n", humanize.Comma(int64(st.TxnTimeouts)))
	default:
		fmt.Fprintf(s.out, "unknown command: %s\n", cmd)
	}
	return false
}

func printMessage(w io.Writer, m types.Message) {
	if m.IsErr() {
		fmt.Fprintf(w, "ERROR %s: %s\n", m.Code, m.Error)
		return
	}
	for _, row := range m.Rows {
		fmt.Fprintln(w, row)
	}
	if len(m.Rows) == 0 {
		fmt.Fprintln(w, "OK")
	}
}
