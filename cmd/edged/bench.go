package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kartikbazzad/edgedb/internal/types"
)

type benchOptions struct {
	sessions int
	ops      int
	txnEvery int
	txnSize  int
}

type benchResult struct {
	statements atomic.Int64
	txns       atomic.Int64
	errors     atomic.Int64
	timeouts   atomic.Int64
}

func benchCmd() *cobra.Command {
	var opts benchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent sessions of one-shot statements and transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := startEngine(cmd)
			if err != nil {
				return err
			}
			runErr := runBench(cmd.Context(), e, opts, cmd)
			if err := e.Close(); err != nil && runErr == nil {
				runErr = err
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&opts.sessions, "sessions", 8, "Concurrent client sessions")
	cmd.Flags().IntVar(&opts.ops, "ops", 500, "Units per session")
	cmd.Flags().IntVar(&opts.txnEvery, "txn-every", 10, "Run an interactive transaction every N units (0 = never)")
	cmd.Flags().IntVar(&opts.txnSize, "txn-size", 3, "Inserts per transaction")
	return cmd
}

func runBench(ctx context.Context, e *engine, opts benchOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()

	setup := "CREATE TABLE IF NOT EXISTS bench (id INTEGER PRIMARY KEY, session TEXT, n INTEGER)"
	if _, msg, err := e.submit(ctx, "bench-setup", setup); err != nil {
		return err
	} else if msg.IsErr() {
		return fmt.Errorf("bench setup failed: %s", msg.Error)
	}

	var res benchResult
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.sessions; i++ {
		g.Go(func() error {
			return benchSession(ctx, e, opts, &res)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	perSec := float64(res.statements.Load()) / elapsed.Seconds()
	fmt.Fprintf(out, "sessions:      %d\n", opts.sessions)
	fmt.Fprintf(out, "statements:    %s\n", humanize.Comma(res.statements.Load()))
	fmt.Fprintf(out, "transactions:  %s\n", humanize.Comma(res.txns.Load()))
	fmt.Fprintf(out, "errors:        %s (%s timeouts)\n", humanize.Comma(res.errors.Load()), humanize.Comma(res.timeouts.Load()))
	fmt.Fprintf(out, "elapsed:       %v\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(out, "throughput:    %s stmt/s\n", humanize.CommafWithDigits(perSec, 1))
	return nil
}

func benchSession(ctx context.Context, e *engine, opts benchOptions, res *benchResult) error {
	ep := types.Endpoint(uuid.NewString())

	run := func(sql string) (types.Message, error) {
		_, msg, err := e.submit(ctx, ep, sql)
		if err != nil {
			return msg, err
		}
		res.statements.Add(1)
		if msg.IsErr() {
			res.errors.Add(1)
			if msg.Code == types.TxTimeout {
				res.timeouts.Add(1)
			}
		}
		return msg, nil
	}

	for i := 0; i < opts.ops; i++ {
		if opts.txnEvery > 0 && i%opts.txnEvery == 0 {
			if err := benchTxn(run, ep, i, opts.txnSize); err != nil {
				return err
			}
			res.txns.Add(1)
			continue
		}

		sql := fmt.Sprintf("INSERT INTO bench (session, n) VALUES ('%s', %d)", ep, i)
		if i%2 == 1 {
			sql = fmt.Sprintf("SELECT count(*) AS n FROM bench WHERE session = '%s'", ep)
		}
		if _, err := run(sql); err != nil {
			return err
		}
	}
	return nil
}

func benchTxn(run func(string) (types.Message, error), ep types.Endpoint, i, size int) error {
	if msg, err := run("BEGIN IMMEDIATE"); err != nil || msg.IsErr() {
		return err
	}
	for j := 0; j < size; j++ {
		msg, err := run(fmt.Sprintf("INSERT INTO bench (session, n) VALUES ('%s', %d)", ep, i*1000+j))
		if err != nil {
			return err
		}
		if msg.IsErr() {
			_, err := run("ROLLBACK")
			return err
		}
	}
	_, err := run("COMMIT")
	return err
}
