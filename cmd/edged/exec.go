package main

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/edgedb/internal/types"
)

var errExecFailed = errors.New("statement failed")

func execCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <sql>",
		Short: "Execute one statement batch and print the outcome",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := startEngine(cmd)
			if err != nil {
				return err
			}

			sql := strings.Join(args, " ")
			_, msg, err := e.submit(context.Background(), types.Endpoint(uuid.NewString()), sql)
			if err == nil {
				printMessage(cmd.OutOrStdout(), msg)
			}

			// A batch left inside a transaction holds shutdown until it
			// times out and rolls back.
			if closeErr := e.Close(); err == nil {
				err = closeErr
			}
			if err == nil && msg.IsErr() {
				err = errExecFailed
			}
			return err
		},
	}
}
