package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kneutral-org/locksync/internal/lock"
)

func newLockCmd(a *app) *cobra.Command {
	var retries int
	var forever bool

	cmd := &cobra.Command{
		Use:   "lock <name> -- <command> [args...]",
		Short: "Run a command while holding a distributed lock",
		Long: "Acquires the named lock, runs the command while renewing the lease, " +
			"and releases it when the command exits. Exits non-zero without running " +
			"the command if the lock could not be acquired.",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if forever {
				retries = lock.RetryForever
			}
			return a.runLocked(cmd.Context(), args[0], args[1:], retries)
		},
	}

	cmd.Flags().IntVar(&retries, "retry", 0, "number of wait-and-retry cycles after a conflict")
	cmd.Flags().BoolVar(&forever, "forever", false, "retry until the lock is acquired")

	return cmd
}

func (a *app) runLocked(ctx context.Context, name string, argv []string, retries int) error {
	client, closeClient, err := a.remoteClient(ctx)
	if err != nil {
		return err
	}
	defer closeClient()

	l := lock.NewLock(name, a.lockOptions(client)...)

	// The command outlives cancellation of the acquire phase; it receives
	// the signal directly from the terminal or process group.
	runCtx := context.WithoutCancel(ctx)

	var cmdErr error
	err = l.LockWithRetries(ctx, retries, func() {
		a.logger.Info().Str("lock", name).Strs("command", argv).Msg("lock acquired, running command")
		cmdErr = runCommand(runCtx, argv)
	})
	if err != nil {
		return err
	}
	return cmdErr
}
