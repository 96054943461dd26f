package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kneutral-org/locksync/internal/lock"
	"github.com/kneutral-org/locksync/internal/logging"
	"github.com/kneutral-org/locksync/internal/server"
)

type electOptions struct {
	leaderCmd   string
	followerCmd string
	loop        bool
}

func newElectCmd(a *app) *cobra.Command {
	var opts electOptions

	cmd := &cobra.Command{
		Use:   "elect <name>",
		Short: "Take part in a leader election",
		Long: "Makes one attempt to lead the named election. The leader command runs " +
			"while leadership is held; the follower command runs after every attempt. " +
			"With --loop the attempt repeats until interrupted, and health, status " +
			"and metrics are served over HTTP.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.loop {
				return a.runElector(cmd.Context(), args[0], opts)
			}
			return a.runElection(cmd.Context(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.leaderCmd, "leader-cmd", "", "shell command to run as leader")
	cmd.Flags().StringVar(&opts.followerCmd, "follower-cmd", "", "shell command to run after every attempt")
	cmd.Flags().BoolVar(&opts.loop, "loop", false, "keep contending for leadership")
	cmd.Flags().DurationVar(&a.cfg.ElectionPacing, "pacing", a.cfg.ElectionPacing, "pause between attempts with --loop")
	cmd.Flags().StringVar(&a.cfg.HTTPAddr, "http-addr", a.cfg.HTTPAddr, "status server address with --loop")

	return cmd
}

func (a *app) newElection(ctx context.Context, name string, opts electOptions, client lock.RemoteClient) *lock.Election {
	runCtx := context.WithoutCancel(ctx)
	logger := logging.ElectionLogger(a.logger, name, a.cfg.OwnerID)

	run := func(role, script string) lock.Action {
		return func() {
			if err := shellCommand(runCtx, script); err != nil {
				logger.Error().Err(err).Str("role", role).Msg("command failed")
			}
		}
	}

	return lock.NewElection(name,
		run(lock.RoleLeader, opts.leaderCmd),
		run(lock.RoleFollower, opts.followerCmd),
		a.lockOptions(client)...,
	)
}

// runElection makes a single attempt. Losing the election is not an error.
func (a *app) runElection(ctx context.Context, name string, opts electOptions) error {
	client, closeClient, err := a.remoteClient(ctx)
	if err != nil {
		return err
	}
	defer closeClient()

	election := a.newElection(ctx, name, opts, client)
	if err := election.Run(ctx); err != nil && !errors.Is(err, lock.ErrNotAcquired) {
		return err
	}
	return nil
}

func (a *app) runElector(ctx context.Context, name string, opts electOptions) error {
	client, closeClient, err := a.remoteClient(ctx)
	if err != nil {
		return err
	}
	defer closeClient()

	if cleaner, ok := client.(lock.Cleaner); ok {
		reaper := lock.NewReaper(cleaner, a.cfg.LeaseTTL, a.logger)
		reaper.Start()
		defer reaper.Stop()
	}

	logger := logging.ElectionLogger(a.logger, name, a.cfg.OwnerID)
	elector := lock.NewElector(a.newElection(ctx, name, opts, client), logger,
		lock.WithPacing(a.cfg.ElectionPacing),
		lock.WithOnRole(func(role string) {
			logger.Info().Str("role", role).Msg("role changed")
		}),
	)

	router := server.NewRouter(a.logger)
	server.NewStatusHandler(elector, a.cfg.OwnerID).RegisterRoutes(router)
	srv := server.New(a.cfg.HTTPAddr, router, a.logger)
	srv.Start()

	elector.Start(ctx)

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-srv.Err():
		if ok {
			serveErr = err
		}
	}

	elector.Stop()
	if err := srv.Shutdown(context.Background()); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
