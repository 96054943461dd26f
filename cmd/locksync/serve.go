package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kneutral-org/locksync/internal/lock"
	"github.com/kneutral-org/locksync/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an in-memory lock service",
		Long: "Serves the lock service protocol (GET and PUT /locks/<name>) from memory, " +
			"for local development and tests. A lease not renewed within --stale-after " +
			"can be taken over by another owner.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), staleAfter)
		},
	}

	cmd.Flags().StringVar(&a.cfg.HTTPAddr, "http-addr", a.cfg.HTTPAddr, "listen address")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", lock.DefaultLeaseTTL, "lease staleness window")

	return cmd
}

func (a *app) serve(ctx context.Context, staleAfter time.Duration) error {
	store := lock.NewMemoryServer(staleAfter)

	reaper := lock.NewReaper(store, staleAfter, a.logger)
	reaper.Start()
	defer reaper.Stop()

	router := server.NewRouter(a.logger)
	server.NewLockHandler(store, a.logger).RegisterRoutes(router)

	srv := server.New(a.cfg.HTTPAddr, router, a.logger)
	srv.Start()

	select {
	case <-ctx.Done():
	case err, ok := <-srv.Err():
		if ok {
			return err
		}
		return nil
	}

	return srv.Shutdown(context.Background())
}
