package main

import (
	"context"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kneutral-org/locksync/internal/config"
	"github.com/kneutral-org/locksync/internal/lock"
	"github.com/kneutral-org/locksync/internal/logging"
)

// app carries the configuration and logger shared by all subcommands.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Load()}

	rootCmd := &cobra.Command{
		Use:           "locksync",
		Short:         "Distributed locks and leader election over a remote lock service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			if a.cfg.LogPretty {
				a.logger = logging.NewPrettyLogger("locksync", a.cfg.LogLevel)
			} else {
				a.logger = logging.NewLogger("locksync", a.cfg.LogLevel)
			}
			cmd.SetContext(logging.ContextWithLogger(cmd.Context(), a.logger))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfg.BaseURI, "base-uri", a.cfg.BaseURI, "lock service address")
	flags.StringVar(&a.cfg.Backend, "backend", a.cfg.Backend, "lock backend: http, redis, postgres or memory")
	flags.DurationVar(&a.cfg.Interval, "interval", a.cfg.Interval, "heartbeat interval")
	flags.DurationVar(&a.cfg.LeaseTTL, "lease-ttl", a.cfg.LeaseTTL, "lease expiry for the redis and postgres backends")
	flags.StringVar(&a.cfg.RedisURL, "redis-url", a.cfg.RedisURL, "redis connection URL")
	flags.StringVar(&a.cfg.PostgresDSN, "postgres-dsn", a.cfg.PostgresDSN, "postgres connection string")
	flags.StringVar(&a.cfg.OwnerID, "owner", a.cfg.OwnerID, "identity of this process")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "log level")
	flags.BoolVar(&a.cfg.LogPretty, "log-pretty", a.cfg.LogPretty, "human readable logs")

	rootCmd.AddCommand(newLockCmd(a))
	rootCmd.AddCommand(newElectCmd(a))
	rootCmd.AddCommand(newServeCmd(a))

	return rootCmd
}

// remoteClient builds the configured lock service client.
func (a *app) remoteClient(ctx context.Context) (lock.RemoteClient, func() error, error) {
	bc := a.cfg.BackendConfig()
	bc.Transport = logging.Transport(a.logger, nil)
	return lock.NewRemoteClient(ctx, bc)
}

// lockOptions returns the options every lock and election is built with.
func (a *app) lockOptions(client lock.RemoteClient) []lock.Option {
	return []lock.Option{
		lock.WithBaseURI(a.cfg.BaseURI),
		lock.WithInterval(a.cfg.Interval),
		lock.WithClient(client),
		lock.WithLogger(logging.LockLogger(a.logger, a.cfg.OwnerID, a.cfg.Backend)),
	}
}

// runCommand runs argv with the process's standard streams attached.
func runCommand(ctx context.Context, argv []string) error {
	logger := logging.LoggerFromContext(ctx)
	logger.Debug().Strs("command", argv).Msg("running command")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// shellCommand runs script with sh -c; an empty script does nothing.
func shellCommand(ctx context.Context, script string) error {
	if script == "" {
		return nil
	}
	return runCommand(ctx, []string{"sh", "-c", script})
}
