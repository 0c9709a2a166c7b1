package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sessioncore/token-lifecycle-service/internal/app"
	"github.com/sessioncore/token-lifecycle-service/internal/config"
	"github.com/sessioncore/token-lifecycle-service/internal/tools/common"
)

func main() {
	root := &cobra.Command{
		Use:           "token-lifecycle-service",
		Short:         "Refresh token lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newSweepCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the optional periodic token sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, envFile)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	return cmd
}

func newSweepCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired refresh token records once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, envFile)
			if err != nil {
				return err
			}
			deleted, err := a.Janitor.Sweep(ctx)
			if cerr := a.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired token records\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading configuration")
	return cmd
}

func buildApp(ctx context.Context, envFile string) (*app.App, error) {
	if err := common.LoadEnvFile(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg)
}
