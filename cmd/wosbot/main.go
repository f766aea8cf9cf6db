package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wosbot/internal/app"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "wosbot",
		Short:         "Task scheduler for emulator game profiles",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")

	root.AddCommand(
		newRunCmd(&cfgPath),
		newValidateCmd(&cfgPath),
		newStatusCmd(),
		newTasksCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "wosbot", version)
			},
		},
	)
	return root
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var (
		noStart bool
		grace   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bot until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			opt := app.Options{Version: version}
			if noStart {
				f := false
				opt.AutoStart = &f
			}
			return run(cmd.Context(), *cfgPath, opt, grace)
		},
	}
	cmd.Flags().BoolVar(&noStart, "paused", false, "start with the bot stopped regardless of engine.auto_start")
	cmd.Flags().DurationVar(&grace, "grace", 15*time.Second, "shutdown deadline")
	return cmd
}

func run(ctx context.Context, cfgPath string, opt app.Options, grace time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.New(ctx, cfgPath, opt)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGINT
		if sig == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
