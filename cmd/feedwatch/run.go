package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedwatch/internal/app"

	"github.com/spf13/cobra"
)

var stopTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the watch daemon until SIGINT or SIGTERM",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "graceful shutdown budget")
	rootCmd.AddCommand(runCmd)
}

func runAction(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	var reason app.StopReason
	var runErr error
	select {
	case s := <-sigc:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		// A worker hit a fatal error and the supervisor tore the rest down.
		reason = app.StopFatalError
		runErr = a.Err()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
