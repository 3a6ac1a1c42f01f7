package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/caffeineduck/gorupad/executor"
	"github.com/caffeineduck/gorupad/worker"
	"github.com/spf13/cobra"
)

var hostCmd = &cobra.Command{
	Use:    "host",
	Short:  "Serve one interpreter host over stdin and stdout",
	Long:   `Run an interpreter host speaking JSON lines: requests on stdin, events on stdout.`,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runHost,
}

func init() {
	rootCmd.AddCommand(hostCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host := executor.NewHost(newLanguage(cfg, logger), hostOptions(cfg, logger)...)
	err := worker.ServeStdio(ctx, host, cmd.InOrStdin(), cmd.OutOrStdout())
	switch {
	case errors.Is(err, executor.ErrStartup):
		// The parent reports the last stderr line as the reason.
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return &exitError{code: worker.ExitStartupFailed}
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}
