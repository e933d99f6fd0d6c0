package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hiplane/hipd/internal/rpc"
)

var foreground bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hipd daemon",
	Long:  "Start the hipd daemon, in the background by default or attached to this terminal with --foreground.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if foreground {
			return runForeground()
		}
		client, err := rpc.NewClient(configFile, socketPath, pidFile)
		if err != nil {
			return err
		}
		return runStart(cmd.Context(), client, cmd.OutOrStdout())
	},
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false, "run attached to this terminal (for systemd-style supervision)")
}

func runStart(ctx context.Context, client ClientInterface, out io.Writer) error {
	if err := client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	fmt.Fprintln(out, "✓ Service started successfully")
	return nil
}

func runForeground() error {
	fmt.Println("Starting in foreground mode...")

	execPath, err := os.Executable()
	if err != nil {
		return err
	}

	return syscall.Exec(execPath, []string{execPath, "daemon",
		"--config", configFile, "--socket", socketPath, "--pidfile", pidFile}, os.Environ())
}
