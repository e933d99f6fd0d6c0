package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/hiplane/hipd/internal/rpc"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the hipd daemon",
	Long: `Stop the hipd daemon gracefully.

Sends a daemon_shutdown command to the running daemon over its
control socket; the daemon tears down its host associations and
exits cleanly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := rpc.NewClient(configFile, socketPath, pidFile)
		if err != nil {
			return err
		}
		return runStop(cmd.Context(), client, cmd.OutOrStdout())
	},
}

func runStop(ctx context.Context, client ClientInterface, out io.Writer) error {
	if err := client.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	fmt.Fprintln(out, "✓ Daemon stopped successfully")
	return nil
}
