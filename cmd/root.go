// Package cmd implements the hipd CLI commands using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hiplane/hipd/internal/daemon"
	"github.com/hiplane/hipd/internal/rpc"
)

var (
	// Global flags
	configFile string
	socketPath string
	pidFile    string

	// cli is the shared daemon-lifecycle client built by
	// ensureDaemonAndConnect; commands that need the broader RPC
	// surface (status, stats, hi) build their own command.UDSClient
	// instead.
	cli ClientInterface
)

// rootCmd is the base command when hipd is invoked without a
// subcommand.
var rootCmd = &cobra.Command{
	Use:   "hipd",
	Short: "hipd is the Host Identity Protocol daemon and its control CLI",
	Long: `hipd both runs the Host Identity Protocol daemon (as "hipd daemon")
and controls an already-running one. Commands other than "daemon",
"start", "stop" and "validate" transparently start the daemon in the
background if it is not already reachable on its control socket.`,
	PersistentPreRunE: ensureDaemonAndConnect,
	PersistentPostRun: closeClient,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/hipd/hipd.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/hipd.sock",
		"daemon control socket path")
	rootCmd.PersistentFlags().StringVarP(&pidFile, "pidfile", "p", "/var/run/hipd.pid",
		"daemon PID file path")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(hiCmd)
	rootCmd.AddCommand(validateCmd)
}

// Execute runs the root command. Called by main.main.
func Execute() error {
	return rootCmd.Execute()
}

// ensureDaemonAndConnect is the PersistentPreRunE for every command
// except the ones that manage the daemon process's lifecycle directly
// ("daemon" is the foreground bootstrap itself; "start" and "stop"
// perform their own connection handling so they can report
// already-running/not-running precisely) and "validate", which only
// reads a config file and needs no daemon.
func ensureDaemonAndConnect(cmd *cobra.Command, args []string) error {
	switch cmd.Name() {
	case "daemon", "start", "stop", "validate":
		return nil
	}

	if err := daemon.EnsureDaemonRunning(configFile, socketPath, pidFile); err != nil {
		return fmt.Errorf("failed to ensure daemon: %w", err)
	}

	client, err := rpc.NewClient(configFile, socketPath, pidFile)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon: %w", err)
	}
	cli = client
	return nil
}

func closeClient(cmd *cobra.Command, args []string) {
	if cli != nil {
		cli.Close()
	}
}

// SetClient injects a client, used in tests to avoid talking to a
// real daemon.
func SetClient(c ClientInterface) {
	cli = c
}

// GetClient returns the currently active client.
func GetClient() ClientInterface {
	return cli
}

// exitWithError prints an error message to stderr and exits with
// status 1.
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
