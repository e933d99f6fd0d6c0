package cmd

import (
	"github.com/spf13/cobra"

	"github.com/hiplane/hipd/internal/daemon"
)

// daemonCmd runs the hipd daemon in the foreground. It is what
// manager.StartDaemon execs into the background, and what "start
// --foreground" re-execs into directly.
var daemonCmd = &cobra.Command{
	Use:    "daemon",
	Short:  "Run the hipd daemon in the foreground",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(configFile, socketPath, pidFile)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}
		return d.Run()
	},
}
