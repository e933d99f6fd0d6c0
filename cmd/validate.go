// Package cmd implements CLI commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hiplane/hipd/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a hipd configuration file",
	Long: `Validate a hipd configuration file (YAML) without starting the daemon.

Useful for pre-checking configuration before deploying it.

Example:
  hipd validate -c /etc/hipd/hipd.yml`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidateCommand()
	},
}

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "",
		"config file to validate (defaults to --config)")
}

func runValidateCommand() {
	path := validateConfigFile
	if path == "" {
		path = configFile
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("VALID: node %q, %d host identities configured, esp_prot transform %s, control socket %s\n",
		cfg.Node.Hostname,
		len(cfg.HostIdentities),
		cfg.ESPProt.Transform,
		cfg.Control.Socket,
	)
}
