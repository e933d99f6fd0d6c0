// Package cmd implements CLI commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hiplane/hipd/internal/command"
)

// hiCmd groups the host-identity management subcommands: a thin CLI
// wrapper over the daemon's in-memory HID store, reached over the
// same control socket as status/stats.
var hiCmd = &cobra.Command{
	Use:   "hi",
	Short: "Manage host identities",
	Long: `Manage the hipd daemon's local Host Identities.

Subcommands:
  list     - list configured host identities and their HITs
  generate - generate a new host identity
  default  - show the default host identity`,
}

var hiListCmd = &cobra.Command{
	Use:   "list",
	Short: "List host identities",
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.HIDList(context.Background())
		if err != nil {
			exitWithError("failed to list host identities", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("hid_list failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

var (
	hiGenAlgorithm string
	hiGenBits      int
	hiGenHostname  string
	hiGenAnonymous bool
)

var hiGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new host identity",
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 30*time.Second)
		params := command.HIDGenerateParams{
			Algorithm: hiGenAlgorithm,
			Bits:      hiGenBits,
			Hostname:  hiGenHostname,
			Anonymous: hiGenAnonymous,
		}
		resp, err := client.HIDGenerate(context.Background(), params)
		if err != nil {
			exitWithError("failed to generate host identity", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("hid_generate failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

var hiDefaultCmd = &cobra.Command{
	Use:   "default",
	Short: "Show the default host identity",
	Run: func(cmd *cobra.Command, args []string) {
		client := command.NewUDSClient(socketPath, 10*time.Second)
		resp, err := client.HIDDefault(context.Background())
		if err != nil {
			exitWithError("failed to query default host identity", err)
		}
		if resp.Error != nil {
			exitWithError(fmt.Sprintf("hid_default failed: %s", resp.Error.Message), nil)
		}
		printJSON(resp.Result)
	},
}

func init() {
	hiGenerateCmd.Flags().StringVarP(&hiGenAlgorithm, "algorithm", "a", "ecdsa256",
		"key algorithm: rsa, ecdsa256, ecdsa384")
	hiGenerateCmd.Flags().IntVar(&hiGenBits, "bits", 2048, "RSA modulus size (rsa only)")
	hiGenerateCmd.Flags().StringVar(&hiGenHostname, "hostname", "", "FQDN to embed in the host identity")
	hiGenerateCmd.Flags().BoolVar(&hiGenAnonymous, "anonymous", false, "mark the identity anonymous (initiator-only use)")

	hiCmd.AddCommand(hiListCmd)
	hiCmd.AddCommand(hiGenerateCmd)
	hiCmd.AddCommand(hiDefaultCmd)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitWithError("failed to format result", err)
	}
	fmt.Println(string(data))
}
