// Package main is the entry point for the nodewatch CLI.
//
// Nodewatch can be run either as a library (SDK) or as a standalone binary
// with YAML configuration. This CLI provides the standalone binary approach.
//
// Usage:
//
//	nodewatch serve -c config.yaml    # Start polling and the diagnostic API
//	nodewatch validate -c config.yaml # Validate configuration
//	nodewatch nodes list              # Manage the node registry
//	nodewatch token                   # Print the current bearer token
//	nodewatch version                 # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set by GoReleaser at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
// It just displays help - actual functionality is in subcommands.
var rootCmd = &cobra.Command{
	Use:   "nodewatch",
	Short: "An authenticated node polling client",
	Long: `Nodewatch polls a remote management agent over authenticated HTTP.

It derives short-lived bearer tokens from a shared secret, polls the active
node's data feeds at fixed intervals, and exposes connection status and the
latest samples over a local diagnostic API.

Quick start:
  1. Register a node: nodewatch nodes add --name lab --address https://10.0.0.4:7070 --secret "$(cat secret.b64)"
  2. Create a config file (nodewatch.yaml) listing the feeds to poll
  3. Run: nodewatch serve -c nodewatch.yaml
  4. Query http://localhost:8080/api/status

Example config:
  port: 8080
  nodes_file: nodes.yaml
  subscriptions:
    - name: cpu
      endpoint: /v1/monitor/cpu
      interval: 1s`,
	// No Run/RunE means this just shows help when called without subcommands
}

// Execute runs the root command.
// This is the main entry point called from main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this nodewatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nodewatch %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Register subcommands with root
	rootCmd.AddCommand(versionCmd)
}
