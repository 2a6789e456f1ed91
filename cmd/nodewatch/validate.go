package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/nodewatch/config"
)

// validateCmd validates a config file without starting the service.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a nodewatch configuration file without starting the service.

This command parses the YAML, expands environment variables, and validates
all fields. It's useful for CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  nodewatch validate -c config.yaml
  nodewatch validate --config /etc/nodewatch/config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:          %d\n", cfg.Port)
	fmt.Printf("  Nodes file:    %s\n", cfg.NodesFile)
	fmt.Printf("  Subscriptions: %d\n", len(cfg.Subscriptions))
	for _, sc := range cfg.Subscriptions {
		fmt.Printf("    - %s -> %s\n", sc.Name, sc.Endpoint)
	}

	return nil
}
