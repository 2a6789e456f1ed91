package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/nodewatch"
)

// tokenCmd prints the current bearer token for a node, for manual curl use.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the current bearer token",
	Long: `Print the bearer token for the current time window.

By default the token is derived from the active node's secret in the node
registry file. Pass --secret to derive a token from an explicit secret
instead.

Tokens rotate every 15 seconds, so use the output promptly:

  curl -H "Authorization: Bearer $(nodewatch token)" https://10.0.0.4:7070/v1/monitor/cpu

Token derivation never fails: a missing node or malformed secret yields a
sentinel token that every agent rejects with 403.`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringP("nodes-file", "f", "nodes.yaml", "path to the node registry file")
	tokenCmd.Flags().String("secret", "", "derive the token from this base64 secret instead of the registry")
}

func runToken(cmd *cobra.Command, args []string) error {
	if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
		fmt.Println(nodewatch.IssueToken(secret))
		return nil
	}

	reg, err := loadNodes(cmd)
	if err != nil {
		return err
	}

	node, ok := reg.ActiveNode()
	if !ok {
		// no active node: still emit a token, the sentinel one
		fmt.Println(nodewatch.IssueToken(""))
		return nil
	}
	fmt.Println(nodewatch.IssueToken(node.Secret))
	return nil
}
