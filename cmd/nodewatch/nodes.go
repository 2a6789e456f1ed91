package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/nodewatch/registry"
)

// nodesCmd groups the node registry subcommands.
var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "Manage the node registry",
	Long: `Manage the YAML node registry used by nodewatch serve.

Nodes are remote management agents identified by a base URL and a shared
secret. Exactly one node can be active; serve polls only the active node.

Example:
  nodewatch nodes add --name lab --address https://10.0.0.4:7070 --secret "$(cat secret.b64)"
  nodewatch nodes list
  nodewatch nodes use <id>
  nodewatch nodes remove <id>`,
}

var nodesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new node",
	RunE:  runNodesAdd,
}

var nodesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	RunE:  runNodesList,
}

var nodesUseCmd = &cobra.Command{
	Use:   "use <id>",
	Short: "Mark a node as active",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodesUse,
}

var nodesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodesRemove,
}

func init() {
	rootCmd.AddCommand(nodesCmd)
	nodesCmd.AddCommand(nodesAddCmd, nodesListCmd, nodesUseCmd, nodesRemoveCmd)

	nodesCmd.PersistentFlags().StringP("nodes-file", "f", "nodes.yaml", "path to the node registry file")

	nodesAddCmd.Flags().String("name", "", "display name (required)")
	nodesAddCmd.Flags().String("address", "", "base URL of the node's API (required)")
	nodesAddCmd.Flags().String("secret", "", "base64-encoded 384-byte shared secret (required)")
	_ = nodesAddCmd.MarkFlagRequired("name")
	_ = nodesAddCmd.MarkFlagRequired("address")
	_ = nodesAddCmd.MarkFlagRequired("secret")
}

// loadNodes loads the registry from the --nodes-file flag.
func loadNodes(cmd *cobra.Command) (*registry.Registry, error) {
	path, _ := cmd.Flags().GetString("nodes-file")
	reg, err := registry.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load node registry: %w", err)
	}
	return reg, nil
}

func runNodesAdd(cmd *cobra.Command, args []string) error {
	reg, err := loadNodes(cmd)
	if err != nil {
		return err
	}

	name, _ := cmd.Flags().GetString("name")
	address, _ := cmd.Flags().GetString("address")
	secret, _ := cmd.Flags().GetString("secret")

	node, err := reg.Add(name, address, secret)
	if err != nil {
		return fmt.Errorf("failed to add node: %w", err)
	}
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("Added node %s (%s)\n", node.Name, node.ID)
	if active, ok := reg.ActiveNode(); ok && active.ID == node.ID {
		fmt.Println("  now the active node")
	}
	return nil
}

func runNodesList(cmd *cobra.Command, args []string) error {
	reg, err := loadNodes(cmd)
	if err != nil {
		return err
	}

	nodes := reg.Nodes()
	if len(nodes) == 0 {
		fmt.Println("No nodes registered.")
		return nil
	}

	active, _ := reg.ActiveNode()
	for _, n := range nodes {
		marker := " "
		if n.ID == active.ID {
			marker = "*"
		}
		fmt.Printf("%s %s  %s  %s\n", marker, n.ID, n.Name, n.Address)
	}
	return nil
}

func runNodesUse(cmd *cobra.Command, args []string) error {
	reg, err := loadNodes(cmd)
	if err != nil {
		return err
	}

	if err := reg.SetActive(args[0]); err != nil {
		return err
	}
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("Active node is now %s\n", args[0])
	return nil
}

func runNodesRemove(cmd *cobra.Command, args []string) error {
	reg, err := loadNodes(cmd)
	if err != nil {
		return err
	}

	if err := reg.Remove(args[0]); err != nil {
		return err
	}
	if err := reg.Save(); err != nil {
		return err
	}

	fmt.Printf("Removed node %s\n", args[0])
	if _, ok := reg.ActiveNode(); !ok {
		fmt.Println("  no active node remains; use 'nodewatch nodes use' to pick one")
	}
	return nil
}
