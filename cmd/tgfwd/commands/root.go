package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/tgforwarder/internal/cli"
	"github.com/TimurManjosov/tgforwarder/internal/client"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tgfwd",
	Short: "CLI tool for managing message forwarding rules",
	Long: `tgfwd manages the filter rules of a tgforwarder server.

It lists, creates, updates and deletes rules, evaluates filter trees
against sample messages and turns plain-language descriptions into trees.

Examples:
  tgfwd rules list
  tgfwd rules create --name Outages --source @ops --destination @oncall --filters @tree.json
  tgfwd rules test 3 "URGENT: db down"
  tgfwd generate "messages about Apple or Tesla"
  tgfwd export -o rules.yaml`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the tgforwarder API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Admin API key")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment from the config file")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose output")
}

func newClient() (*client.Client, error) {
	envCfg, err := cli.GetEnvConfig(env, baseURL, apiKey)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return client.NewClient(envCfg.BaseURL, envCfg.APIKey), nil
}

// readTree parses a filter tree given inline or, with a leading '@', from a file.
func readTree(arg string) (rules.LogicNode, error) {
	data := []byte(arg)
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(name); err != nil {
			return rules.LogicNode{}, fmt.Errorf("failed to read tree: %w", err)
		}
	}
	var tree rules.LogicNode
	if err := json.Unmarshal(data, &tree); err != nil {
		return rules.LogicNode{}, fmt.Errorf("invalid tree JSON: %w", err)
	}
	return tree, nil
}
