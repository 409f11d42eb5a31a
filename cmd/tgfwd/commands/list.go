package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/tgforwarder/internal/cli"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

var (
	listActiveOnly bool
	listSource     string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules",
	Long: `List stored rules.

Examples:
  tgfwd rules list
  tgfwd rules list --format json
  tgfwd rules list --active-only --source @ops`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		all, err := c.ListRules(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}

		var shown []rules.FilterRule
		for _, r := range all {
			if listActiveOnly && !r.IsActive {
				continue
			}
			if listSource != "" && r.Source != listSource {
				continue
			}
			shown = append(shown, r)
		}

		if quiet {
			return nil
		}
		if len(shown) == 0 && cli.OutputFormat(format) == cli.FormatTable {
			fmt.Fprintln(cmd.OutOrStdout(), "No rules found")
			return nil
		}
		return cli.PrintRules(cmd.OutOrStdout(), shown, cli.OutputFormat(format))
	},
}

func init() {
	rulesCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listActiveOnly, "active-only", false, "Show only active rules")
	listCmd.Flags().StringVar(&listSource, "source", "", "Show only rules for this source channel")
}
