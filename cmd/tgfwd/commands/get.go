package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/tgforwarder/internal/cli"
)

var getCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a rule",
	Long: `Show one rule and its filter tree.

Examples:
  tgfwd rules get 3
  tgfwd rules get 3 --format yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		rule, err := c.GetRule(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get rule: %w", err)
		}

		if quiet {
			return nil
		}
		return cli.PrintRule(cmd.OutOrStdout(), rule, cli.OutputFormat(format))
	},
}

func init() {
	rulesCmd.AddCommand(getCmd)
}
