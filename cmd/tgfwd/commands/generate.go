package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/tgforwarder/internal/cli"
)

var generateCmd = &cobra.Command{
	Use:   "generate <description>",
	Short: "Turn a plain-language description into a filter tree",
	Long: `Ask the server's generator for a filter tree. The table format prints
an outline; json prints a tree you can pass to --filters.

Examples:
  tgfwd generate "messages about Apple or Tesla, but not from spam_bot"
  tgfwd generate --format json "crypto news" > tree.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		tree, err := c.Generate(context.Background(), strings.Join(args, " "))
		if err != nil {
			return fmt.Errorf("failed to generate: %w", err)
		}

		if quiet {
			return nil
		}
		switch cli.OutputFormat(format) {
		case cli.FormatTable:
			return cli.PrintTree(cmd.OutOrStdout(), *tree)
		case cli.FormatJSON:
			return cli.PrintJSON(cmd.OutOrStdout(), tree)
		case cli.FormatYAML:
			return cli.PrintYAML(cmd.OutOrStdout(), tree)
		default:
			return fmt.Errorf("unsupported format: %s", format)
		}
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
