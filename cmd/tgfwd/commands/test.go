package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test <id> <message text>",
	Short: "Check whether a stored rule matches a message",
	Long: `Evaluate a stored rule against a message text. The exit status is
non-zero only on errors, not on a non-match.

Example:
  tgfwd rules test 3 "URGENT: db down"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		matched, err := c.TestRule(context.Background(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to test rule: %w", err)
		}

		if !quiet {
			verdict := "DROP"
			if matched {
				verdict = "MATCH"
			}
			fmt.Fprintln(cmd.OutOrStdout(), verdict)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(testCmd)
}
