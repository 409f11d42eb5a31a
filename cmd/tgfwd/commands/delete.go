package commands

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	deleteForce bool
)

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a rule",
	Long: `Delete a stored rule.

Examples:
  tgfwd rules delete 3
  tgfwd rules delete 3 --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]

		c, err := newClient()
		if err != nil {
			return err
		}

		// Confirm deletion unless --force
		if !deleteForce && !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Are you sure you want to delete rule '%s'? (y/N): ", id)
			response, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil {
				return fmt.Errorf("failed to read confirmation: %w", err)
			}
			response = strings.ToLower(strings.TrimSpace(response))
			if response != "y" && response != "yes" {
				fmt.Fprintln(cmd.OutOrStdout(), "Deletion cancelled")
				return nil
			}
		}

		if err := c.DeleteRule(context.Background(), id); err != nil {
			return fmt.Errorf("failed to delete rule: %w", err)
		}

		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully deleted rule '%s'\n", id)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(deleteCmd)

	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Skip confirmation prompt")
}
