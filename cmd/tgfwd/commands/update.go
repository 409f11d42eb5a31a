package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	updateName          string
	updateSource        string
	updateDestination   string
	updateDelivery      string
	updateActive        bool
	updateFilters       string
	updateAIEnabled     bool
	updateAIInstruction string
)

var updateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a rule",
	Long: `Update a rule. Only the flags you pass are changed.

Examples:
  tgfwd rules update 3 --active=false
  tgfwd rules update 3 --filters @tree.json
  tgfwd rules update 3 --ai-enabled --ai-instruction "Only outages"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := args[0]
		flags := cmd.Flags()

		patch := map[string]any{}
		if flags.Changed("name") {
			patch["name"] = updateName
		}
		if flags.Changed("source") {
			patch["source"] = updateSource
		}
		if flags.Changed("destination") {
			patch["destination"] = updateDestination
		}
		if flags.Changed("delivery") {
			patch["delivery_method"] = updateDelivery
		}
		if flags.Changed("active") {
			patch["is_active"] = updateActive
		}
		if flags.Changed("filters") {
			tree, err := readTree(updateFilters)
			if err != nil {
				return err
			}
			patch["filters"] = tree
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		// ai_config is replaced as a whole server side, so merge locally
		if flags.Changed("ai-enabled") || flags.Changed("ai-instruction") {
			current, err := c.GetRule(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to get rule: %w", err)
			}
			ai := current.AIConfig
			if flags.Changed("ai-enabled") {
				ai.Enabled = updateAIEnabled
			}
			if flags.Changed("ai-instruction") {
				ai.SystemInstruction = updateAIInstruction
			}
			patch["ai_config"] = ai
		}

		if len(patch) == 0 {
			return fmt.Errorf("nothing to update, pass at least one flag")
		}

		updated, err := c.UpdateRule(ctx, id, patch)
		if err != nil {
			return fmt.Errorf("failed to update rule: %w", err)
		}

		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully updated rule '%s' (id %s)\n", updated.Name, updated.ID)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(updateCmd)

	updateCmd.Flags().StringVar(&updateName, "name", "", "Rule name")
	updateCmd.Flags().StringVar(&updateSource, "source", "", "Source channel")
	updateCmd.Flags().StringVar(&updateDestination, "destination", "", "Destination channel")
	updateCmd.Flags().StringVar(&updateDelivery, "delivery", "", "Delivery method (forward, copy)")
	updateCmd.Flags().BoolVar(&updateActive, "active", true, "Whether the rule is active")
	updateCmd.Flags().StringVar(&updateFilters, "filters", "", "Filter tree as JSON, or @file")
	updateCmd.Flags().BoolVar(&updateAIEnabled, "ai-enabled", false, "Enable AI refinement")
	updateCmd.Flags().StringVar(&updateAIInstruction, "ai-instruction", "", "AI refinement instruction")
}
