package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

var (
	createName          string
	createSource        string
	createDestination   string
	createDelivery      string
	createInactive      bool
	createFilters       string
	createPrompt        string
	createAIInstruction string
)

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new rule",
	Long: `Create a rule. The filter tree comes from --filters (inline JSON or
@file) or is generated from a description with --prompt. Without either the
rule starts with an empty AND group, which matches everything.

Examples:
  tgfwd rules create --name Outages --source @ops --destination @oncall --filters @tree.json
  tgfwd rules create --name Apple --source @news --prompt "messages about Apple"
  tgfwd rules create --name Triage --ai-instruction "Only real incidents"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if createFilters != "" && createPrompt != "" {
			return fmt.Errorf("--filters and --prompt are mutually exclusive")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		rule := rules.FilterRule{
			Name:           createName,
			Source:         createSource,
			Destination:    createDestination,
			DeliveryMethod: rules.DeliveryMethod(createDelivery),
			IsActive:       !createInactive,
			AIConfig:       rules.DefaultAIConfig(),
		}
		if createAIInstruction != "" {
			rule.AIConfig.Enabled = true
			rule.AIConfig.SystemInstruction = createAIInstruction
		}

		switch {
		case createFilters != "":
			if rule.Filters, err = readTree(createFilters); err != nil {
				return err
			}
		case createPrompt != "":
			tree, err := c.Generate(ctx, createPrompt)
			if err != nil {
				return fmt.Errorf("failed to generate filters: %w", err)
			}
			rule.Filters = *tree
		}

		created, err := c.CreateRule(ctx, rule)
		if err != nil {
			return fmt.Errorf("failed to create rule: %w", err)
		}

		if !quiet {
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully created rule '%s' (id %s)\n", created.Name, created.ID)
		}
		return nil
	},
}

func init() {
	rulesCmd.AddCommand(createCmd)

	createCmd.Flags().StringVar(&createName, "name", "", "Rule name")
	createCmd.Flags().StringVar(&createSource, "source", "", "Source channel")
	createCmd.Flags().StringVar(&createDestination, "destination", "", "Destination channel")
	createCmd.Flags().StringVar(&createDelivery, "delivery", "forward", "Delivery method (forward, copy)")
	createCmd.Flags().BoolVar(&createInactive, "inactive", false, "Create the rule paused")
	createCmd.Flags().StringVar(&createFilters, "filters", "", "Filter tree as JSON, or @file")
	createCmd.Flags().StringVar(&createPrompt, "prompt", "", "Generate the filter tree from this description")
	createCmd.Flags().StringVar(&createAIInstruction, "ai-instruction", "", "Enable AI refinement with this instruction")
}
