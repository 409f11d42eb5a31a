package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/tgforwarder/internal/cli"
	"github.com/TimurManjosov/tgforwarder/internal/engine"
	"github.com/TimurManjosov/tgforwarder/internal/rules"
)

var (
	evalTree   string
	evalRule   string
	evalSender string
	evalChat   string
)

var evalCmd = &cobra.Command{
	Use:   "eval <message text>",
	Short: "Evaluate a filter tree against a message",
	Long: `Evaluate a filter tree and print the result of every node.

The tree comes from --tree (inline JSON or @file) or from a stored rule with
--rule.

Examples:
  tgfwd eval --tree @tree.json "Apple unveils new chip"
  tgfwd eval --rule 3 --sender pagerbot "URGENT: db down"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (evalTree == "") == (evalRule == "") {
			return fmt.Errorf("exactly one of --tree or --rule is required")
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var tree rules.LogicNode
		if evalTree != "" {
			if tree, err = readTree(evalTree); err != nil {
				return err
			}
		} else {
			rule, err := c.GetRule(ctx, evalRule)
			if err != nil {
				return fmt.Errorf("failed to get rule: %w", err)
			}
			tree = rule.Filters
		}

		msg := engine.MessageRecord{MessageText: args[0], Sender: evalSender, ChatName: evalChat}
		res, err := c.Evaluate(ctx, tree, msg)
		if err != nil {
			return fmt.Errorf("failed to evaluate: %w", err)
		}

		if quiet {
			return nil
		}
		out := cmd.OutOrStdout()
		if cli.OutputFormat(format) != cli.FormatTable {
			return cli.PrintTrace(out, res.Trace, cli.OutputFormat(format))
		}
		verdict := "DROP"
		if res.Matched {
			verdict = "MATCH"
		}
		fmt.Fprintln(out, verdict)
		for _, d := range res.Diagnostics {
			fmt.Fprintf(out, "warning: node %s: %s\n", d.NodeID, d.Message)
		}
		return cli.PrintTrace(out, res.Trace, cli.FormatTable)
	},
}

func init() {
	rootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVar(&evalTree, "tree", "", "Filter tree as JSON, or @file")
	evalCmd.Flags().StringVar(&evalRule, "rule", "", "Use the tree of this stored rule")
	evalCmd.Flags().StringVar(&evalSender, "sender", "", "Message sender")
	evalCmd.Flags().StringVar(&evalChat, "chat", "", "Chat name")
}
