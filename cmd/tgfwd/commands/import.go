package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/tgforwarder/internal/cli"
	"github.com/TimurManjosov/tgforwarder/internal/validation"
)

var (
	importDryRun bool
	importForce  bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import rules from a file",
	Long: `Import rules from a YAML or JSON file written by export. Every rule is
created anew; ids in the file are ignored.

Examples:
  tgfwd import rules.yaml
  tgfwd import rules.yaml --dry-run
  tgfwd import rules.json --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var set cli.RuleSet
		if err := decodeRuleSet(data, &set); err != nil {
			return fmt.Errorf("failed to parse file: %w", err)
		}
		if len(set.Rules) == 0 {
			return fmt.Errorf("no rules found in file")
		}

		out := cmd.OutOrStdout()
		if verbose {
			fmt.Fprintf(out, "Found %d rule(s) to import\n", len(set.Rules))
		}

		invalid := 0
		for i := range set.Rules {
			r := &set.Rules[i]
			r.ID = ""
			r.Normalize()
			if res := validation.ValidateRule(*r); !res.Valid {
				invalid++
				for field, msg := range res.Errors {
					fmt.Fprintf(cmd.ErrOrStderr(), "Rule '%s': %s: %s\n", r.Name, field, msg)
				}
			}
		}
		if invalid > 0 && !importForce {
			return fmt.Errorf("%d rule(s) failed validation, use --force to skip them", invalid)
		}

		if importDryRun {
			fmt.Fprintln(out, "Dry run mode - the following rules would be imported:")
			for _, r := range set.Rules {
				fmt.Fprintf(out, "  - %s (%s -> %s, active: %v)\n", r.Name, r.Source, r.Destination, r.IsActive)
			}
			return nil
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := context.Background()

		successCount := 0
		errorCount := 0
		for _, r := range set.Rules {
			if verbose {
				fmt.Fprintf(out, "Importing rule: %s\n", r.Name)
			}
			if _, err := c.CreateRule(ctx, r); err != nil {
				errorCount++
				fmt.Fprintf(cmd.ErrOrStderr(), "Failed to import rule '%s': %v\n", r.Name, err)
				if !importForce {
					return fmt.Errorf("import failed, use --force to continue on errors")
				}
				continue
			}
			successCount++
		}

		if !quiet {
			fmt.Fprintf(out, "Import complete: %d succeeded, %d failed\n", successCount, errorCount)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate without importing")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Continue on errors")
}

func decodeRuleSet(data []byte, set *cli.RuleSet) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		return json.Unmarshal(data, set)
	}
	return yaml.Unmarshal(data, set)
}
