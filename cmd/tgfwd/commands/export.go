package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/tgforwarder/internal/cli"
)

var (
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export rules to a file",
	Long: `Export every stored rule to a YAML or JSON file.

Examples:
  tgfwd export --output rules.yaml
  tgfwd export --output rules.json --format json
  tgfwd export > backup.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}

		all, err := c.ListRules(context.Background())
		if err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}

		var output io.Writer = cmd.OutOrStdout()
		if exportOutput != "" && exportOutput != "-" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer f.Close()
			output = f
		}

		// table makes no sense in a file, default to YAML
		outFormat := cli.OutputFormat(format)
		if outFormat == cli.FormatTable {
			outFormat = cli.FormatYAML
		}
		if err := cli.PrintRules(output, all, outFormat); err != nil {
			return fmt.Errorf("failed to encode rules: %w", err)
		}

		if exportOutput != "" && exportOutput != "-" && !quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "Successfully exported %d rule(s) to %s\n", len(all), exportOutput)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file (default: stdout)")
}
