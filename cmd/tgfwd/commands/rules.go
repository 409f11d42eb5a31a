package commands

import (
	"github.com/spf13/cobra"
)

var rulesCmd = &cobra.Command{
	Use:     "rules",
	Aliases: []string{"rule"},
	Short:   "Manage stored filter rules",
}

func init() {
	rootCmd.AddCommand(rulesCmd)
}
