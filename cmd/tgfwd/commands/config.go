package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/tgforwarder/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the tgfwd configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Create a default configuration file at ~/.tgfwd/config.yaml

Example:
  tgfwd config init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.InitConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		configPath, _ := cli.GetConfigPath()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Configuration file created at: %s\n", configPath)
		fmt.Fprintln(out, "\nEdit the file to point at your server and set the admin API key.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Default Environment: %s\n\n", cfg.DefaultEnv)
		fmt.Fprintln(out, "Environments:")
		names := make([]string, 0, len(cfg.Environments))
		for name := range cfg.Environments {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			envCfg := cfg.Environments[name]
			fmt.Fprintf(out, "  %s:\n", name)
			fmt.Fprintf(out, "    base_url: %s\n", envCfg.BaseURL)
			fmt.Fprintf(out, "    api_key: %s\n", maskKey(envCfg.APIKey))
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <env.key>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value.

Examples:
  tgfwd config get local.base_url
  tgfwd config get prod.api_key`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		envName, key, err := splitKey(args[0])
		if err != nil {
			return err
		}
		envCfg, ok := cfg.Environments[envName]
		if !ok {
			return fmt.Errorf("environment '%s' not found", envName)
		}

		switch key {
		case "base_url":
			fmt.Fprintln(cmd.OutOrStdout(), envCfg.BaseURL)
		case "api_key":
			fmt.Fprintln(cmd.OutOrStdout(), envCfg.APIKey)
		default:
			return fmt.Errorf("unknown key '%s', valid keys: base_url, api_key", key)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <env.key> <value>",
	Short: "Set a configuration value",
	Long: `Set a specific configuration value. Use "default_env" as the key to
change the default environment.

Examples:
  tgfwd config set local.base_url http://localhost:8080
  tgfwd config set prod.api_key my-secret-key
  tgfwd config set default_env prod`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if args[0] == "default_env" {
			cfg.DefaultEnv = args[1]
		} else {
			envName, key, err := splitKey(args[0])
			if err != nil {
				return err
			}
			envCfg := cfg.Environments[envName]
			switch key {
			case "base_url":
				envCfg.BaseURL = args[1]
			case "api_key":
				envCfg.APIKey = args[1]
			default:
				return fmt.Errorf("unknown key '%s', valid keys: base_url, api_key", key)
			}
			cfg.Environments[envName] = envCfg
		}

		if err := cli.SaveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Successfully set %s\n", args[0])
		return nil
	},
}

func splitKey(s string) (envName, key string, err error) {
	envName, key, ok := strings.Cut(s, ".")
	if !ok || envName == "" || key == "" {
		return "", "", fmt.Errorf("invalid key format, expected 'env.key' (e.g., 'local.base_url')")
	}
	return envName, key, nil
}

func maskKey(k string) string {
	if len(k) > 4 {
		return k[:4] + "***"
	}
	return "***"
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
