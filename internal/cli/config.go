package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the CLI configuration
type Config struct {
	DefaultEnv   string               `yaml:"default_env"`
	Environments map[string]EnvConfig `yaml:"environments"`
}

// EnvConfig points the CLI at one deployment. The API key is only needed
// for commands that change rules.
type EnvConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key,omitempty"`
}

const (
	envBaseURL = "TGFWD_BASE_URL"
	envAPIKey  = "TGFWD_API_KEY"
)

// GetConfigPath returns the path to the config file
func GetConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".tgfwd", "config.yaml"), nil
}

// LoadConfig loads the configuration from file. A missing file yields an
// empty config with "local" as the default environment.
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{
				DefaultEnv:   "local",
				Environments: make(map[string]EnvConfig),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Environments == nil {
		cfg.Environments = make(map[string]EnvConfig)
	}
	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetEnvConfig resolves where to send requests.
// Priority: command flags > environment variables > config file
func GetEnvConfig(envName, baseURLFlag, apiKeyFlag string) (*EnvConfig, error) {
	fromEnvURL := os.Getenv(envBaseURL)
	fromEnvKey := os.Getenv(envAPIKey)

	resolved := EnvConfig{}
	if envName != "" || (baseURLFlag == "" && fromEnvURL == "") {
		cfg, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		if envName == "" {
			envName = cfg.DefaultEnv
		}
		envCfg, ok := cfg.Environments[envName]
		if !ok && baseURLFlag == "" && fromEnvURL == "" {
			return nil, fmt.Errorf("environment '%s' not found in config, run 'tgfwd config init' or pass --base-url", envName)
		}
		resolved = envCfg
	}

	switch {
	case baseURLFlag != "":
		resolved.BaseURL = baseURLFlag
	case fromEnvURL != "":
		resolved.BaseURL = fromEnvURL
	}
	switch {
	case apiKeyFlag != "":
		resolved.APIKey = apiKeyFlag
	case fromEnvKey != "":
		resolved.APIKey = fromEnvKey
	}

	if resolved.BaseURL == "" {
		return nil, fmt.Errorf("base_url must be configured for environment '%s'", envName)
	}
	return &resolved, nil
}

// InitConfig creates a default config file
func InitConfig() error {
	cfg := &Config{
		DefaultEnv: "local",
		Environments: map[string]EnvConfig{
			"local": {
				BaseURL: "http://localhost:8080",
				APIKey:  "admin-123",
			},
			"prod": {
				BaseURL: "https://tgforwarder.example.com",
			},
		},
	}
	return SaveConfig(cfg)
}
