package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration from defaults, the optional YAML file
// at path, an optional .env file in the working directory, and process
// environment variables, with later sources winning. Values already
// present in the environment are not overwritten by the .env file. The
// result is validated before it is returned.
func Load(path string) (*Config, error) {
	return LoadWithEnvFiles(path)
}

// LoadWithEnvFiles behaves like Load but reads the given .env files
// instead of the working-directory default. Missing .env files are
// ignored.
func LoadWithEnvFiles(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadYAMLFile(path, cfg); err != nil {
			return nil, err
		}
	}

	// godotenv never overwrites variables that are already set, so
	// the process environment keeps precedence over .env contents.
	if len(envFiles) == 0 {
		_ = godotenv.Load()
	} else {
		_ = godotenv.Load(envFiles...)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadYAMLFile overlays the YAML document at path onto cfg.
func loadYAMLFile(path string, cfg *Config) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}
