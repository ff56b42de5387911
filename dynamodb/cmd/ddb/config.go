package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const cliConfigFilename = "ddb.yaml"

// CLIConfig holds defaults for the ddb commands.
// Loaded from ddb.yaml if present.
type CLIConfig struct {
	// Schema is the path of the table schema file.
	Schema string `yaml:"schema"`

	// EnvFile seeds the DYNAMODB_* settings.
	EnvFile string `yaml:"envFile"`

	// Local is a BadgerDB directory used instead of DynamoDB.
	Local string `yaml:"local"`
}

// LoadCLIConfig searches for ddb.yaml starting from the current directory
// and walking up to the filesystem root. Relative paths in the file are
// resolved against its directory. Returns empty config if not found.
func LoadCLIConfig() CLIConfig {
	var cfg CLIConfig

	configPath := findUp(cliConfigFilename)
	if configPath == "" {
		return cfg
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return CLIConfig{}
	}
	dir := filepath.Dir(configPath)
	cfg.Schema = resolve(dir, cfg.Schema)
	cfg.EnvFile = resolve(dir, cfg.EnvFile)
	cfg.Local = resolve(dir, cfg.Local)
	return cfg
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// findUp searches for name walking up from current directory.
func findUp(name string) string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
}
