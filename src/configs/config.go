// Package configs holds the SDK configuration: the yaml-backed client
// config and the property bag of protocol tunables.
package configs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	Service struct {
		Endpoint string `yaml:"endpoint" json:"endpoint"`
		Region   string `yaml:"region" json:"region"`
		Key      string `yaml:"key" json:"key"`
		Language string `yaml:"language" json:"language"`
	} `yaml:"service" json:"service"`

	Recognition struct {
		// Mode is "interactive" or "continuous"; it selects the activity
		// timeout (8s vs 25s).
		Mode            string   `yaml:"mode" json:"mode"`
		TargetLanguages []string `yaml:"target_languages" json:"target_languages"`
	} `yaml:"recognition" json:"recognition"`

	Log struct {
		LogLevel string `yaml:"log_level" json:"log_level"`
	} `yaml:"log" json:"log"`

	Properties Properties `yaml:"properties" json:"properties"`
}

// LoadConfig reads a yaml config file, applying defaults for anything the
// file leaves unset.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Properties == nil {
		cfg.Properties = Properties{}
	}
	return cfg, nil
}

func DefaultConfig() *Config {
	cfg := &Config{Properties: Properties{}}
	cfg.Service.Language = "en-US"
	cfg.Recognition.Mode = "interactive"
	cfg.Log.LogLevel = "info"
	return cfg
}
