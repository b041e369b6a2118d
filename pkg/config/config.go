package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadEffective merges the config file (if present) with environment
// overrides and returns the effective config plus the source it was
// primarily drawn from ("config", "env" or "defaults"). Missing config
// files are not an error; env-only and default operation are supported.
func LoadEffective(path string) (*Config, string, error) {
	cfg := &Config{}
	source := "defaults"

	if path != "" {
		fileCfg, err := Load(path)
		if err == nil {
			cfg = fileCfg
			source = "config"
		} else if !os.IsNotExist(err) {
			return nil, "", err
		}
	}

	if applyEnv(cfg) && source == "defaults" {
		source = "env"
	}
	applyDefaults(cfg)
	return cfg, source, nil
}

// applyDefaults fills in zero-valued fields that have sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8022
	}
	if cfg.Server.MaxFrameBytes == 0 {
		cfg.Server.MaxFrameBytes = 64 * 1024
	}
	if cfg.Storage.MessagesPath == "" {
		cfg.Storage.MessagesPath = "./data/messages.json"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "./data/index"
	}
	if cfg.Storage.UsersPath == "" {
		cfg.Storage.UsersPath = "./data/users"
	}
	if cfg.Storage.ReadRetry.Attempts == 0 {
		cfg.Storage.ReadRetry.Attempts = 5
	}
	if cfg.Storage.ReadRetry.Delay == 0 {
		cfg.Storage.ReadRetry.Delay = Duration(100e6) // 100ms
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "finalend/hermes-3-llama-3.1:8b"
	}
	if cfg.LLM.Temperature == 0 {
		cfg.LLM.Temperature = 0.7
	}
	if cfg.LLM.TopP == 0 {
		cfg.LLM.TopP = 0.9
	}
	if cfg.LLM.TopK == 0 {
		cfg.LLM.TopK = 40
	}
	if cfg.Security.RateLimit.RPS == 0 {
		cfg.Security.RateLimit.RPS = 5
	}
	if cfg.Security.RateLimit.Burst == 0 {
		cfg.Security.RateLimit.Burst = 10
	}
	if cfg.Retention.Cron == "" {
		cfg.Retention.Cron = "0 2 * * *"
	}
}
