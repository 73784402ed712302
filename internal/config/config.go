// Package config loads engine configuration from a yaml file overlaid with
// environment variables. Provider API keys support ${VAR} substitution so
// secrets stay out of the config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces the engine's environment variables. Nested keys use
// double underscores, e.g. BRAINSTORM_SERVER__PORT.
const envPrefix = "BRAINSTORM_"

type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Storage   StorageConfig    `koanf:"storage"`
	Providers []ProviderConfig `koanf:"providers"`
	Engine    EngineConfig     `koanf:"engine"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// ProviderConfig binds a speaker role to a backend.
type ProviderConfig struct {
	Role    string `koanf:"role"`
	Type    string `koanf:"type"` // anthropic, xai
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
}

type EngineConfig struct {
	// CallTimeout is the per-adapter-call deadline, e.g. "2m".
	CallTimeout string `koanf:"call_timeout"`
	// HistoryBudget caps the prompt transcript in tokens. Zero disables
	// truncation.
	HistoryBudget int `koanf:"history_budget"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the config file at path (skipped when missing) and overlays
// environment variables.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "memory")
	}
	if !k.Exists("storage.sqlite.path") {
		k.Set("storage.sqlite.path", "brainstorm.db")
	}
	if !k.Exists("engine.call_timeout") {
		k.Set("engine.call_timeout", "2m")
	}
	if !k.Exists("engine.history_budget") {
		k.Set("engine.history_budget", 8000)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
