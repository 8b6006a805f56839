package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Memory    MemoryConfig    `json:"memory"`
	Providers ProvidersConfig `json:"providers"`
	API       APIConfig       `json:"api"`
	Status    StatusConfig    `json:"status"`
}

type MemoryConfig struct {
	// Mode is NORMAL (store raw, search every turn) or GATED (gatekeeper
	// arbitration, gated retrieval).
	Mode           string  `json:"mode" env:"BMO_MEMORY_MODE"`
	UserID         string  `json:"user_id" env:"BMO_MEMORY_USER_ID"`
	Backend        string  `json:"backend" env:"BMO_MEMORY_BACKEND"` // sqlite | chromem
	Workspace      string  `json:"workspace" env:"BMO_MEMORY_WORKSPACE"`
	SearchLimit    int     `json:"search_limit" env:"BMO_MEMORY_SEARCH_LIMIT"`
	Threshold      float64 `json:"threshold" env:"BMO_MEMORY_THRESHOLD"`
	BootstrapQuery string  `json:"bootstrap_query" env:"BMO_MEMORY_BOOTSTRAP_QUERY"`
	ProfileLimit   int     `json:"profile_limit" env:"BMO_MEMORY_PROFILE_LIMIT"`
}

type ProvidersConfig struct {
	Gemini GeminiConfig `json:"gemini"`
}

type GeminiConfig struct {
	APIKey         string `json:"api_key" env:"BMO_PROVIDERS_GEMINI_API_KEY"`
	Model          string `json:"model" env:"BMO_PROVIDERS_GEMINI_MODEL"`
	EmbeddingModel string `json:"embedding_model" env:"BMO_PROVIDERS_GEMINI_EMBEDDING_MODEL"`
	TimeoutSeconds int    `json:"timeout_seconds" env:"BMO_PROVIDERS_GEMINI_TIMEOUT_SECONDS"`
}

type APIConfig struct {
	Port int    `json:"port" env:"BMO_API_PORT"`
	PIN  string `json:"pin" env:"BMO_API_PIN"`
}

type StatusConfig struct {
	ReportCron          string `json:"report_cron" env:"BMO_STATUS_REPORT_CRON"`
	TimezoneOffsetHours int    `json:"timezone_offset_hours" env:"BMO_STATUS_TIMEZONE_OFFSET_HOURS"`
}

func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Mode:         "GATED",
			UserID:       "primary",
			Backend:      "sqlite",
			Workspace:    "~/.bmo-agent/workspace",
			SearchLimit:  25,
			Threshold:    0.65,
			ProfileLimit: 10,
		},
		Providers: ProvidersConfig{
			Gemini: GeminiConfig{
				Model:          "gemini-3-flash-preview",
				EmbeddingModel: "text-embedding-004",
				TimeoutSeconds: 20,
			},
		},
		API: APIConfig{
			Port: 8484,
			PIN:  "4869",
		},
		Status: StatusConfig{
			ReportCron:          "0 0 * * *",
			TimezoneOffsetHours: 8,
		},
	}
}

// Load reads the JSON config at path (missing file is fine) and applies
// BMO_* environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env overrides: %w", err)
	}

	// GOOGLE_API_KEY is the conventional variable for Gemini access; honor
	// it when no explicit key is configured.
	if strings.TrimSpace(cfg.Providers.Gemini.APIKey) == "" {
		cfg.Providers.Gemini.APIKey = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}

	cfg.Memory.Workspace = expandHome(cfg.Memory.Workspace)
	return cfg, nil
}

// DefaultPath is ~/.bmo-agent/config.json.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.json"
	}
	return filepath.Join(home, ".bmo-agent", "config.json")
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
