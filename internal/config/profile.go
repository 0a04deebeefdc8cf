// Package config resolves the riverboat runtime configuration from a
// named profile plus environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ProfileDefaults holds environment-specific default configuration
// values. Profiles provide defaults only — explicit env vars always
// override.
type ProfileDefaults struct {
	Name             string
	GateMode         string
	CacheTTL         time.Duration
	CamperTimeout    time.Duration
	BreakerThreshold int
	BreakerRecovery  time.Duration
	OllamaModel      string
}

var profiles = map[string]*ProfileDefaults{
	"dev": {
		Name:             "dev",
		GateMode:         "flag",
		CacheTTL:         5 * time.Minute,
		CamperTimeout:    120 * time.Second,
		BreakerThreshold: 5,
		BreakerRecovery:  30 * time.Second,
		OllamaModel:      "llama3.2",
	},
	"staging": {
		Name:             "staging",
		GateMode:         "suppress",
		CacheTTL:         30 * time.Minute,
		CamperTimeout:    120 * time.Second,
		BreakerThreshold: 5,
		BreakerRecovery:  60 * time.Second,
		OllamaModel:      "llama3.2",
	},
	"prod": {
		Name:             "prod",
		GateMode:         "suppress",
		CacheTTL:         30 * time.Minute,
		CamperTimeout:    90 * time.Second,
		BreakerThreshold: 3,
		BreakerRecovery:  60 * time.Second,
		OllamaModel:      "llama3.1:70b",
	},
}

// LoadProfile returns profile defaults for the given name.
// Empty name defaults to "dev". Unknown names return an error.
func LoadProfile(name string) (*ProfileDefaults, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		name = "dev"
	}
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (valid: dev, staging, prod)", name)
	}
	copy := *p
	return &copy, nil
}

// Config is the fully resolved runtime configuration.
type Config struct {
	Profile     *ProfileDefaults
	Addr        string
	DatabaseURL string
	AuthSecret  string
	OllamaURL   string
	OllamaModel string
	GateMode    string
	CacheTTL    time.Duration
}

// Load resolves configuration from RIVERBOAT_PROFILE and the
// individual env overrides. DATABASE_URL and OLLAMA_URL may be empty:
// the delivery log and LLM backing are both optional.
func Load() (*Config, error) {
	p, err := LoadProfile(os.Getenv("RIVERBOAT_PROFILE"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Profile:     p,
		Addr:        envOrDefault("RIVERBOAT_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		AuthSecret:  os.Getenv("RIVERBOAT_AUTH_SECRET"),
		OllamaURL:   os.Getenv("OLLAMA_URL"),
		OllamaModel: envOrDefault("OLLAMA_MODEL", p.OllamaModel),
		GateMode:    envOrDefault("GATE_MODE", p.GateMode),
		CacheTTL:    p.CacheTTL,
	}

	if v := os.Getenv("RIVERBOAT_CACHE_TTL_SECONDS"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("invalid RIVERBOAT_CACHE_TTL_SECONDS %q", v)
		}
		cfg.CacheTTL = time.Duration(secs) * time.Second
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
