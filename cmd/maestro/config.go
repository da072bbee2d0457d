package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AgentEndpoint binds a logical agent name to its base URL.
type AgentEndpoint struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Config holds all maestro server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr      string          `json:"listen_addr"`
	StoreBackend    string          `json:"store_backend"` // memory | libsql | redis
	DBPath          string          `json:"db_path"`
	RedisURL        string          `json:"redis_url"`
	LogLevel        string          `json:"log_level"`
	SessionTTL      string          `json:"session_ttl"`
	MaxIterations   int             `json:"max_iterations"`
	PlannerAgent    string          `json:"planner_agent"`
	SummarizerAgent string          `json:"summarizer_agent"`
	Agents          []AgentEndpoint `json:"agents"`
	DiscoveryURLs   []string        `json:"discovery_urls"`
	MCP             bool            `json:"mcp"` // serve MCP on stdio instead of HTTP
}

func defaultConfig() Config {
	return Config{
		ListenAddr:    ":4200",
		StoreBackend:  "memory",
		DBPath:        filepath.Join(maestroDir(), "maestro.db"),
		LogLevel:      "info",
		SessionTTL:    "1h",
		MaxIterations: 50,
		PlannerAgent:  "planner",
	}
}

func maestroDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".maestro"
	}
	return filepath.Join(home, ".maestro")
}

func settingsPath() string {
	return filepath.Join(maestroDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("MAESTRO_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("MAESTRO_STORE_BACKEND"); v != "" {
		cfg.StoreBackend = v
	}
	if v := os.Getenv("MAESTRO_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("MAESTRO_REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("MAESTRO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("MAESTRO_SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("MAESTRO_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxIterations = n
		}
	}
	if v := os.Getenv("MAESTRO_PLANNER_AGENT"); v != "" {
		cfg.PlannerAgent = v
	}
	if v := os.Getenv("MAESTRO_SUMMARIZER_AGENT"); v != "" {
		cfg.SummarizerAgent = v
	}
	if v := os.Getenv("MAESTRO_AGENTS"); v != "" {
		// name=url pairs, comma separated.
		cfg.Agents = nil
		for _, pair := range strings.Split(v, ",") {
			name, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok && name != "" && url != "" {
				cfg.Agents = append(cfg.Agents, AgentEndpoint{Name: name, URL: url})
			}
		}
	}
	if v := os.Getenv("MAESTRO_DISCOVERY_URLS"); v != "" {
		cfg.DiscoveryURLs = nil
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.DiscoveryURLs = append(cfg.DiscoveryURLs, u)
			}
		}
	}
	if v := os.Getenv("MAESTRO_MCP"); v != "" {
		cfg.MCP = v == "true" || v == "1"
	}

	return cfg
}

func (c Config) sessionTTL() time.Duration {
	d, err := time.ParseDuration(c.SessionTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
