package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server
type Config struct {
	// Server settings
	Port        int
	CORSOrigins []string

	// Logging
	LogLevel  string
	LogFormat string

	// Database
	DatabaseDSN    string
	DatabaseDriver string // "postgres" or "sqlite", auto-detected from DSN

	// Workspaces
	WorkspaceDir string

	// Sandbox provider settings
	SandboxAPIURL     string
	SandboxAPIKey     string
	SandboxTemplateID string
	SandboxExecPort   int
	SandboxEditorPort int
	SandboxIdleClose  time.Duration
	SandboxNFSServer  string
	SandboxExportDir  string

	// Action execution against the sandbox exec endpoint
	ActionTimeout time.Duration

	// Runtime metering: usage units charged per sandbox-hour
	RuntimeRatePerHour float64

	// Default model credentials (used when a conversation has no model bound)
	ModelName    string
	ModelAPIURL  string
	ModelAPIKey  string
	PlanAttempts int

	// BrowserModelFallbacks maps a disallowed browser model to its
	// substitute ("from=to,from=to").
	BrowserModelFallbacks map[string]string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}

	// Server
	cfg.Port = getEnvInt("PORT", 3000)
	cfg.CORSOrigins = getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"})

	// Logging
	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	// Database
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", "sqlite3://./citron.db")
	cfg.DatabaseDriver = detectDriver(cfg.DatabaseDSN)

	// Workspaces
	cfg.WorkspaceDir = getEnv("WORKSPACE_DIR", "./workspace")

	// Sandbox provider
	cfg.SandboxAPIURL = getEnv("SANDBOX_API_URL", "")
	cfg.SandboxAPIKey = getEnv("SANDBOX_API_KEY", "")
	cfg.SandboxTemplateID = getEnv("SANDBOX_TEMPLATE_ID", "")
	cfg.SandboxExecPort = getEnvInt("SANDBOX_EXEC_PORT", 9001)
	cfg.SandboxEditorPort = getEnvInt("SANDBOX_EDITOR_PORT", 9002)
	cfg.SandboxIdleClose = getEnvDuration("SANDBOX_IDLE_CLOSE", 5*time.Minute)
	cfg.SandboxNFSServer = getEnv("SANDBOX_NFS_SERVER", "")
	cfg.SandboxExportDir = getEnv("SANDBOX_EXPORT_DIR", "citron")

	cfg.ActionTimeout = getEnvDuration("ACTION_TIMEOUT", 600*time.Second)

	// Metering. The default mirrors the hosted pricing: 0.3 RMB per
	// sandbox-hour at 7.2 RMB/USD and 1000 units per USD.
	cfg.RuntimeRatePerHour = getEnvFloat("RUNTIME_RATE_PER_HOUR", 0.3/7.2*1000)

	// Model defaults
	cfg.ModelName = getEnv("MODEL_NAME", "")
	cfg.ModelAPIURL = getEnv("MODEL_API_URL", "")
	cfg.ModelAPIKey = getEnv("MODEL_API_KEY", "")
	cfg.PlanAttempts = getEnvInt("PLAN_ATTEMPTS", 3)

	fallbacks, err := parseFallbacks(getEnv("BROWSER_MODEL_FALLBACKS", "gpt-5-chat=deepseek-v3-250324"))
	if err != nil {
		return nil, err
	}
	cfg.BrowserModelFallbacks = fallbacks

	return cfg, nil
}

// detectDriver determines the database driver from DSN
func detectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(dsn, "sqlite3://") || strings.HasPrefix(dsn, "sqlite://") {
		return "sqlite"
	}
	// Default to sqlite for file paths
	if strings.HasSuffix(dsn, ".db") || strings.HasSuffix(dsn, ".sqlite") {
		return "sqlite"
	}
	return "postgres"
}

// CleanDSN removes the driver prefix from DSN for database/sql
func (c *Config) CleanDSN() string {
	dsn := c.DatabaseDSN
	dsn = strings.TrimPrefix(dsn, "postgres://")
	dsn = strings.TrimPrefix(dsn, "postgresql://")
	dsn = strings.TrimPrefix(dsn, "sqlite3://")
	dsn = strings.TrimPrefix(dsn, "sqlite://")

	// For postgres, add the prefix back
	if c.DatabaseDriver == "postgres" {
		return "postgres://" + dsn
	}
	return dsn
}

// parseFallbacks parses "from=to,from=to" pairs.
func parseFallbacks(raw string) (map[string]string, error) {
	fallbacks := make(map[string]string)
	if raw == "" {
		return fallbacks, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("BROWSER_MODEL_FALLBACKS entry %q must be from=to", pair)
		}
		fallbacks[parts[0]] = parts[1]
	}
	return fallbacks, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
