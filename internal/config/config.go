// Package config wraps the viper configuration singleton for chronicled.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton.
// Should be called once at application startup.
func Initialize() error {
	return InitializeWithPath("")
}

// InitializeWithPath is Initialize with an explicit config file override
// (the --config flag). An empty path falls back to discovery.
func InitializeWithPath(path string) error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Explicit override wins.
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
		v.SetConfigFile(path)
		configFileSet = true
	}

	// 2. Walk up from CWD to find chronicle.yaml so the server can be
	//    started from any subdirectory of a project.
	if !configFileSet {
		if cwd, err := os.Getwd(); err == nil {
			for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
				configPath := filepath.Join(dir, "chronicle.yaml")
				if _, err := os.Stat(configPath); err == nil {
					v.SetConfigFile(configPath)
					configFileSet = true
					break
				}
			}
		}
	}

	// 3. User config directory (~/.config/chronicle/config.yaml).
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "chronicle", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// 4. Home directory (~/.chronicle/config.yaml).
	if !configFileSet {
		if homeDir, err := os.UserHomeDir(); err == nil {
			configPath := filepath.Join(homeDir, ".chronicle", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	// Environment variables take precedence over config file values.
	// E.g., CHRONICLE_DB_PATH, CHRONICLE_SERVER_AUTH_TOKEN, CHRONICLE_LLM_API_KEY.
	v.SetEnvPrefix("CHRONICLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults()

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

func setDefaults() {
	// Core
	v.SetDefault("db_path", defaultDBPath())
	v.SetDefault("pool_size", 10)
	v.SetDefault("environment", "development")

	// Server
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.auth_token", "")
	v.SetDefault("api_v1_prefix", "/api/v1")

	// CORS
	v.SetDefault("cors.origins", []string{"*"})
	v.SetDefault("cors.credentials", false)
	v.SetDefault("cors.methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.headers", []string{"Authorization", "Content-Type"})

	// Logging
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("log_file", "")

	// LLM collaborator
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "claude-3-5-haiku-latest")
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "30s")

	// Embedding collaborator
	v.SetDefault("embed.api_key", "")
	v.SetDefault("embed.model", "text-embedding-3-small")
	v.SetDefault("embed.dim", 1536)

	// Note workspace provider
	v.SetDefault("notes.api_key", "")
	v.SetDefault("notes.base_url", "https://api.notion.com/v1")
	v.SetDefault("notes.page_size", 100)
	v.SetDefault("notes.request_delay", "350ms")
	v.SetDefault("notes.batch_size", 8)

	// Calendar provider
	v.SetDefault("calendar.credentials_path", "")
	v.SetDefault("calendar.ids", []string{"primary"})

	// Tagging
	v.SetDefault("tagging.log_file", "")
	v.SetDefault("tagging.review_threshold", 0.5)
	v.SetDefault("tagging.regen_enabled", false)
	v.SetDefault("tagging.regen_ratio", 0.3)

	// Cleanup
	v.SetDefault("cleanup.removal_threshold", 0.8)
	v.SetDefault("cleanup.merge_threshold", 0.6)

	// Taxonomy
	v.SetDefault("taxonomy.seed_file", "")

	// Rate limits (requests per 60s window, per API key)
	v.SetDefault("ratelimit.default", 100)
	v.SetDefault("ratelimit.processing", 5)
	v.SetDefault("ratelimit.import", 2)

	// Jobs
	v.SetDefault("jobs.history_limit", 20)
}

func defaultDBPath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".chronicle", "chronicle.db")
	}
	return "chronicle.db"
}

// GetString returns a string config value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool returns a boolean config value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt returns an integer config value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	if v == nil {
		return 0
	}
	return v.GetFloat64(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetStringSlice returns a string slice config value.
func GetStringSlice(key string) []string {
	if v == nil {
		return nil
	}
	return v.GetStringSlice(key)
}

// Set overrides a config value at runtime. Used by flag binding and tests.
func Set(key string, value interface{}) {
	if v == nil {
		v = viper.New()
		setDefaults()
	}
	v.Set(key, value)
}

// AllSettings returns the full effective configuration.
func AllSettings() map[string]interface{} {
	if v == nil {
		return map[string]interface{}{}
	}
	return v.AllSettings()
}

// DBPath returns the embedded database path.
func DBPath() string { return GetString("db_path") }

// PoolSize returns the connection pool size clamped to [1, 100].
func PoolSize() int {
	n := GetInt("pool_size")
	if n < 1 {
		n = 1
	}
	if n > 100 {
		n = 100
	}
	return n
}

// IsDevelopment reports whether the server runs in development mode.
// Development mode enables the auth bypass.
func IsDevelopment() bool {
	return strings.EqualFold(GetString("environment"), "development")
}

// ListenAddr returns the HTTP listen address.
func ListenAddr() string { return GetString("server.addr") }

// AuthToken returns the API bearer token ("" means auth is not configured).
func AuthToken() string { return GetString("server.auth_token") }

// APIPrefix returns the versioned API mount point.
func APIPrefix() string {
	p := GetString("api_v1_prefix")
	if p == "" {
		p = "/api/v1"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}

// LLMAPIKey returns the LLM provider key, falling back to the provider's
// conventional environment variable.
func LLMAPIKey() string {
	if key := GetString("llm.api_key"); key != "" {
		return key
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// EmbedAPIKey returns the embedding provider key, falling back to the
// provider's conventional environment variable.
func EmbedAPIKey() string {
	if key := GetString("embed.api_key"); key != "" {
		return key
	}
	return os.Getenv("OPENAI_API_KEY")
}

// NotesAPIKey returns the note workspace integration token.
func NotesAPIKey() string {
	if key := GetString("notes.api_key"); key != "" {
		return key
	}
	return os.Getenv("NOTION_API_KEY")
}
