package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// LocalConfigName is the per-project config file searched for upwards from the working directory
const LocalConfigName = ".wfsync.toml"

// EnvPrefix prefixes every environment override
const EnvPrefix = "WFSYNC_"

// Config holds all application configuration
type Config struct {
	General   GeneralConfig   `toml:"general"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Web       WebConfig       `toml:"web"`
	Log       LogConfig       `toml:"log"`
	Watch     WatchConfig     `toml:"watch"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
}

// SchedulerConfig holds defaults for scheduling runs
type SchedulerConfig struct {
	MaxParallel      int     `toml:"max_parallel"`
	Method           string  `toml:"method"`
	StrictEdges      bool    `toml:"strict_edges"`
	ResourceCapacity float64 `toml:"resource_capacity"`
}

// WebConfig holds web API settings
type WebConfig struct {
	Port      int    `toml:"port"`
	Host      string `toml:"host"`
	CacheSize int    `toml:"cache_size"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// WatchConfig holds file watcher settings
type WatchConfig struct {
	Debounce Duration `toml:"debounce"`
}

// Duration is a time.Duration that reads and writes as a TOML string like "500ms"
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath: filepath.Join(home, ".wfsync", "workflows.db"),
		},
		Scheduler: SchedulerConfig{
			MaxParallel: 2,
			Method:      "fifo",
		},
		Web: WebConfig{
			Port:      8080,
			Host:      "127.0.0.1",
			CacheSize: 256,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Debounce: Duration{500 * time.Millisecond},
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// Environment overrides (including a .env file in the working directory)
// are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	_ = godotenv.Load()
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	return cfg, cfg.Validate()
}

// LoadWithLocalFallback loads an explicit path if given, otherwise the
// nearest local config, otherwise the default config path
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}

// FindLocalConfig searches the working directory and its parents for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate checks values that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if c.Scheduler.MaxParallel < 1 {
		return fmt.Errorf("scheduler.max_parallel must be at least 1, got %d", c.Scheduler.MaxParallel)
	}
	if c.Scheduler.ResourceCapacity < 0 {
		return fmt.Errorf("scheduler.resource_capacity must not be negative, got %v", c.Scheduler.ResourceCapacity)
	}
	if c.Web.CacheSize < 1 {
		c.Web.CacheSize = 256 // Default
	}
	return nil
}

// Save writes the configuration as TOML, creating parent directories
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPrefix + "DATABASE_PATH"); v != "" {
		c.General.DatabasePath = v
	}
	if v := os.Getenv(EnvPrefix + "METHOD"); v != "" {
		c.Scheduler.Method = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_PARALLEL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_PARALLEL: %w", EnvPrefix, err)
		}
		c.Scheduler.MaxParallel = n
	}
	if v := os.Getenv(EnvPrefix + "STRICT_EDGES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSTRICT_EDGES: %w", EnvPrefix, err)
		}
		c.Scheduler.StrictEdges = b
	}
	if v := os.Getenv(EnvPrefix + "WEB_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sWEB_PORT: %w", EnvPrefix, err)
		}
		c.Web.Port = n
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "wfsync", "config.toml")
}
