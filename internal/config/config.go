package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/convoflow/convosync/internal/syncer"
)

type Config struct {
	DataDir  string `yaml:"data_dir"`
	StateDSN string `yaml:"state_dsn"`

	Notion  NotionConfig  `yaml:"notion"`
	Sync    SyncConfig    `yaml:"sync"`
	Poke    PokeConfig    `yaml:"poke"`
	Server  ServerConfig  `yaml:"server"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

type NotionConfig struct {
	Token      string `yaml:"token"`
	DatabaseID string `yaml:"database_id"`
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
}

type SyncConfig struct {
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	MaxConcurrent     int      `yaml:"max_concurrent"`
	MaxAttempts       int      `yaml:"max_attempts"`
	BatchSize         int      `yaml:"batch_size"`
	BatchDelay        Duration `yaml:"batch_delay"`
	BackoffPolicy     string   `yaml:"backoff_policy"`
	BackoffBase       Duration `yaml:"backoff_base"`
	BackoffCap        Duration `yaml:"backoff_cap"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
	Jitter            float64  `yaml:"jitter"`
}

type PokeConfig struct {
	APIKey           string   `yaml:"api_key"`
	BaseURL          string   `yaml:"base_url"`
	Timeout          Duration `yaml:"timeout"`
	MaxRetries       int      `yaml:"max_retries"`
	RateLimit        int      `yaml:"rate_limit"`
	BreakerThreshold int      `yaml:"breaker_threshold"`
	BreakerCooldown  Duration `yaml:"breaker_cooldown"`
	Strategy         string   `yaml:"strategy"`
	InitialBackoff   Duration `yaml:"initial_backoff"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type WatchConfig struct {
	Interval Duration `yaml:"interval"`
	Debounce Duration `yaml:"debounce"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Default() Config {
	return Config{
		DataDir: "data",
		Notion: NotionConfig{
			APIVersion: "2022-06-28",
		},
		Sync: SyncConfig{
			RequestsPerSecond: 3,
			MaxConcurrent:     5,
			MaxAttempts:       3,
			BatchSize:         10,
			BatchDelay:        Duration(time.Second),
			BackoffPolicy:     "exponential",
			BackoffBase:       Duration(time.Second),
			BackoffCap:        Duration(30 * time.Second),
			BackoffMultiplier: 2,
		},
		Poke: PokeConfig{
			Timeout:          Duration(30 * time.Second),
			MaxRetries:       3,
			RateLimit:        60,
			BreakerThreshold: 5,
			BreakerCooldown:  Duration(60 * time.Second),
			Strategy:         "exponential",
			InitialBackoff:   Duration(time.Second),
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8787",
		},
		Watch: WatchConfig{
			Interval: Duration(5 * time.Minute),
			Debounce: Duration(2 * time.Second),
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// when a path is given, then environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.DataDir, "CONVOSYNC_DATA_DIR")
	setString(&c.StateDSN, "CONVOSYNC_STATE", "CONVOSYNC_STATE_DSN")
	setString(&c.Server.Listen, "CONVOSYNC_LISTEN")
	setString(&c.Logging.Level, "CONVOSYNC_LOG_LEVEL")
	setString(&c.Logging.File, "CONVOSYNC_LOG_FILE")

	setString(&c.Notion.Token, "NOTION_TOKEN")
	setString(&c.Notion.DatabaseID, "NOTION_DATABASE_ID")
	setString(&c.Notion.BaseURL, "NOTION_BASE_URL")

	setString(&c.Poke.APIKey, "POKE_API_KEY")
	setString(&c.Poke.BaseURL, "POKE_API_BASE_URL", "POKE_API_ENDPOINT")
	setSeconds(&c.Poke.Timeout, "POKE_API_TIMEOUT")
	setInt(&c.Poke.MaxRetries, "POKE_API_MAX_RETRIES", "POKE_MAX_RETRIES")
	setInt(&c.Poke.RateLimit, "POKE_API_RATE_LIMIT")
	setInt(&c.Poke.BreakerThreshold, "POKE_API_CIRCUIT_BREAKER_THRESHOLD")
	setSeconds(&c.Poke.BreakerCooldown, "POKE_API_CIRCUIT_BREAKER_TIMEOUT")
	setSeconds(&c.Poke.InitialBackoff, "POKE_INITIAL_BACKOFF")
	setString(&c.Poke.Strategy, "POKE_BACKOFF_STRATEGY")
}

func setString(dst *string, names ...string) {
	for _, name := range names {
		if value := strings.TrimSpace(os.Getenv(name)); value != "" {
			*dst = value
			return
		}
	}
}

func setInt(dst *int, names ...string) {
	for _, name := range names {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		*dst = value
		return
	}
}

func setSeconds(dst *Duration, names ...string) {
	for _, name := range names {
		raw := strings.TrimSpace(os.Getenv(name))
		if raw == "" {
			continue
		}
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		*dst = Duration(time.Duration(value * float64(time.Second)))
		return
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Sync.RequestsPerSecond <= 0 {
		return fmt.Errorf("sync.requests_per_second must be positive")
	}
	if c.Sync.MaxConcurrent < 1 {
		return fmt.Errorf("sync.max_concurrent must be at least 1")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.Sync.BatchSize < 1 {
		return fmt.Errorf("sync.batch_size must be at least 1")
	}
	if !syncer.BackoffPolicy(c.Sync.BackoffPolicy).Valid() {
		return fmt.Errorf("sync.backoff_policy %q is not one of exponential, linear, fixed", c.Sync.BackoffPolicy)
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("sync.jitter must be between 0 and 1")
	}
	if !syncer.BackoffPolicy(c.Poke.Strategy).Valid() {
		return fmt.Errorf("poke.strategy %q is not one of exponential, linear, fixed", c.Poke.Strategy)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	return nil
}

// ValidateNotion checks the settings the Notion delivery path needs.
func (c Config) ValidateNotion() error {
	if strings.TrimSpace(c.Notion.Token) == "" {
		return fmt.Errorf("notion token is required (set NOTION_TOKEN or notion.token)")
	}
	if strings.TrimSpace(c.Notion.DatabaseID) == "" {
		return fmt.Errorf("notion database id is required (set NOTION_DATABASE_ID or notion.database_id)")
	}
	return nil
}

// ValidatePoke checks the settings the Poke delivery path needs.
func (c Config) ValidatePoke() error {
	if strings.TrimSpace(c.Poke.APIKey) == "" {
		return fmt.Errorf("poke api key is required (set POKE_API_KEY or poke.api_key)")
	}
	return nil
}

// ResolvedStateDSN falls back to a JSON state file inside the data
// directory when no explicit backend DSN is configured.
func (c Config) ResolvedStateDSN() string {
	if dsn := strings.TrimSpace(c.StateDSN); dsn != "" {
		return dsn
	}
	return filepath.Join(c.DataDir, ".convosync-state.json")
}

func (c SyncConfig) BackoffSettings() syncer.Backoff {
	return syncer.Backoff{
		Policy:     syncer.BackoffPolicy(c.BackoffPolicy),
		Base:       c.BackoffBase.Duration(),
		Cap:        c.BackoffCap.Duration(),
		Multiplier: c.BackoffMultiplier,
		Jitter:     c.Jitter,
	}
}

func (c PokeConfig) BackoffSettings() syncer.Backoff {
	return syncer.Backoff{
		Policy: syncer.BackoffPolicy(c.Strategy),
		Base:   c.InitialBackoff.Duration(),
	}
}
