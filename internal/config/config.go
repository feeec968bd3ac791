// Package config loads Companion Memory's static topology (users, chat and
// LLM credentials, the backing table name) from a YAML file and layers the
// scheduler's runtime tunables (spec.md §6.4) on top from the process
// environment, the way the teacher layers its own environment knobs over
// config.yaml.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eykd/companion-memory/internal/consts"
)

// Config is the full process configuration: static topology from YAML plus
// the env-tunable scheduler knobs.
type Config struct {
	Logging LoggingConfig         `yaml:"logging"`
	Storage StorageConfig         `yaml:"storage"`
	Chat    ChatConfig            `yaml:"chat"`
	LLM     LLMConfig             `yaml:"llm"`
	HTTP    HTTPConfig            `yaml:"http"`
	Users   map[string]UserConfig `yaml:"users"`

	Scheduler SchedulerConfig `yaml:"-"`
}

// LoggingConfig mirrors the shape internal/pkg/logs.Options expects.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// StorageConfig names the single DynamoDB table every component in the
// scheduler core (JobStore, DeduplicationIndex, SingletonLock, LogStore)
// shares, per spec.md §6.5.
type StorageConfig struct {
	Table  string `yaml:"table"`
	Region string `yaml:"region"`
}

// ChatConfig holds the Telegram bot credential the send_chat_message and
// daily_summary handlers push through.
type ChatConfig struct {
	TelegramToken string `yaml:"telegram_token"`
}

// LLMConfig holds the Anthropic credential the daily_summary handler uses
// to turn logs into prose.
type LLMConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	Model           string `yaml:"model"`
}

// HTTPConfig configures the web subcommand's listen address.
type HTTPConfig struct {
	Bind string `yaml:"bind"`
}

// UserConfig is one entry of the static topology: a known user's chat
// destination and time zone, consumed by usersettings.NewStatic.
type UserConfig struct {
	ChatID   string `yaml:"chat_id"`
	Timezone string `yaml:"timezone"`
}

// SchedulerConfig is every tunable spec.md §6.4 names. It is never read
// from YAML: it is populated exclusively from the process environment by
// LoadSchedulerConfig, since these are meant to vary per-deployment without
// touching the static topology file.
type SchedulerConfig struct {
	PollInterval            time.Duration
	BatchLimit              int
	Lease                   time.Duration
	MaxAttempts             int
	BaseDelay               time.Duration
	Concurrency             int
	SingletonTTL            time.Duration
	SingletonRefresh        time.Duration
	GracefulTimeout         time.Duration
	EnableHeartbeat         bool
	DailySummaryUsers       []string
	WorkSamplingUsers       []string
	WorkSamplingSlotsPerDay int
	UserSyncUsers           []string
}

// Load reads the YAML static topology at path (falling back to
// consts.DefaultConfigPath if path is empty) and layers SchedulerConfig
// from the environment on top.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		path = consts.DefaultConfigPath()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	cfg.Scheduler = LoadSchedulerConfig(cfg.userIDs())
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Storage.Table == "" {
		c.Storage.Table = consts.DefaultTableName
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "claude-3-5-sonnet-20241022"
	}
	if c.HTTP.Bind == "" {
		c.HTTP.Bind = ":8080"
	}
}

func (c *Config) userIDs() []string {
	ids := make([]string, 0, len(c.Users))
	for id := range c.Users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadSchedulerConfig reads every spec.md §6.4 tunable from the process
// environment, defaulting exactly as documented. defaultUsers seeds
// DailySummaryUsers, WorkSamplingUsers, and UserSyncUsers when the
// corresponding env var is unset, so a YAML-defined user automatically
// participates in all three planners unless explicitly overridden.
func LoadSchedulerConfig(defaultUsers []string) SchedulerConfig {
	return SchedulerConfig{
		PollInterval:            envDuration("POLL_INTERVAL_SECONDS", 30*time.Second),
		BatchLimit:              envInt("BATCH_LIMIT", 25),
		Lease:                   envDuration("LEASE_SECONDS", 60*time.Second),
		MaxAttempts:             envInt("MAX_ATTEMPTS", 5),
		BaseDelay:               envDuration("BASE_DELAY_SECONDS", 60*time.Second),
		Concurrency:             envInt("CONCURRENCY", 8),
		SingletonTTL:            envDuration("SINGLETON_TTL_SECONDS", 90*time.Second),
		SingletonRefresh:        envDuration("SINGLETON_REFRESH_SECONDS", 30*time.Second),
		GracefulTimeout:         envDuration("GRACEFUL_TIMEOUT_SECONDS", 30*time.Second),
		EnableHeartbeat:         envBool("ENABLE_HEARTBEAT", false),
		DailySummaryUsers:       envUserList("DAILY_SUMMARY_USERS", defaultUsers),
		WorkSamplingUsers:       envUserList("WORK_SAMPLING_USERS", defaultUsers),
		WorkSamplingSlotsPerDay: envInt("WORK_SAMPLING_PROMPTS_PER_DAY", 3),
		UserSyncUsers:           envUserList("USER_SYNC_USERS", defaultUsers),
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	n := envInt(key, -1)
	if n < 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func envUserList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
