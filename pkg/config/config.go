package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Session  SessionConfig  `mapstructure:"session"`
	Tiers    TiersConfig    `mapstructure:"tiers"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

// RedisConfig selects the shared rate-limit backend. An empty addr keeps
// the in-process sliding-window limiter.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type UpstreamConfig struct {
	Provider              string  `mapstructure:"provider"` // gateway | openai
	BaseURL               string  `mapstructure:"base_url"`
	APIKey                string  `mapstructure:"api_key"`
	ConnectTimeoutSeconds int     `mapstructure:"connect_timeout_seconds"`
	RequestTimeoutSeconds int     `mapstructure:"request_timeout_seconds"`
	MaxTokens             int     `mapstructure:"max_tokens"`
	Temperature           float64 `mapstructure:"temperature"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

type SessionConfig struct {
	TimeoutMinutes       int `mapstructure:"timeout_minutes"`
	SweepIntervalSeconds int `mapstructure:"sweep_interval_seconds"`
	TenantCacheSeconds   int `mapstructure:"tenant_cache_seconds"`
}

// TierConfig is the baseline for one access tier; tenant rows override
// individual fields.
type TierConfig struct {
	DefaultModel     string `mapstructure:"default_model"`
	Models           string `mapstructure:"models"`   // CSV of technical ids
	Commands         string `mapstructure:"commands"` // CSV of allowed commands
	RateLimit        int    `mapstructure:"rate_limit"`
	MaxHistory       int    `mapstructure:"max_history"`
	AllowModelSwitch bool   `mapstructure:"allow_model_switch"`
}

type TiersConfig struct {
	Public  TierConfig `mapstructure:"public"`
	Private TierConfig `mapstructure:"private"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("upstream.provider", "gateway")
	v.SetDefault("upstream.connect_timeout_seconds", 10)
	v.SetDefault("upstream.request_timeout_seconds", 60)
	v.SetDefault("upstream.max_tokens", 1024)
	v.SetDefault("upstream.temperature", 0.7)

	v.SetDefault("session.timeout_minutes", 30)
	v.SetDefault("session.sweep_interval_seconds", 60)
	v.SetDefault("session.tenant_cache_seconds", 60)

	v.SetDefault("tiers.public.default_model", "google/gemini-2.0-flash-001")
	v.SetDefault("tiers.public.models",
		"google/gemini-2.0-flash-001,google/gemini-2.5-flash,"+
			"deepseek/deepseek-chat-v3-0324,openai/gpt-4o-mini")
	v.SetDefault("tiers.public.rate_limit", 20)
	v.SetDefault("tiers.public.max_history", 10)
	v.SetDefault("tiers.public.commands", "start,help,status,clear,model,models")
	v.SetDefault("tiers.public.allow_model_switch", true)

	v.SetDefault("tiers.private.default_model", "openai/gpt-5-chat")
	v.SetDefault("tiers.private.models",
		"openai/gpt-5-chat,openai/gpt-4.1,openai/gpt-4o-mini,"+
			"anthropic/claude-sonnet-4,anthropic/claude-opus-4.5,"+
			"google/gemini-2.5-flash,x-ai/grok-4,deepseek/deepseek-chat-v3-0324")
	v.SetDefault("tiers.private.rate_limit", 60)
	v.SetDefault("tiers.private.max_history", 30)
	v.SetDefault("tiers.private.commands", "start,help,status,clear,model,models,settings")
	v.SetDefault("tiers.private.allow_model_switch", true)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("UPSTREAM_API_KEY"); apiKey != "" {
		config.Upstream.APIKey = apiKey
	}

	if addr := v.GetString("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}

	return &config, nil
}
