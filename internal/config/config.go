// Package config defines the top-level configuration for tradegate and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADEGATE_* environment
// variables.
type Config struct {
	Discord      DiscordConfig      `toml:"discord"`
	TradeStation TradeStationConfig `toml:"tradestation"`
	Risk         RiskConfig         `toml:"risk"`
	Emergency    EmergencyConfig    `toml:"emergency"`
	Dedup        DedupConfig        `toml:"dedup"`
	Redis        RedisConfig        `toml:"redis"`
	Audit        AuditConfig        `toml:"audit"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	LogLevel     string             `toml:"log_level"`
}

// DiscordConfig holds the gateway credentials and the watched alert channel.
type DiscordConfig struct {
	Token      string `toml:"token"`
	ChannelID  string `toml:"channel_id"`
	GatewayURL string `toml:"gateway_url"`
}

// TradeStationConfig holds broker API credentials. The refresh token may be
// supplied raw or as an encrypted file plus password.
type TradeStationConfig struct {
	BaseURL                   string `toml:"base_url"`
	ClientID                  string `toml:"client_id"`
	ClientSecret              string `toml:"client_secret"`
	RedirectURI               string `toml:"redirect_uri"`
	RefreshToken              string `toml:"refresh_token"`
	EncryptedRefreshTokenPath string `toml:"encrypted_refresh_token_path"`
	RefreshTokenPassword      string `toml:"refresh_token_password"`
	AccountKey                string `toml:"account_key"`
}

// RiskConfig holds the position and exposure limits.
type RiskConfig struct {
	MaxOpenPositions   int     `toml:"max_open_positions"`
	MaxRiskPerTrade    float64 `toml:"max_risk_per_trade"`
	MaxAggregateRisk   float64 `toml:"max_aggregate_risk"`
	ContractMultiplier int     `toml:"contract_multiplier"`
	DefaultQuantity    int     `toml:"default_quantity"`
}

// EmergencyConfig holds circuit breaker and kill switch parameters.
type EmergencyConfig struct {
	FailureThreshold  int      `toml:"failure_threshold"`
	FailureWindow     duration `toml:"failure_window"`
	Cooldown          duration `toml:"cooldown"`
	KillSwitchEngaged bool     `toml:"kill_switch_engaged"`
}

// DedupConfig holds duplicate-alert suppression parameters. When UseRedis is
// true the dedup window survives restarts and is shared across replicas.
type DedupConfig struct {
	TTL      duration `toml:"ttl"`
	UseRedis bool     `toml:"use_redis"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// AuditConfig holds PostgreSQL audit log parameters.
type AuditConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ServerConfig holds the admin HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration a TOML file is merged on top
// of.
func Defaults() Config {
	return Config{
		Discord: DiscordConfig{
			GatewayURL: "wss://gateway.discord.gg/?v=10&encoding=json",
		},
		TradeStation: TradeStationConfig{
			BaseURL: "https://sim-api.tradestation.com/v3",
		},
		Risk: RiskConfig{
			MaxOpenPositions:   5,
			MaxRiskPerTrade:    500,
			MaxAggregateRisk:   2000,
			ContractMultiplier: 100,
			DefaultQuantity:    1,
		},
		Emergency: EmergencyConfig{
			FailureThreshold: 3,
			FailureWindow:    duration{5 * time.Minute},
			Cooldown:         duration{10 * time.Minute},
		},
		Dedup: DedupConfig{
			TTL:      duration{15 * time.Minute},
			UseRedis: false,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Audit: AuditConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "tradegate",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8080,
		},
		LogLevel: "info",
	}
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Discord
	if c.Discord.Token == "" {
		errs = append(errs, "discord: token must not be empty")
	}
	if c.Discord.ChannelID == "" {
		errs = append(errs, "discord: channel_id must not be empty")
	}
	if c.Discord.GatewayURL == "" {
		errs = append(errs, "discord: gateway_url must not be empty")
	}

	// TradeStation: a refresh token source is required.
	if c.TradeStation.BaseURL == "" {
		errs = append(errs, "tradestation: base_url must not be empty")
	}
	if c.TradeStation.ClientID == "" || c.TradeStation.ClientSecret == "" {
		errs = append(errs, "tradestation: client_id and client_secret must be set")
	}
	if c.TradeStation.RefreshToken == "" && c.TradeStation.EncryptedRefreshTokenPath == "" {
		errs = append(errs, "tradestation: either refresh_token or encrypted_refresh_token_path must be set")
	}
	if c.TradeStation.EncryptedRefreshTokenPath != "" && c.TradeStation.RefreshTokenPassword == "" {
		errs = append(errs, "tradestation: refresh_token_password is required when encrypted_refresh_token_path is set")
	}
	if c.TradeStation.AccountKey == "" {
		errs = append(errs, "tradestation: account_key must not be empty")
	}

	// Risk
	if c.Risk.MaxOpenPositions < 1 {
		errs = append(errs, "risk: max_open_positions must be >= 1")
	}
	if c.Risk.MaxRiskPerTrade <= 0 {
		errs = append(errs, "risk: max_risk_per_trade must be positive")
	}
	if c.Risk.MaxAggregateRisk <= 0 {
		errs = append(errs, "risk: max_aggregate_risk must be positive")
	}
	if c.Risk.MaxAggregateRisk < c.Risk.MaxRiskPerTrade {
		errs = append(errs, "risk: max_aggregate_risk must be >= max_risk_per_trade")
	}
	if c.Risk.ContractMultiplier < 1 {
		errs = append(errs, "risk: contract_multiplier must be >= 1")
	}
	if c.Risk.DefaultQuantity < 1 {
		errs = append(errs, "risk: default_quantity must be >= 1")
	}

	// Emergency
	if c.Emergency.FailureThreshold < 1 {
		errs = append(errs, "emergency: failure_threshold must be >= 1")
	}
	if c.Emergency.FailureWindow.Duration <= 0 {
		errs = append(errs, "emergency: failure_window must be positive")
	}
	if c.Emergency.Cooldown.Duration <= 0 {
		errs = append(errs, "emergency: cooldown must be positive")
	}

	// Dedup
	if c.Dedup.TTL.Duration <= 0 {
		errs = append(errs, "dedup: ttl must be positive")
	}
	if c.Dedup.UseRedis && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty when dedup.use_redis is set")
	}

	// Audit
	if c.Audit.Enabled {
		if strings.TrimSpace(c.Audit.DSN) == "" {
			if c.Audit.Host == "" {
				errs = append(errs, "audit: host must not be empty (or set audit.dsn)")
			}
			if c.Audit.Port <= 0 || c.Audit.Port > 65535 {
				errs = append(errs, fmt.Sprintf("audit: port must be 1-65535, got %d", c.Audit.Port))
			}
			if c.Audit.Database == "" {
				errs = append(errs, "audit: database must not be empty")
			}
		}
		if c.Audit.PoolMaxConns < 1 {
			errs = append(errs, "audit: pool_max_conns must be >= 1")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.APIKey == "" {
			errs = append(errs, "server: api_key must not be empty when the server is enabled")
		}
	}

	// Notify: Telegram credentials must be set together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}
