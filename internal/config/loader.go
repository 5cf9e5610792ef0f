package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEGATE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known TRADEGATE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Discord ──
	setStr(&cfg.Discord.Token, "TRADEGATE_DISCORD_TOKEN")
	setStr(&cfg.Discord.ChannelID, "TRADEGATE_DISCORD_CHANNEL_ID")
	setStr(&cfg.Discord.GatewayURL, "TRADEGATE_DISCORD_GATEWAY_URL")

	// ── TradeStation ──
	setStr(&cfg.TradeStation.BaseURL, "TRADEGATE_TRADESTATION_BASE_URL")
	setStr(&cfg.TradeStation.ClientID, "TRADEGATE_TRADESTATION_CLIENT_ID")
	setStr(&cfg.TradeStation.ClientSecret, "TRADEGATE_TRADESTATION_CLIENT_SECRET")
	setStr(&cfg.TradeStation.RedirectURI, "TRADEGATE_TRADESTATION_REDIRECT_URI")
	setStr(&cfg.TradeStation.RefreshToken, "TRADEGATE_TRADESTATION_REFRESH_TOKEN")
	setStr(&cfg.TradeStation.EncryptedRefreshTokenPath, "TRADEGATE_TRADESTATION_ENCRYPTED_REFRESH_TOKEN_PATH")
	setStr(&cfg.TradeStation.RefreshTokenPassword, "TRADEGATE_TRADESTATION_REFRESH_TOKEN_PASSWORD")
	setStr(&cfg.TradeStation.AccountKey, "TRADEGATE_TRADESTATION_ACCOUNT_KEY")

	// ── Risk ──
	setInt(&cfg.Risk.MaxOpenPositions, "TRADEGATE_RISK_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Risk.MaxRiskPerTrade, "TRADEGATE_RISK_MAX_RISK_PER_TRADE")
	setFloat64(&cfg.Risk.MaxAggregateRisk, "TRADEGATE_RISK_MAX_AGGREGATE_RISK")
	setInt(&cfg.Risk.ContractMultiplier, "TRADEGATE_RISK_CONTRACT_MULTIPLIER")
	setInt(&cfg.Risk.DefaultQuantity, "TRADEGATE_RISK_DEFAULT_QUANTITY")

	// ── Emergency ──
	setInt(&cfg.Emergency.FailureThreshold, "TRADEGATE_EMERGENCY_FAILURE_THRESHOLD")
	setDuration(&cfg.Emergency.FailureWindow, "TRADEGATE_EMERGENCY_FAILURE_WINDOW")
	setDuration(&cfg.Emergency.Cooldown, "TRADEGATE_EMERGENCY_COOLDOWN")
	setBool(&cfg.Emergency.KillSwitchEngaged, "TRADEGATE_EMERGENCY_KILL_SWITCH_ENGAGED")

	// ── Dedup ──
	setDuration(&cfg.Dedup.TTL, "TRADEGATE_DEDUP_TTL")
	setBool(&cfg.Dedup.UseRedis, "TRADEGATE_DEDUP_USE_REDIS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEGATE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEGATE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEGATE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEGATE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEGATE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEGATE_REDIS_TLS_ENABLED")

	// ── Audit ──
	setBool(&cfg.Audit.Enabled, "TRADEGATE_AUDIT_ENABLED")
	setStr(&cfg.Audit.DSN, "TRADEGATE_AUDIT_DSN")
	setStr(&cfg.Audit.Host, "TRADEGATE_AUDIT_HOST")
	setInt(&cfg.Audit.Port, "TRADEGATE_AUDIT_PORT")
	setStr(&cfg.Audit.Database, "TRADEGATE_AUDIT_DATABASE")
	setStr(&cfg.Audit.User, "TRADEGATE_AUDIT_USER")
	setStr(&cfg.Audit.Password, "TRADEGATE_AUDIT_PASSWORD")
	setStr(&cfg.Audit.SSLMode, "TRADEGATE_AUDIT_SSLMODE")
	setInt(&cfg.Audit.PoolMaxConns, "TRADEGATE_AUDIT_POOL_MAX_CONNS")
	setInt(&cfg.Audit.PoolMinConns, "TRADEGATE_AUDIT_POOL_MIN_CONNS")
	setBool(&cfg.Audit.RunMigrations, "TRADEGATE_AUDIT_RUN_MIGRATIONS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADEGATE_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADEGATE_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRADEGATE_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEGATE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.TelegramToken, "TRADEGATE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEGATE_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "TRADEGATE_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "TRADEGATE_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
