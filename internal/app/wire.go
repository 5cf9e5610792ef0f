package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"tradegate/internal/broker"
	"tradegate/internal/bus"
	"tradegate/internal/cache/redis"
	"tradegate/internal/config"
	"tradegate/internal/crypto"
	"tradegate/internal/domain"
	"tradegate/internal/emergency"
	"tradegate/internal/executor"
	"tradegate/internal/monitor"
	"tradegate/internal/notify"
	"tradegate/internal/parser"
	"tradegate/internal/risk"
	"tradegate/internal/store"
	"tradegate/internal/store/postgres"
)

// allEventKinds enumerates every pipeline event kind for subscribers that
// observe the whole stream (audit recorder, notifier).
var allEventKinds = []domain.EventKind{
	domain.EventAlertValidated,
	domain.EventRiskApproved,
	domain.EventRiskRejected,
	domain.EventOrderSubmitted,
	domain.EventOrderFailed,
	domain.EventEmergencyStop,
	domain.EventEmergencyReset,
}

// Dependencies bundles every wired component the application lifecycle
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	Bus        *bus.Bus
	Parser     *parser.Parser
	Risk       *risk.Manager
	Emergency  *emergency.Controller
	Executor   *executor.Executor
	Broker     *broker.TradeStationClient
	Gateway    *monitor.GatewayClient
	Ingestor   *monitor.Ingestor
	AuditStore domain.AuditStore // nil when the audit log is disabled
	Limits     domain.RiskLimits
}

// Wire constructs all concrete components from the given configuration and
// subscribes them to the event bus. The returned cleanup function must be
// called on shutdown to release connections.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	eventBus := bus.New(logger)

	limits := domain.RiskLimits{
		MaxOpenPositions: cfg.Risk.MaxOpenPositions,
		MaxRiskPerTrade:  decimal.NewFromFloat(cfg.Risk.MaxRiskPerTrade),
		MaxAggregateRisk: decimal.NewFromFloat(cfg.Risk.MaxAggregateRisk),
	}

	riskMgr := risk.NewManager(risk.Config{
		Limits:             limits,
		ContractMultiplier: cfg.Risk.ContractMultiplier,
	}, logger)

	ctrl := emergency.NewController(emergency.Config{
		FailureThreshold:  cfg.Emergency.FailureThreshold,
		FailureWindow:     cfg.Emergency.FailureWindow.Duration,
		Cooldown:          cfg.Emergency.Cooldown.Duration,
		KillSwitchEngaged: cfg.Emergency.KillSwitchEngaged,
	}, eventBus, logger)

	// --- Broker ---
	refreshToken, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.TradeStation.RefreshToken,
		EncryptedPath: cfg.TradeStation.EncryptedRefreshTokenPath,
		Password:      cfg.TradeStation.RefreshTokenPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: broker refresh token: %w", err)
	}
	tsClient := broker.NewTradeStationClient(broker.Config{
		BaseURL:      cfg.TradeStation.BaseURL,
		ClientID:     cfg.TradeStation.ClientID,
		ClientSecret: cfg.TradeStation.ClientSecret,
		RedirectURI:  cfg.TradeStation.RedirectURI,
		RefreshToken: refreshToken,
		AccountKey:   cfg.TradeStation.AccountKey,
	}, logger)

	// --- Dedup store ---
	var dedup domain.DedupStore
	if cfg.Dedup.UseRedis {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		dedup = redis.NewDedup(redisClient, cfg.Dedup.TTL.Duration)
	} else {
		dedup = executor.NewMemoryDedup(cfg.Dedup.TTL.Duration)
	}

	// --- Audit log ---
	var auditStore domain.AuditStore
	if cfg.Audit.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Audit.DSN,
			Host:     cfg.Audit.Host,
			Port:     cfg.Audit.Port,
			Database: cfg.Audit.Database,
			User:     cfg.Audit.User,
			Password: cfg.Audit.Password,
			SSLMode:  cfg.Audit.SSLMode,
			MaxConns: cfg.Audit.PoolMaxConns,
			MinConns: cfg.Audit.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Audit.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		auditStore = postgres.NewAuditStore(pgClient.Pool())
		recorder := store.NewRecorder(auditStore, logger)
		for _, kind := range allEventKinds {
			eventBus.Subscribe(kind, recorder.HandleEvent)
		}
	}

	// --- Executor ---
	exec := executor.New(tsClient, ctrl, riskMgr, eventBus, dedup, logger)
	eventBus.Subscribe(domain.EventAlertValidated, exec.HandleAlert)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if len(senders) > 0 {
		notifier := notify.NewNotifier(senders, cfg.Notify.Events, logger)
		for _, kind := range allEventKinds {
			eventBus.Subscribe(kind, notifier.HandleEvent)
		}
	}

	// --- Alert intake ---
	alertParser := parser.New(cfg.Risk.DefaultQuantity)
	ingestor := monitor.NewIngestor(alertParser, eventBus, cfg.Discord.ChannelID, logger)
	gateway := monitor.NewGatewayClient(cfg.Discord.GatewayURL, cfg.Discord.Token, ingestor.HandleMessage, logger)

	return &Dependencies{
		Bus:        eventBus,
		Parser:     alertParser,
		Risk:       riskMgr,
		Emergency:  ctrl,
		Executor:   exec,
		Broker:     tsClient,
		Gateway:    gateway,
		Ingestor:   ingestor,
		AuditStore: auditStore,
		Limits:     limits,
	}, cleanup, nil
}
