package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ogulcanaydogan/costwatch/internal/config"
	"github.com/ogulcanaydogan/costwatch/pkg/alerts"
	"github.com/ogulcanaydogan/costwatch/pkg/pricing"
	"github.com/ogulcanaydogan/costwatch/pkg/storage"
	"github.com/ogulcanaydogan/costwatch/pkg/tracker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "costwatch",
	Short: "costwatch - LLM call cost tracking and budget alerts",
	Long: `costwatch prices every LLM call made by your agents, keeps an append-only
cost log, and raises budget and spend-spike alerts. It can record calls from
the CLI, an HTTP API, or a transparent proxy in front of OpenAI and Anthropic.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.costwatch/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initPricing loads the pricing override file, or the built-in table when
// none is configured.
func initPricing(cfg *config.Config) (*pricing.Table, error) {
	if cfg.Pricing.File == "" {
		return pricing.Default(), nil
	}
	table, err := pricing.LoadFile(cfg.Pricing.File)
	if err != nil {
		return nil, fmt.Errorf("load pricing: %w", err)
	}
	return table, nil
}

// budgetConfig converts the configured budget into monitor settings.
func budgetConfig(cfg *config.Config) tracker.BudgetConfig {
	b := cfg.Budget
	return tracker.BudgetConfig{
		LimitUSD:        decimal.NewFromFloat(b.LimitUSD),
		HourlyMaxUSD:    decimal.NewFromFloat(b.HourlyMaxUSD),
		DailyMaxUSD:     decimal.NewFromFloat(b.DailyMaxUSD),
		SpikeMultiplier: decimal.NewFromFloat(b.SpikeMultiplier),
		Cooldown:        b.Cooldown(),
	}
}

// initChannels creates alert channels from config. The returned cleanup
// closes any clients the channels hold.
func initChannels(cfg *config.Config, logger *slog.Logger) ([]alerts.Channel, func(), error) {
	var (
		channels []alerts.Channel
		closers  []func()
	)
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	a := cfg.Alerts
	// the console channel is always on; the others are opt-in
	channels = append(channels, alerts.NewConsoleChannel(logger, os.Stderr))
	if a.Slack.Enabled && a.Slack.WebhookURL != "" {
		channels = append(channels, alerts.NewSlackChannel(a.Slack.WebhookURL, a.Slack.Channel))
	}
	if a.Webhook.Enabled && a.Webhook.URL != "" {
		channels = append(channels, alerts.NewWebhookChannel(a.Webhook.URL, a.Webhook.Secret))
	}
	if a.Email.Enabled {
		email, err := alerts.NewEmailChannel(alerts.EmailConfig{
			Host:     a.Email.Host,
			Port:     a.Email.Port,
			Username: a.Email.Username,
			Password: a.Email.Password,
			From:     a.Email.From,
			To:       a.Email.To,
		})
		if err != nil {
			return nil, cleanup, err
		}
		channels = append(channels, email)
	}
	if a.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     a.Redis.Addr,
			Password: a.Redis.Password,
			DB:       a.Redis.DB,
		})
		closers = append(closers, func() { client.Close() })
		channels = append(channels, alerts.NewRedisChannel(client, alerts.RedisConfig{
			Key:     a.Redis.Key,
			Channel: a.Redis.Channel,
			MaxLen:  a.Redis.MaxLen,
		}))
	}

	return channels, cleanup, nil
}

// app is a fully wired costwatch instance.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	table    *pricing.Table
	db       *storage.SQLStore
	store    *tracker.CostStore
	recorder *tracker.Recorder
	cleanup  func()
}

// openApp wires storage, pricing, budget monitoring and alerting from cfg.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := newLogger(cfg)

	table, err := initPricing(cfg)
	if err != nil {
		return nil, err
	}

	db, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Target())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	channels, cleanup, err := initChannels(cfg, logger)
	if err != nil {
		cleanup()
		db.Close()
		return nil, err
	}

	dispatcher := alerts.NewDispatcher(logger, cfg.Alerts.Timeout, channels...)
	monitor := tracker.NewBudgetMonitor(budgetConfig(cfg))
	store, err := tracker.NewCostStore(ctx, db, monitor, dispatcher, logger)
	if err != nil {
		cleanup()
		db.Close()
		return nil, err
	}

	logger.Debug("costwatch ready",
		"storage", db.Driver(),
		"channels", dispatcher.Channels(),
		"budget_limit_usd", cfg.Budget.LimitUSD,
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		table:    table,
		db:       db,
		store:    store,
		recorder: tracker.NewRecorder(table, store, logger),
		cleanup:  cleanup,
	}, nil
}

// Close releases storage and alert clients.
func (a *app) Close() error {
	a.cleanup()
	return a.db.Close()
}

// withApp loads config, wires the app and runs fn with it.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
