package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"greeks-watch/internal/alerting"
	"greeks-watch/internal/config"
	"greeks-watch/internal/deribit"
	"greeks-watch/internal/metrics"
	"greeks-watch/internal/monitor"
	"greeks-watch/internal/scheduler"
	"greeks-watch/internal/service"
	"greeks-watch/internal/statestore"
	"greeks-watch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newClient() *deribit.Client {
	cfg := a.Config.Deribit
	return deribit.NewClient(deribit.Options{
		ClientID:       cfg.ClientID,
		ClientSecret:   cfg.ClientSecret,
		BaseURL:        cfg.BaseURL,
		RetryTimes:     cfg.RetryTimes,
		ConnectTimeout: cfg.ConnectTimeout,
		RequestTimeout: cfg.RequestTimeout,
		GreeksSource:   deribit.GreeksSource(cfg.GreeksSource),
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	cfg := a.Config.Alerting
	var channels alerting.Multi
	for _, name := range cfg.Channels {
		switch name {
		case "feishu":
			if cfg.Feishu.Enabled && cfg.Feishu.WebhookURL != "" {
				channels = append(channels, alerting.NewFeishuNotifier(cfg.Feishu.WebhookURL, 10*time.Second, a.Logger))
			}
		case "telegram":
			if cfg.Telegram.Enabled {
				channels = append(channels, alerting.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.APIBase, 10*time.Second, a.Logger))
			}
		default:
			a.Logger.Warn().Str("channel", name).Msg("未知告警通道，忽略")
		}
	}
	if len(channels) == 0 {
		return nil
	}
	return channels
}

func (a *App) newStateStore() *statestore.Store {
	return statestore.New(a.Config.Store.Path, a.Config.Store.Retention, a.Logger)
}

func (a *App) openAuditStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run executes the long-running monitoring service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	audit, closeAudit, err := a.openAuditStore(ctx)
	if err != nil {
		return err
	}
	if audit == nil {
		a.Logger.Warn().Msg("database.dsn not configured; alert audit trail disabled")
	}
	if closeAudit != nil {
		defer closeAudit()
	}

	metrics.Serve(a.Config.Metrics.ListenAddr, a.Logger)

	store := a.newStateStore()
	client := a.newClient()
	notifier := a.newNotifier()
	if notifier == nil {
		a.Logger.Warn().Msg("未配置任何告警通道，仅记录日志")
	}

	var auditStore storage.AlertStore
	if audit != nil {
		auditStore = audit
	}

	evaluator := monitor.NewEvaluator(a.Config, store, notifier, auditStore, a.Logger)
	svc := service.New(a.Config, client, client, evaluator, a.Logger)

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	a.Logger.Info().
		Dur("interval", a.Config.Scheduler.Interval).
		Strs("currencies", a.Config.Deribit.Currencies).
		Bool("alerts", a.Config.Alerting.Enabled).
		Dur("cooldown", a.Config.Alerting.Cooldown).
		Msg("starting monitoring service")

	err = sched.Run(ctx, svc.RunCycle)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("monitoring service stopped")
	return nil
}

// ExportOptions hold parameters for exporting volatility index history.
type ExportOptions struct {
	From       *time.Time
	To         *time.Time
	Resolution string
	PNGPath    string
	CSVPath    string
	MaxPoints  int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// OrdersOptions configure the orders command.
type OrdersOptions struct {
	Currencies []string
	Kind       string
}

// SimulateOptions supply synthetic observations for one evaluation pass.
type SimulateOptions struct {
	Instrument string
	Gamma      float64
	Vega       float64
	Dvol       float64
}
