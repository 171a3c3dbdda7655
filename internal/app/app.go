package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"aster-volume-bot/internal/alerts"
	"aster-volume-bot/internal/aster/rest"
	"aster-volume-bot/internal/aster/ws"
	"aster-volume-bot/internal/config"
	"aster-volume-bot/internal/exec"
	"aster-volume-bot/internal/hedge"
	"aster-volume-bot/internal/market"
	"aster-volume-bot/internal/metrics"
	"aster-volume-bot/internal/state/sqlite"
	"aster-volume-bot/internal/strategy"

	"go.uber.org/zap"
)

// App wires the exchange clients, persistence, alerting, and the mode
// runner together. One App runs one session.
type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     *sqlite.Store
	metrics   *metrics.Metrics
	alerts    *alerts.Telegram
	sampler   *strategy.Sampler
	feed      *market.Feed
	primary   *rest.Client
	secondary *rest.Client
}

func New(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) (*App, error) {
	if m == nil {
		m = metrics.NewNoop()
	}
	if dir := filepath.Dir(cfg.State.SQLitePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	primaryCreds, secondaryCreds, err := config.LoadCredentials(cfg.Trading.Mode)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	primary := rest.New(cfg.REST.BaseURL, primaryCreds.APIKey, primaryCreds.APISecret,
		cfg.REST.Timeout, cfg.REST.RecvWindow, log)
	var secondary *rest.Client
	if cfg.Trading.Mode == config.ModeDual {
		secondary = rest.New(cfg.REST.BaseURL, secondaryCreds.APIKey, secondaryCreds.APISecret,
			cfg.REST.Timeout, cfg.REST.RecvWindow, log)
	}
	var wsClient *ws.Client
	if cfg.WS.Enabled {
		wsClient = ws.New(cfg.WS.URL, cfg.WS.ReconnectDelay, cfg.WS.PingInterval, log)
	}
	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		metrics:   m,
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
		sampler:   strategy.NewSampler(0),
		feed:      market.New(primary, wsClient, log),
		primary:   primary,
		secondary: secondary,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if err := a.feed.Start(ctx, a.cfg.Trading.Symbol); err != nil {
		a.log.Warn("price stream unavailable, using depth polling", zap.Error(err))
	}
	switch a.cfg.Trading.Mode {
	case config.ModeVolume:
		return a.runVolume(ctx)
	case config.ModeDual:
		return a.runDual(ctx)
	}
	return fmt.Errorf("unknown trading mode %q", a.cfg.Trading.Mode)
}

func (a *App) runVolume(ctx context.Context) error {
	session := NewSession("primary", a.primary, a.log)
	executor := exec.New(a.primary, a.store, a.log)
	orchestrator := hedge.New(executor, a.primary, a.sampler, a.metrics, a.log)
	runner := NewVolumeRunner(a.cfg, session, a.feed, orchestrator, a.store, a.metrics, a.alerts, a.sampler, a.log)
	return runner.Run(ctx)
}

func (a *App) runDual(ctx context.Context) error {
	acctA := &DualAccount{
		Session: NewSession("account_a", a.primary, a.log),
		Orders:  exec.New(a.primary, a.store, a.log),
	}
	acctB := &DualAccount{
		Session: NewSession("account_b", a.secondary, a.log),
		Orders:  exec.New(a.secondary, a.store, a.log),
	}
	runner := NewDualRunner(a.cfg, acctA, acctB, a.feed, a.store, a.metrics, a.alerts, a.sampler, a.log)
	return runner.Run(ctx)
}
