package app

import (
	"context"
	"errors"
	"time"

	"aster-volume-bot/internal/alerts"
	"aster-volume-bot/internal/config"
	"aster-volume-bot/internal/hedge"
	"aster-volume-bot/internal/metrics"
	"aster-volume-bot/internal/sizing"
	"aster-volume-bot/internal/state"
	"aster-volume-bot/internal/strategy"

	"go.uber.org/zap"
)

// errLossLimitReached ends a session cleanly once cumulative losses cross
// the configured limit.
var errLossLimitReached = errors.New("cumulative loss limit reached")

// VolumeRunner drives the single-account cycle: open a long+short hedge,
// hold, close, record PnL, delay, repeat. Per-cycle failures abort the cycle
// but keep the session alive; only shutdown, the loss limit, or an
// unresolvable open position end it.
type VolumeRunner struct {
	cfg     *config.Config
	session *Session
	prices  PriceSource
	hedger  *hedge.Orchestrator
	machine *strategy.StateMachine
	tracker *strategy.PnLTracker
	sampler *strategy.Sampler
	store   state.Store
	metrics *metrics.Metrics
	alerts  *alerts.Telegram
	log     *zap.Logger

	holdPollInterval time.Duration
	settleDelay      time.Duration
	shutdownGrace    time.Duration
}

func NewVolumeRunner(
	cfg *config.Config,
	session *Session,
	prices PriceSource,
	hedger *hedge.Orchestrator,
	store state.Store,
	m *metrics.Metrics,
	al *alerts.Telegram,
	sampler *strategy.Sampler,
	log *zap.Logger,
) *VolumeRunner {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &VolumeRunner{
		cfg:              cfg,
		session:          session,
		prices:           prices,
		hedger:           hedger,
		machine:          strategy.NewStateMachine(),
		tracker:          strategy.NewPnLTracker(cfg.Trading.MaxLossUSDT),
		sampler:          sampler,
		store:            store,
		metrics:          m,
		alerts:           al,
		log:              log,
		holdPollInterval: 2 * time.Second,
		settleDelay:      time.Second,
		shutdownGrace:    30 * time.Second,
	}
}

func (r *VolumeRunner) Run(ctx context.Context) error {
	symbol := r.cfg.Trading.Symbol
	if err := r.session.SetupEnvironment(ctx, symbol, r.cfg.Trading.Leverage, true); err != nil {
		return err
	}
	if err := r.restoreSession(ctx); err != nil {
		return err
	}
	if r.tracker.LimitReached() {
		r.log.Warn("loss limit already reached for this session, refusing to trade",
			zap.Float64("total_pnl", r.tracker.Total()))
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.runCycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errLossLimitReached):
			r.alerts.Sendf(ctx, "session terminated: loss limit reached (total %.2f USDT over %d cycles)",
				r.tracker.Total(), r.tracker.Cycles())
			r.log.Warn("session terminated on loss limit",
				zap.Float64("total_pnl", r.tracker.Total()),
				zap.Int("cycles", r.tracker.Cycles()))
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case isImbalance(err):
			// An open leg we could not flatten is an exposure the bot must
			// not trade on top of. Alerted inside the close path already.
			return err
		case errors.Is(err, sizing.ErrInsufficientBalance):
			r.metrics.InsufficientBalance.Inc()
			r.log.Warn("cycle skipped, balance below minimum order size", zap.Error(err))
		default:
			r.log.Error("cycle failed", zap.Error(err))
		}

		if err := r.cycleDelay(ctx); err != nil {
			return err
		}
	}
}

func (r *VolumeRunner) restoreSession(ctx context.Context) error {
	snapshot, ok, err := state.LoadSessionSnapshot(ctx, r.store, config.ModeVolume)
	if err != nil {
		r.log.Warn("failed to load session snapshot", zap.Error(err))
		return nil
	}
	if !ok || snapshot.Symbol != r.cfg.Trading.Symbol {
		return nil
	}
	r.tracker.Restore(snapshot.TotalPnl, snapshot.CyclesCompleted)
	r.metrics.SessionPnl.Set(snapshot.TotalPnl)
	r.log.Info("resumed session totals",
		zap.Float64("total_pnl", snapshot.TotalPnl),
		zap.Int("cycles", snapshot.CyclesCompleted))
	return nil
}

func (r *VolumeRunner) runCycle(ctx context.Context) error {
	symbol := r.cfg.Trading.Symbol

	balanceBefore, err := r.session.AvailableUSDT(ctx)
	if err != nil {
		return err
	}
	filters, err := r.session.API().SymbolFilters(ctx, symbol)
	if err != nil {
		return err
	}
	price, err := r.prices.Mid(ctx, symbol)
	if err != nil {
		return err
	}
	quantity, err := sizing.Quantity(sizing.Input{
		AvailableBalance:  balanceBefore,
		BalancePercentage: r.cfg.Trading.BalancePercentage,
		Leverage:          r.cfg.Trading.Leverage,
		Price:             price,
		Filters: sizing.Filters{
			StepSize:    filters.StepSize,
			MinQty:      filters.MinQty,
			MinNotional: filters.MinNotional,
		},
		LiquidityMultiplier: r.cfg.Trading.LiquidityMultiplier,
		Legs:                2,
	})
	if err != nil {
		return err
	}

	r.machine.Apply(strategy.EventOpen)
	pair, err := r.hedger.OpenHedge(ctx, symbol, quantity)
	if err != nil {
		return r.abortCycle(ctx, err)
	}
	r.machine.Apply(strategy.EventHedgeOpened)

	hold := r.sampler.Duration(r.cfg.Volume.MinHold, r.cfg.Volume.MaxHold)
	r.log.Info("hedge holding",
		zap.String("symbol", symbol),
		zap.Float64("quantity", quantity),
		zap.Duration("hold", hold))
	if err := r.holdPosition(ctx, symbol, hold); err != nil {
		return r.abortCycle(ctx, err)
	}
	r.machine.Apply(strategy.EventHoldElapsed)
	r.machine.Apply(strategy.EventEvaluated)

	if err := r.hedger.CloseHedge(ctx, pair); err != nil {
		return r.abortCycle(ctx, err)
	}
	return r.settleCycle(ctx, balanceBefore)
}

// holdPosition waits out the sampled hold, polling unrealized PnL so a
// profitable hedge is taken early instead of decaying through fees.
func (r *VolumeRunner) holdPosition(ctx context.Context, symbol string, hold time.Duration) error {
	deadline := time.NewTimer(hold)
	defer deadline.Stop()
	ticker := time.NewTicker(r.holdPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return nil
		case <-ticker.C:
			pnl, err := r.session.UnrealizedPnl(ctx, symbol)
			if err != nil {
				r.log.Warn("unrealized pnl poll failed", zap.Error(err))
				continue
			}
			if pnl > 0 {
				r.log.Info("closing early on positive unrealized pnl",
					zap.String("symbol", symbol),
					zap.Float64("unrealized_pnl", pnl))
				return nil
			}
		}
	}
}

func (r *VolumeRunner) settleCycle(ctx context.Context, balanceBefore float64) error {
	// let fills settle before reading the post-close balance
	if err := wait(ctx, r.settleDelay); err != nil {
		return err
	}
	balanceAfter, err := r.session.AvailableUSDT(ctx)
	if err != nil {
		return err
	}
	cyclePnl := strategy.Estimate(balanceBefore, balanceAfter)
	total, limitHit := r.tracker.Record(cyclePnl)
	r.metrics.CyclesCompleted.Inc()
	r.metrics.SessionPnl.Set(total)
	r.saveSnapshot(ctx)
	r.machine.Apply(strategy.EventClosed)
	r.log.Info("cycle complete",
		zap.Float64("cycle_pnl", cyclePnl),
		zap.Float64("total_pnl", total),
		zap.Int("cycles", r.tracker.Cycles()))
	if limitHit {
		r.machine.Apply(strategy.EventLossLimit)
		return errLossLimitReached
	}
	return nil
}

// abortCycle drives the emergency close path after a failure anywhere in the
// cycle. On shutdown the close runs on a detached grace context so a
// cancelled parent cannot strand an open position.
func (r *VolumeRunner) abortCycle(ctx context.Context, cause error) error {
	r.machine.Apply(strategy.EventError)
	r.metrics.EmergencyCloses.Inc()

	closeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		closeCtx, cancel = context.WithTimeout(context.Background(), r.shutdownGrace)
		defer cancel()
	}
	if err := r.hedger.CloseAll(closeCtx, r.cfg.Trading.Symbol); err != nil {
		r.machine.Apply(strategy.EventError)
		r.alerts.Sendf(closeCtx, "EMERGENCY: could not flatten %s after failure (%v): %v",
			r.cfg.Trading.Symbol, cause, err)
		return errors.Join(cause, err)
	}
	r.machine.Apply(strategy.EventClosed)
	return cause
}

func (r *VolumeRunner) cycleDelay(ctx context.Context) error {
	delay := r.sampler.Duration(r.cfg.Trading.MinCycleDelay, r.cfg.Trading.MaxCycleDelay)
	if err := wait(ctx, delay); err != nil {
		return err
	}
	r.machine.Apply(strategy.EventDelayElapsed)
	return nil
}

func (r *VolumeRunner) saveSnapshot(ctx context.Context) {
	snapshot := state.SessionSnapshot{
		Mode:            config.ModeVolume,
		Symbol:          r.cfg.Trading.Symbol,
		CyclesCompleted: r.tracker.Cycles(),
		TotalPnl:        r.tracker.Total(),
		UpdatedAtMS:     time.Now().UnixMilli(),
	}
	if err := state.SaveSessionSnapshot(ctx, r.store, snapshot); err != nil {
		r.log.Warn("failed to persist session snapshot", zap.Error(err))
	}
}

func isImbalance(err error) bool {
	var imbalance *hedge.ImbalanceError
	return errors.As(err, &imbalance)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
