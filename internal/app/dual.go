package app

import (
	"context"
	"errors"
	"time"

	"aster-volume-bot/internal/alerts"
	"aster-volume-bot/internal/aster/rest"
	"aster-volume-bot/internal/config"
	"aster-volume-bot/internal/hedge"
	"aster-volume-bot/internal/metrics"
	"aster-volume-bot/internal/sizing"
	"aster-volume-bot/internal/state"
	"aster-volume-bot/internal/strategy"

	"go.uber.org/zap"
)

// DualAccount bundles one account's session with its order executor.
type DualAccount struct {
	Session *Session
	Orders  hedge.Orders
}

type closeReason int

const (
	closeReasonHoldExpired closeReason = iota
	closeReasonProfit
	closeReasonDeviation
	closeReasonLossLimit
)

func (r closeReason) String() string {
	switch r {
	case closeReasonHoldExpired:
		return "hold_expired"
	case closeReasonProfit:
		return "combined_profit"
	case closeReasonDeviation:
		return "deviation"
	case closeReasonLossLimit:
		return "loss_limit"
	}
	return "unknown"
}

// legSnapshot is one poller's view of its account's position, delivered to
// the coordinator over a bounded channel.
type legSnapshot struct {
	account    string
	quantity   float64
	unrealized float64
}

// DualRunner keeps two accounts in opposite single-leg positions on the same
// symbol. A coordinator watches both legs once per second and closes the
// pair on loss limit, quantity deviation, combined profit, or hold expiry —
// in that priority order.
type DualRunner struct {
	cfg     *config.Config
	a, b    *DualAccount
	prices  PriceSource
	machine *strategy.StateMachine
	tracker *strategy.PnLTracker
	sampler *strategy.Sampler
	store   state.Store
	metrics *metrics.Metrics
	alerts  *alerts.Telegram
	log     *zap.Logger

	pollInterval  time.Duration
	settleDelay   time.Duration
	shutdownGrace time.Duration
}

func NewDualRunner(
	cfg *config.Config,
	a, b *DualAccount,
	prices PriceSource,
	store state.Store,
	m *metrics.Metrics,
	al *alerts.Telegram,
	sampler *strategy.Sampler,
	log *zap.Logger,
) *DualRunner {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &DualRunner{
		cfg:           cfg,
		a:             a,
		b:             b,
		prices:        prices,
		machine:       strategy.NewStateMachine(),
		tracker:       strategy.NewPnLTracker(cfg.Trading.MaxLossUSDT),
		sampler:       sampler,
		store:         store,
		metrics:       m,
		alerts:        al,
		log:           log,
		pollInterval:  time.Second,
		settleDelay:   time.Second,
		shutdownGrace: 30 * time.Second,
	}
}

func (r *DualRunner) Run(ctx context.Context) error {
	symbol := r.cfg.Trading.Symbol
	for _, acct := range []*DualAccount{r.a, r.b} {
		if err := acct.Session.SetupEnvironment(ctx, symbol, r.cfg.Trading.Leverage, true); err != nil {
			return err
		}
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
			r.alerts.Sendf(ctx, "dual session terminated: loss limit reached (total %.2f USDT over %d cycles)",
				r.tracker.Total(), r.tracker.Cycles())
			r.log.Warn("session terminated on loss limit",
				zap.Float64("total_pnl", r.tracker.Total()),
				zap.Int("cycles", r.tracker.Cycles()))
			return nil
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			return err
		case isImbalance(err):
			return err
		case errors.Is(err, sizing.ErrInsufficientBalance):
			r.metrics.InsufficientBalance.Inc()
			r.log.Warn("cycle skipped, balance below minimum order size", zap.Error(err))
		default:
			r.log.Error("cycle failed", zap.Error(err))
		}

		delay := r.sampler.Duration(r.cfg.Trading.MinCycleDelay, r.cfg.Trading.MaxCycleDelay)
		if err := wait(ctx, delay); err != nil {
			return err
		}
		r.machine.Apply(strategy.EventDelayElapsed)
	}
}

func (r *DualRunner) restoreSession(ctx context.Context) error {
	snapshot, ok, err := state.LoadSessionSnapshot(ctx, r.store, config.ModeDual)
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

func (r *DualRunner) runCycle(ctx context.Context) error {
	symbol := r.cfg.Trading.Symbol

	balABefore, err := r.a.Session.AvailableUSDT(ctx)
	if err != nil {
		return err
	}
	balBBefore, err := r.b.Session.AvailableUSDT(ctx)
	if err != nil {
		return err
	}
	smaller := balABefore
	if balBBefore < smaller {
		smaller = balBBefore
	}
	filters, err := r.a.Session.API().SymbolFilters(ctx, symbol)
	if err != nil {
		return err
	}
	price, err := r.prices.Mid(ctx, symbol)
	if err != nil {
		return err
	}
	quantity, err := sizing.Quantity(sizing.Input{
		AvailableBalance:  smaller,
		BalancePercentage: r.cfg.Trading.BalancePercentage,
		Leverage:          r.cfg.Trading.Leverage,
		Price:             price,
		Filters: sizing.Filters{
			StepSize:    filters.StepSize,
			MinQty:      filters.MinQty,
			MinNotional: filters.MinNotional,
		},
		LiquidityMultiplier: r.cfg.Trading.LiquidityMultiplier,
		Legs:                1,
	})
	if err != nil {
		return err
	}

	// Randomize which account takes the long side.
	longAcct, shortAcct := r.a, r.b
	if r.sampler.Bool() {
		longAcct, shortAcct = r.b, r.a
	}

	r.machine.Apply(strategy.EventOpen)
	if _, err := openLeg(ctx, longAcct, symbol, rest.PositionLong, quantity); err != nil {
		// An open can error after the exchange executed it (e.g. the order
		// landed but did not confirm filled), so flatten before giving up.
		return r.abortCycle(ctx, err)
	}
	if _, err := openLeg(ctx, shortAcct, symbol, rest.PositionShort, quantity); err != nil {
		// Unwind the first leg so only zero or two legs ever stay open.
		return r.abortCycle(ctx, err)
	}
	r.machine.Apply(strategy.EventHedgeOpened)
	r.log.Info("dual legs opened",
		zap.String("symbol", symbol),
		zap.Float64("quantity", quantity),
		zap.String("long_account", longAcct.Session.Name()),
		zap.String("short_account", shortAcct.Session.Name()))

	hold := r.sampler.Duration(r.cfg.Dual.MinHold, r.cfg.Dual.MaxHold)
	reason, err := r.monitorHold(ctx, symbol, hold)
	if err != nil {
		return r.abortCycle(ctx, err)
	}
	r.machine.Apply(strategy.EventHoldElapsed)
	r.machine.Apply(strategy.EventEvaluated)
	r.log.Info("closing dual legs", zap.String("reason", reason.String()))

	if err := r.closeBoth(ctx); err != nil {
		r.machine.Apply(strategy.EventError)
		return err
	}
	r.machine.Apply(strategy.EventClosed)

	if err := r.settleCycle(ctx, balABefore+balBBefore); err != nil {
		return err
	}
	if reason == closeReasonLossLimit {
		r.machine.Apply(strategy.EventLossLimit)
		return errLossLimitReached
	}
	return nil
}

// monitorHold runs one poller per account and evaluates the pair each time
// both sides of a tick have reported.
func (r *DualRunner) monitorHold(ctx context.Context, symbol string, hold time.Duration) (closeReason, error) {
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	snaps := make(chan legSnapshot, 2)
	go r.pollLeg(pollCtx, r.a, symbol, snaps)
	go r.pollLeg(pollCtx, r.b, symbol, snaps)

	deadline := time.NewTimer(hold)
	defer deadline.Stop()
	latest := make(map[string]legSnapshot, 2)
	for {
		select {
		case <-ctx.Done():
			return closeReasonHoldExpired, ctx.Err()
		case <-deadline.C:
			return closeReasonHoldExpired, nil
		case snap := <-snaps:
			latest[snap.account] = snap
			if len(latest) < 2 {
				continue
			}
			legA := latest[r.a.Session.Name()]
			legB := latest[r.b.Session.Name()]
			// Consume the pair: the next evaluation needs a fresh snapshot
			// from each account, never one side's last tick.
			clear(latest)
			combined := legA.unrealized + legB.unrealized
			if r.tracker.LimitReachedWith(combined) {
				return closeReasonLossLimit, nil
			}
			if strategy.DeviationExceeded(legA.quantity, legB.quantity, r.cfg.Dual.MaxPositionDeviationPercent) {
				r.log.Warn("leg deviation threshold reached",
					zap.Float64("quantity_a", legA.quantity),
					zap.Float64("quantity_b", legB.quantity),
					zap.Float64("deviation_percent", strategy.DeviationPercent(legA.quantity, legB.quantity)))
				return closeReasonDeviation, nil
			}
			if combined > 0 {
				return closeReasonProfit, nil
			}
		}
	}
}

func (r *DualRunner) pollLeg(ctx context.Context, acct *DualAccount, symbol string, snaps chan<- legSnapshot) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			positions, err := acct.Session.API().Positions(ctx, symbol)
			if err != nil {
				r.log.Warn("position poll failed",
					zap.String("account", acct.Session.Name()),
					zap.Error(err))
				continue
			}
			var quantity, unrealized float64
			for _, p := range positions {
				quantity += p.Quantity
				unrealized += p.UnrealizedPnl
			}
			select {
			case snaps <- legSnapshot{account: acct.Session.Name(), quantity: quantity, unrealized: unrealized}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// closeBoth flattens both accounts. Each account's close is attempted
// regardless of the other's outcome; any residue is alerted and surfaced as
// an imbalance.
func (r *DualRunner) closeBoth(ctx context.Context) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), r.shutdownGrace)
		defer cancel()
	}
	errA := r.flatten(ctx, r.a)
	errB := r.flatten(ctx, r.b)
	if errA == nil && errB == nil {
		return nil
	}
	r.metrics.HedgeImbalance.Inc()
	err := errors.Join(errA, errB)
	r.alerts.Sendf(ctx, "EMERGENCY: dual close incomplete on %s: %v", r.cfg.Trading.Symbol, err)
	return &hedge.ImbalanceError{Symbol: r.cfg.Trading.Symbol, OpenLegs: countErrs(errA, errB), Err: err}
}

func (r *DualRunner) flatten(ctx context.Context, acct *DualAccount) error {
	symbol := r.cfg.Trading.Symbol
	positions, err := acct.Session.API().Positions(ctx, symbol)
	if err != nil {
		return err
	}
	var firstErr error
	for _, pos := range positions {
		if pos.Quantity <= 0 {
			continue
		}
		if _, err := acct.Orders.Close(ctx, rest.OrderRequest{
			Symbol:       symbol,
			Side:         closeSideFor(pos.Side),
			PositionSide: pos.Side,
			Type:         rest.OrderTypeMarket,
			Quantity:     pos.Quantity,
		}); err != nil {
			r.metrics.OrdersFailed.Inc()
			r.log.Error("close failed",
				zap.String("account", acct.Session.Name()),
				zap.String("position_side", pos.Side),
				zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		r.metrics.OrdersPlaced.Inc()
	}
	return firstErr
}

// abortCycle unwinds whatever opened before the failure.
func (r *DualRunner) abortCycle(ctx context.Context, cause error) error {
	r.machine.Apply(strategy.EventError)
	r.metrics.EmergencyCloses.Inc()
	if err := r.closeBoth(ctx); err != nil {
		r.machine.Apply(strategy.EventError)
		return errors.Join(cause, err)
	}
	r.machine.Apply(strategy.EventClosed)
	return cause
}

func (r *DualRunner) settleCycle(ctx context.Context, balanceBefore float64) error {
	if err := wait(ctx, r.settleDelay); err != nil {
		return err
	}
	balAAfter, err := r.a.Session.AvailableUSDT(ctx)
	if err != nil {
		return err
	}
	balBAfter, err := r.b.Session.AvailableUSDT(ctx)
	if err != nil {
		return err
	}
	cyclePnl := strategy.Estimate(balanceBefore, balAAfter+balBAfter)
	total, limitHit := r.tracker.Record(cyclePnl)
	r.metrics.CyclesCompleted.Inc()
	r.metrics.SessionPnl.Set(total)
	r.saveSnapshot(ctx)
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

func (r *DualRunner) saveSnapshot(ctx context.Context) {
	snapshot := state.SessionSnapshot{
		Mode:            config.ModeDual,
		Symbol:          r.cfg.Trading.Symbol,
		CyclesCompleted: r.tracker.Cycles(),
		TotalPnl:        r.tracker.Total(),
		UpdatedAtMS:     time.Now().UnixMilli(),
	}
	if err := state.SaveSessionSnapshot(ctx, r.store, snapshot); err != nil {
		r.log.Warn("failed to persist session snapshot", zap.Error(err))
	}
}

func openLeg(ctx context.Context, acct *DualAccount, symbol, positionSide string, quantity float64) (rest.OrderResponse, error) {
	return acct.Orders.Open(ctx, rest.OrderRequest{
		Symbol:       symbol,
		Side:         openSideFor(positionSide),
		PositionSide: positionSide,
		Type:         rest.OrderTypeMarket,
		Quantity:     quantity,
	})
}

func openSideFor(positionSide string) string {
	if positionSide == rest.PositionLong {
		return rest.SideBuy
	}
	return rest.SideSell
}

func closeSideFor(positionSide string) string {
	if positionSide == rest.PositionLong {
		return rest.SideSell
	}
	return rest.SideBuy
}

func countErrs(errs ...error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
