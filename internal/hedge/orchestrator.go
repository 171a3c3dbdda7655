package hedge

import (
	"context"
	"fmt"

	"aster-volume-bot/internal/aster/rest"
	"aster-volume-bot/internal/metrics"
	"aster-volume-bot/internal/strategy"

	"go.uber.org/zap"
)

// Orders is the execution surface the orchestrator drives. Open is a single
// attempt; Close retries internally.
type Orders interface {
	Open(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error)
	Close(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error)
}

// PositionReader reports the open legs for a symbol.
type PositionReader interface {
	Positions(ctx context.Context, symbol string) ([]rest.Position, error)
}

// ImbalanceError means a close flow finished with legs still open. The
// position is directional and exposed; callers must alert an operator.
type ImbalanceError struct {
	Symbol   string
	OpenLegs int
	Err      error
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("hedge imbalance on %s: %d leg(s) still open: %v", e.Symbol, e.OpenLegs, e.Err)
}

func (e *ImbalanceError) Unwrap() error {
	return e.Err
}

// Leg is one side of an open hedge.
type Leg struct {
	Side       string
	Quantity   float64
	EntryPrice float64
	OrderID    int64
}

// Hedge is a confirmed long+short pair on one symbol.
type Hedge struct {
	Symbol string
	Long   Leg
	Short  Leg
}

// Orchestrator opens and closes hedged pairs, keeping the both-or-neither
// invariant: a failed second leg immediately unwinds the first.
type Orchestrator struct {
	orders    Orders
	positions PositionReader
	sampler   *strategy.Sampler
	metrics   *metrics.Metrics
	log       *zap.Logger
}

func New(orders Orders, positions PositionReader, sampler *strategy.Sampler, m *metrics.Metrics, log *zap.Logger) *Orchestrator {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Orchestrator{orders: orders, positions: positions, sampler: sampler, metrics: m, log: log}
}

// OpenHedge opens a long and a short leg of the same quantity in random
// order. The first fill is confirmed before the second order goes out; if
// the second leg fails the first is closed before returning.
func (o *Orchestrator) OpenHedge(ctx context.Context, symbol string, quantity float64) (Hedge, error) {
	sides := [2]string{rest.PositionLong, rest.PositionShort}
	if o.sampler != nil && o.sampler.Bool() {
		sides[0], sides[1] = sides[1], sides[0]
	}

	hedge := Hedge{Symbol: symbol}
	for i, positionSide := range sides {
		resp, err := o.orders.Open(ctx, rest.OrderRequest{
			Symbol:       symbol,
			Side:         openSide(positionSide),
			PositionSide: positionSide,
			Type:         rest.OrderTypeMarket,
			Quantity:     quantity,
		})
		if err != nil {
			o.metrics.OrdersFailed.Inc()
			if i == 1 {
				o.log.Error("second hedge leg failed, unwinding first",
					zap.String("symbol", symbol),
					zap.String("open_leg", sides[0]),
					zap.Error(err))
				if closeErr := o.CloseAll(ctx, symbol); closeErr != nil {
					return Hedge{}, fmt.Errorf("second leg failed (%v); unwind failed: %w", err, closeErr)
				}
			}
			return Hedge{}, fmt.Errorf("open hedge %s: %w", symbol, err)
		}
		o.metrics.OrdersPlaced.Inc()
		leg := Leg{Side: positionSide, Quantity: resp.ExecutedQty, EntryPrice: resp.AvgPrice, OrderID: resp.OrderID}
		if positionSide == rest.PositionLong {
			hedge.Long = leg
		} else {
			hedge.Short = leg
		}
	}

	o.log.Info("hedge opened",
		zap.String("symbol", symbol),
		zap.Float64("quantity", quantity),
		zap.String("first_leg", sides[0]))
	return hedge, nil
}

// CloseHedge closes both legs of an open hedge. Both closes are always
// attempted; a failure on one leg does not stop the other.
func (o *Orchestrator) CloseHedge(ctx context.Context, hedge Hedge) error {
	var firstErr error
	failed := 0
	for _, leg := range []Leg{hedge.Long, hedge.Short} {
		if leg.Quantity <= 0 {
			continue
		}
		if err := o.closeLeg(ctx, hedge.Symbol, leg.Side, leg.Quantity); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		o.metrics.HedgeImbalance.Inc()
		return &ImbalanceError{Symbol: hedge.Symbol, OpenLegs: failed, Err: firstErr}
	}
	return nil
}

// CloseAll reads the live positions for a symbol and closes every nonzero
// leg. It keeps going past individual failures so one stuck leg cannot
// strand the other.
func (o *Orchestrator) CloseAll(ctx context.Context, symbol string) error {
	positions, err := o.positions.Positions(ctx, symbol)
	if err != nil {
		return fmt.Errorf("read positions for %s: %w", symbol, err)
	}

	var firstErr error
	failed := 0
	for _, pos := range positions {
		if pos.Quantity <= 0 {
			continue
		}
		if err := o.closeLeg(ctx, symbol, pos.Side, pos.Quantity); err != nil {
			failed++
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr != nil {
		o.metrics.HedgeImbalance.Inc()
		return &ImbalanceError{Symbol: symbol, OpenLegs: failed, Err: firstErr}
	}
	return nil
}

func (o *Orchestrator) closeLeg(ctx context.Context, symbol, positionSide string, quantity float64) error {
	_, err := o.orders.Close(ctx, rest.OrderRequest{
		Symbol:       symbol,
		Side:         closeSide(positionSide),
		PositionSide: positionSide,
		Type:         rest.OrderTypeMarket,
		Quantity:     quantity,
	})
	if err != nil {
		o.metrics.OrdersFailed.Inc()
		o.log.Error("close leg failed",
			zap.String("symbol", symbol),
			zap.String("position_side", positionSide),
			zap.Float64("quantity", quantity),
			zap.Error(err))
		return err
	}
	o.metrics.OrdersPlaced.Inc()
	return nil
}

func openSide(positionSide string) string {
	if positionSide == rest.PositionLong {
		return rest.SideBuy
	}
	return rest.SideSell
}

func closeSide(positionSide string) string {
	if positionSide == rest.PositionLong {
		return rest.SideSell
	}
	return rest.SideBuy
}
