package exec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aster-volume-bot/internal/aster/rest"
	"aster-volume-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	closeAttempts = 5
	closeBackoff  = 200 * time.Millisecond
)

// API is the order surface the executor needs from the exchange client.
type API interface {
	PlaceOrder(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error)
}

// Executor places opening and closing orders. Opens are a single attempt so
// a timeout can never double-fill a hedge leg; closes retry on retryable
// failures because an unclosed leg is the worse outcome.
type Executor struct {
	api   API
	store state.Store
	log   *zap.Logger
}

func New(api API, store state.Store, log *zap.Logger) *Executor {
	return &Executor{api: api, store: store, log: log}
}

// Open places one opening market order. A missing client order ID gets a
// generated one so the fill can be identified after an ambiguous failure.
func (e *Executor) Open(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}
	resp, err := e.api.PlaceOrder(ctx, req)
	if err != nil {
		return rest.OrderResponse{}, fmt.Errorf("open %s %s: %w", req.PositionSide, req.Symbol, err)
	}
	if !resp.Filled() {
		return resp, fmt.Errorf("open %s %s: order %d status %s: %w", req.PositionSide, req.Symbol, resp.OrderID, resp.Status, ErrNotFilled)
	}
	return resp, nil
}

// Close places one closing market order with bounded retries. The client
// order ID is persisted before the first attempt and reused across retries
// and restarts, so a close that actually landed is rejected as a duplicate
// instead of flipping the position.
func (e *Executor) Close(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error) {
	key := closeKey(req.Symbol, req.PositionSide)
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
		if e.store != nil {
			if stored, ok, err := e.store.Get(ctx, key); err != nil {
				e.log.Warn("failed to read close order id", zap.Error(err))
			} else if ok {
				req.ClientOrderID = stored
			} else if err := e.store.Set(ctx, key, req.ClientOrderID); err != nil {
				e.log.Warn("failed to persist close order id", zap.Error(err))
			}
		}
	}

	resp, err := e.placeWithRetry(ctx, req)
	if err != nil {
		return rest.OrderResponse{}, fmt.Errorf("close %s %s: %w", req.PositionSide, req.Symbol, err)
	}
	if e.store != nil {
		if err := e.store.Delete(ctx, key); err != nil {
			e.log.Warn("failed to clear close order id", zap.Error(err))
		}
	}
	return resp, nil
}

func (e *Executor) placeWithRetry(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error) {
	backoff := closeBackoff
	var lastErr error
	for attempt := 0; attempt < closeAttempts; attempt++ {
		resp, err := e.api.PlaceOrder(ctx, req)
		if err == nil {
			if !resp.Filled() {
				return resp, fmt.Errorf("order %d status %s: %w", resp.OrderID, resp.Status, ErrNotFilled)
			}
			return resp, nil
		}
		lastErr = err
		if !rest.IsRetryable(err) {
			return rest.OrderResponse{}, err
		}
		e.log.Warn("close attempt failed",
			zap.String("symbol", req.Symbol),
			zap.String("position_side", req.PositionSide),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		if attempt == closeAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return rest.OrderResponse{}, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return rest.OrderResponse{}, fmt.Errorf("retries exhausted: %w", lastErr)
}

func closeKey(symbol, positionSide string) string {
	return "close:" + symbol + ":" + positionSide
}

// ErrNotFilled is a sentinel for callers that want to distinguish a rejected
// order from a transport failure.
var ErrNotFilled = errors.New("order not filled")
