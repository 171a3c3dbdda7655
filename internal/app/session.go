package app

import (
	"context"
	"fmt"
	"time"

	"aster-volume-bot/internal/aster/rest"

	"go.uber.org/zap"
)

const quoteAsset = "USDT"

// AccountClient is the account-scoped exchange surface a session owns.
type AccountClient interface {
	AvailableBalance(ctx context.Context, asset string) (float64, error)
	SymbolFilters(ctx context.Context, symbol string) (rest.SymbolFilters, error)
	HedgeMode(ctx context.Context) (bool, error)
	SetHedgeMode(ctx context.Context, enabled bool) error
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req rest.OrderRequest) (rest.OrderResponse, error)
	Positions(ctx context.Context, symbol string) ([]rest.Position, error)
}

// PriceSource answers mid-price queries for sizing.
type PriceSource interface {
	Mid(ctx context.Context, symbol string) (float64, error)
}

// Session is one account's view of the exchange. Each session owns its
// client exclusively; credentials are never shared between sessions.
type Session struct {
	name string
	api  AccountClient
	log  *zap.Logger

	// pause after flipping position mode so the change settles server-side
	settleDelay time.Duration
}

func NewSession(name string, api AccountClient, log *zap.Logger) *Session {
	return &Session{name: name, api: api, log: log, settleDelay: 500 * time.Millisecond}
}

// SetupEnvironment aligns the account's position mode and leverage with the
// configuration before any order goes out.
func (s *Session) SetupEnvironment(ctx context.Context, symbol string, leverage int, hedgeMode bool) error {
	current, err := s.api.HedgeMode(ctx)
	if err != nil {
		return fmt.Errorf("%s: read position mode: %w", s.name, err)
	}
	if current != hedgeMode {
		if err := s.api.SetHedgeMode(ctx, hedgeMode); err != nil {
			return fmt.Errorf("%s: set position mode: %w", s.name, err)
		}
		s.log.Info("position mode changed",
			zap.String("account", s.name),
			zap.Bool("hedge_mode", hedgeMode))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.settleDelay):
		}
	}
	if err := s.api.SetLeverage(ctx, symbol, leverage); err != nil {
		return fmt.Errorf("%s: set leverage: %w", s.name, err)
	}
	return nil
}

func (s *Session) AvailableUSDT(ctx context.Context) (float64, error) {
	balance, err := s.api.AvailableBalance(ctx, quoteAsset)
	if err != nil {
		return 0, fmt.Errorf("%s: read balance: %w", s.name, err)
	}
	return balance, nil
}

// UnrealizedPnl sums the unrealized PnL across the symbol's open legs.
func (s *Session) UnrealizedPnl(ctx context.Context, symbol string) (float64, error) {
	positions, err := s.api.Positions(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("%s: read positions: %w", s.name, err)
	}
	var total float64
	for _, p := range positions {
		total += p.UnrealizedPnl
	}
	return total, nil
}

func (s *Session) Name() string {
	return s.name
}

func (s *Session) API() AccountClient {
	return s.api
}
