package sizing

import (
	"errors"
	"fmt"
	"math"
)

// ErrInsufficientBalance means the allocated balance cannot meet the
// exchange minimum order size. Callers abort the cycle attempt; the order is
// never bumped up to the minimum.
var ErrInsufficientBalance = errors.New("insufficient balance for minimum order size")

// Filters is the subset of exchange symbol filters sizing depends on.
type Filters struct {
	StepSize    float64
	MinQty      float64
	MinNotional float64
}

type Input struct {
	AvailableBalance    float64
	BalancePercentage   float64
	Leverage            int
	Price               float64
	Filters             Filters
	LiquidityMultiplier float64
	// Legs is how many positions the allocation is split across: 2 for a
	// same-account hedge, 1 for a dual-mode single leg.
	Legs int
}

const stepEpsilon = 1e-9

// Quantity computes the order size for one leg. The result is rounded down
// to the quantity step and must clear the liquidity-padded exchange minimum.
func Quantity(in Input) (float64, error) {
	if in.Price <= 0 {
		return 0, errors.New("price must be positive")
	}
	if in.Leverage <= 0 {
		return 0, errors.New("leverage must be positive")
	}
	legs := in.Legs
	if legs <= 0 {
		legs = 1
	}
	multiplier := in.LiquidityMultiplier
	if multiplier < 1 {
		multiplier = 1
	}

	usable := in.AvailableBalance * (in.BalancePercentage / 100) / float64(legs)
	notional := usable * float64(in.Leverage)
	raw := notional / in.Price

	floor := in.Filters.MinNotional * multiplier / in.Price
	if in.Filters.MinQty > floor {
		floor = in.Filters.MinQty
	}

	qty := roundDownToStep(raw, in.Filters.StepSize)
	if qty <= 0 || qty+stepEpsilon < floor {
		return 0, fmt.Errorf("allocated %.8f below minimum %.8f: %w", qty, floor, ErrInsufficientBalance)
	}
	return qty, nil
}

func roundDownToStep(value, step float64) float64 {
	if step <= 0 {
		return value
	}
	steps := math.Floor(value/step + stepEpsilon)
	return steps * step
}
