package strategy

import "sync"

// Estimate derives a cycle's realized PnL from balance snapshots taken
// before opening and after closing. Fees and funding fold into the delta;
// this is a deliberate approximation, not trade-by-trade accounting.
func Estimate(balanceBeforeOpen, balanceAfterClose float64) float64 {
	return balanceAfterClose - balanceBeforeOpen
}

// PnLTracker accumulates realized PnL across cycles and answers whether the
// session loss limit has been reached.
type PnLTracker struct {
	mu      sync.Mutex
	total   float64
	cycles  int
	maxLoss float64
}

func NewPnLTracker(maxLossUSDT float64) *PnLTracker {
	return &PnLTracker{maxLoss: maxLossUSDT}
}

// Record adds one cycle's realized PnL and reports the running total plus
// whether the loss limit is now breached.
func (t *PnLTracker) Record(cyclePnl float64) (total float64, limitReached bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total += cyclePnl
	t.cycles++
	return t.total, t.limitReachedLocked()
}

// Restore seeds the tracker from a persisted session snapshot.
func (t *PnLTracker) Restore(total float64, cycles int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = total
	t.cycles = cycles
}

func (t *PnLTracker) Total() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

func (t *PnLTracker) Cycles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cycles
}

func (t *PnLTracker) LimitReached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limitReachedLocked()
}

// LimitReachedWith answers whether the limit would be breached if the given
// unrealized PnL were added to the running total.
func (t *PnLTracker) LimitReachedWith(unrealized float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxLoss > 0 && t.total+unrealized <= -t.maxLoss
}

func (t *PnLTracker) limitReachedLocked() bool {
	return t.maxLoss > 0 && t.total <= -t.maxLoss
}
