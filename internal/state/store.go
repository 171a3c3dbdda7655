// Package state persists the bot's durable bookkeeping: session PnL totals
// backing the loss limit, and close-order idempotency keys.
package state

import "context"

// Store is the string key/value store shared by the session snapshot codec
// and the order executor. Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the stored value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
