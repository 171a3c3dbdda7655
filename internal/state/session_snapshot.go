package state

import (
	"context"
	"encoding/json"
	"strings"
)

// SessionSnapshot carries the running session totals across restarts so the
// cumulative loss limit survives a process bounce.
type SessionSnapshot struct {
	Mode            string  `json:"mode"`
	Symbol          string  `json:"symbol"`
	CyclesCompleted int     `json:"cycles_completed"`
	TotalPnl        float64 `json:"total_pnl"`
	UpdatedAtMS     int64   `json:"updated_at_ms"`
}

func SessionSnapshotKey(mode string) string {
	return "session:" + mode
}

func LoadSessionSnapshot(ctx context.Context, store Store, mode string) (SessionSnapshot, bool, error) {
	if store == nil {
		return SessionSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, SessionSnapshotKey(mode))
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return SessionSnapshot{}, false, nil
	}
	var snapshot SessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return SessionSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveSessionSnapshot(ctx context.Context, store Store, snapshot SessionSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, SessionSnapshotKey(snapshot.Mode), string(payload))
}
