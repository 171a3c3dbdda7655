package config

import (
	"testing"
	"time"
)

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	if cfg.Trading.Mode != ModeVolume {
		t.Fatalf("expected default mode %q, got %q", ModeVolume, cfg.Trading.Mode)
	}
	if cfg.Trading.Symbol != "BTCUSDT" {
		t.Fatalf("expected default symbol, got %q", cfg.Trading.Symbol)
	}
	if cfg.REST.Timeout != 10*time.Second {
		t.Fatalf("expected rest timeout default, got %v", cfg.REST.Timeout)
	}
	if cfg.Volume.MinHold <= 0 || cfg.Volume.MaxHold < cfg.Volume.MinHold {
		t.Fatalf("expected hold defaults, got %v..%v", cfg.Volume.MinHold, cfg.Volume.MaxHold)
	}
	if cfg.Dual.MaxPositionDeviationPercent != 20 {
		t.Fatalf("expected deviation default 20, got %v", cfg.Dual.MaxPositionDeviationPercent)
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("defaults should validate, got %v", err)
	}
}

func TestValidateRejectsBadLeverage(t *testing.T) {
	for _, leverage := range []int{-1, 101, 500} {
		cfg := &Config{Trading: TradingConfig{Leverage: leverage}}
		applyDefaults(cfg)
		cfg.Trading.Leverage = leverage
		if err := validate(cfg); err == nil {
			t.Fatalf("expected error for leverage %d", leverage)
		}
	}
}

func TestValidateRejectsLowLiquidityMultiplier(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Trading.LiquidityMultiplier = 0.9
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for liquidity multiplier < 1")
	}
}

func TestValidateRejectsBadBalancePercentage(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Trading.BalancePercentage = 0.5
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for balance percentage < 1")
	}
	cfg.Trading.BalancePercentage = 101
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for balance percentage > 100")
	}
}

func TestValidateRejectsInvertedRanges(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Trading.MinCycleDelay = 20 * time.Second
	cfg.Trading.MaxCycleDelay = 5 * time.Second
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for inverted cycle delay range")
	}

	cfg = &Config{}
	applyDefaults(cfg)
	cfg.Volume.MinHold = time.Minute
	cfg.Volume.MaxHold = time.Second
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for inverted hold range")
	}
}

func TestValidateRejectsUnknownMode(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Trading.Mode = "triple"
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestValidateDualRequiresDeviation(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Trading.Mode = ModeDual
	cfg.Dual.MaxPositionDeviationPercent = -1
	if err := validate(cfg); err == nil {
		t.Fatalf("expected error for non-positive deviation threshold")
	}
}

func TestLoadCredentials(t *testing.T) {
	t.Setenv("ASTER_API_KEY", "k1")
	t.Setenv("ASTER_API_SECRET", "s1")
	t.Setenv("ASTER_API_KEY2", "")
	t.Setenv("ASTER_API_SECRET2", "")

	primary, _, err := LoadCredentials(ModeVolume)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.APIKey != "k1" || primary.APISecret != "s1" {
		t.Fatalf("unexpected primary credentials: %+v", primary)
	}

	if _, _, err := LoadCredentials(ModeDual); err == nil {
		t.Fatalf("expected error for missing second key pair in dual mode")
	}

	t.Setenv("ASTER_API_KEY2", "k2")
	t.Setenv("ASTER_API_SECRET2", "s2")
	_, secondary, err := LoadCredentials(ModeDual)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if secondary.APIKey != "k2" || secondary.APISecret != "s2" {
		t.Fatalf("unexpected secondary credentials: %+v", secondary)
	}
}
