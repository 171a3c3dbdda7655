package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ModeVolume = "volume"
	ModeDual   = "dual"
)

type Config struct {
	Log      LoggingConfig  `yaml:"log"`
	REST     RESTConfig     `yaml:"rest"`
	WS       WSConfig       `yaml:"ws"`
	State    StateConfig    `yaml:"state"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Telegram TelegramConfig `yaml:"telegram"`
	Trading  TradingConfig  `yaml:"trading"`
	Volume   VolumeConfig   `yaml:"volume"`
	Dual     DualConfig     `yaml:"dual"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type RESTConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RecvWindow time.Duration `yaml:"recv_window"`
}

type WSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type TradingConfig struct {
	Mode                string        `yaml:"mode"`
	Symbol              string        `yaml:"symbol"`
	Leverage            int           `yaml:"leverage"`
	HedgeMode           bool          `yaml:"hedge_mode"`
	LiquidityMultiplier float64       `yaml:"liquidity_multiplier"`
	BalancePercentage   float64       `yaml:"balance_percentage"`
	MaxLossUSDT         float64       `yaml:"max_loss_usdt"`
	MinCycleDelay       time.Duration `yaml:"min_cycle_delay"`
	MaxCycleDelay       time.Duration `yaml:"max_cycle_delay"`
}

type VolumeConfig struct {
	MinHold time.Duration `yaml:"min_hold"`
	MaxHold time.Duration `yaml:"max_hold"`
}

type DualConfig struct {
	MaxPositionDeviationPercent float64       `yaml:"max_position_deviation_percent"`
	MinHold                     time.Duration `yaml:"min_hold"`
	MaxHold                     time.Duration `yaml:"max_hold"`
}

// Credentials is one API key pair. Keys are read from the environment, never
// from the yaml file.
type Credentials struct {
	APIKey    string
	APISecret string
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.REST.BaseURL == "" {
		cfg.REST.BaseURL = "https://fapi.asterdex.com"
	}
	if cfg.REST.Timeout == 0 {
		cfg.REST.Timeout = 10 * time.Second
	}
	if cfg.REST.RecvWindow == 0 {
		cfg.REST.RecvWindow = 5 * time.Second
	}
	if cfg.WS.URL == "" {
		cfg.WS.URL = "wss://fstream.asterdex.com/ws"
	}
	if cfg.WS.ReconnectDelay == 0 {
		cfg.WS.ReconnectDelay = 3 * time.Second
	}
	if cfg.WS.PingInterval == 0 {
		cfg.WS.PingInterval = 15 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/aster-volume-bot.db"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Trading.Mode == "" {
		cfg.Trading.Mode = ModeVolume
	}
	cfg.Trading.Mode = strings.ToLower(cfg.Trading.Mode)
	if cfg.Trading.Symbol == "" {
		cfg.Trading.Symbol = "BTCUSDT"
	}
	if cfg.Trading.Leverage == 0 {
		cfg.Trading.Leverage = 20
	}
	if cfg.Trading.LiquidityMultiplier == 0 {
		cfg.Trading.LiquidityMultiplier = 1.2
	}
	if cfg.Trading.BalancePercentage == 0 {
		cfg.Trading.BalancePercentage = 50
	}
	if cfg.Trading.MaxLossUSDT == 0 {
		cfg.Trading.MaxLossUSDT = 100
	}
	if cfg.Trading.MinCycleDelay == 0 {
		cfg.Trading.MinCycleDelay = 5 * time.Second
	}
	if cfg.Trading.MaxCycleDelay == 0 {
		cfg.Trading.MaxCycleDelay = 15 * time.Second
	}
	if cfg.Volume.MinHold == 0 {
		cfg.Volume.MinHold = 10 * time.Second
	}
	if cfg.Volume.MaxHold == 0 {
		cfg.Volume.MaxHold = 30 * time.Second
	}
	if cfg.Dual.MaxPositionDeviationPercent == 0 {
		cfg.Dual.MaxPositionDeviationPercent = 20
	}
	if cfg.Dual.MinHold == 0 {
		cfg.Dual.MinHold = 30 * time.Second
	}
	if cfg.Dual.MaxHold == 0 {
		cfg.Dual.MaxHold = 5 * time.Minute
	}
}

func validate(cfg *Config) error {
	if cfg.Trading.Mode != ModeVolume && cfg.Trading.Mode != ModeDual {
		return fmt.Errorf("trading.mode must be %q or %q", ModeVolume, ModeDual)
	}
	if cfg.Trading.Symbol == "" {
		return errors.New("trading.symbol is required")
	}
	if cfg.Trading.Leverage < 1 || cfg.Trading.Leverage > 100 {
		return errors.New("trading.leverage must be between 1 and 100")
	}
	if cfg.Trading.LiquidityMultiplier < 1 {
		return errors.New("trading.liquidity_multiplier must be at least 1")
	}
	if cfg.Trading.BalancePercentage < 1 || cfg.Trading.BalancePercentage > 100 {
		return errors.New("trading.balance_percentage must be between 1 and 100")
	}
	if cfg.Trading.MaxLossUSDT <= 0 {
		return errors.New("trading.max_loss_usdt must be > 0")
	}
	if cfg.Trading.MinCycleDelay < 0 {
		return errors.New("trading.min_cycle_delay must be non-negative")
	}
	if cfg.Trading.MaxCycleDelay < cfg.Trading.MinCycleDelay {
		return errors.New("trading.max_cycle_delay must be >= trading.min_cycle_delay")
	}
	if cfg.Trading.Mode == ModeVolume {
		if cfg.Volume.MinHold < time.Second {
			return errors.New("volume.min_hold must be at least 1s")
		}
		if cfg.Volume.MaxHold < cfg.Volume.MinHold {
			return errors.New("volume.max_hold must be >= volume.min_hold")
		}
	}
	if cfg.Trading.Mode == ModeDual {
		if cfg.Dual.MaxPositionDeviationPercent <= 0 {
			return errors.New("dual.max_position_deviation_percent must be > 0")
		}
		if cfg.Dual.MinHold < time.Second {
			return errors.New("dual.min_hold must be at least 1s")
		}
		if cfg.Dual.MaxHold < cfg.Dual.MinHold {
			return errors.New("dual.max_hold must be >= dual.min_hold")
		}
	}
	return nil
}

// LoadCredentials reads API key pairs from the environment. The second pair
// is required only in dual mode.
func LoadCredentials(mode string) (Credentials, Credentials, error) {
	primary := Credentials{
		APIKey:    strings.TrimSpace(os.Getenv("ASTER_API_KEY")),
		APISecret: strings.TrimSpace(os.Getenv("ASTER_API_SECRET")),
	}
	if primary.APIKey == "" || primary.APISecret == "" {
		return Credentials{}, Credentials{}, errors.New("ASTER_API_KEY and ASTER_API_SECRET are required")
	}
	secondary := Credentials{
		APIKey:    strings.TrimSpace(os.Getenv("ASTER_API_KEY2")),
		APISecret: strings.TrimSpace(os.Getenv("ASTER_API_SECRET2")),
	}
	if mode == ModeDual && (secondary.APIKey == "" || secondary.APISecret == "") {
		return Credentials{}, Credentials{}, errors.New("ASTER_API_KEY2 and ASTER_API_SECRET2 are required for dual mode")
	}
	return primary, secondary, nil
}
