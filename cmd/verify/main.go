package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"aster-volume-bot/internal/aster/rest"
	"aster-volume-bot/internal/config"
	"aster-volume-bot/internal/logging"

	"go.uber.org/zap"
)

// verify is a read-only preflight: it checks that credentials sign correctly
// and prints the symbol filters, balances, position mode, and mark price for
// every configured account. It never places an order.
func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	primary, secondary, err := config.LoadCredentials(cfg.Trading.Mode)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	accounts := []struct {
		name  string
		creds config.Credentials
	}{{"primary", primary}}
	if cfg.Trading.Mode == config.ModeDual {
		accounts = append(accounts, struct {
			name  string
			creds config.Credentials
		}{"secondary", secondary})
	}

	symbol := cfg.Trading.Symbol
	for _, acct := range accounts {
		client := rest.New(cfg.REST.BaseURL, acct.creds.APIKey, acct.creds.APISecret,
			cfg.REST.Timeout, cfg.REST.RecvWindow, log)

		filters, err := client.SymbolFilters(ctx, symbol)
		if err != nil {
			fatal(fmt.Errorf("%s: symbol filters: %w", acct.name, err))
		}
		balance, err := client.AvailableBalance(ctx, "USDT")
		if err != nil {
			fatal(fmt.Errorf("%s: balance: %w", acct.name, err))
		}
		hedgeMode, err := client.HedgeMode(ctx)
		if err != nil {
			fatal(fmt.Errorf("%s: position mode: %w", acct.name, err))
		}
		bid, ask, err := client.Depth(ctx, symbol, 5)
		if err != nil {
			fatal(fmt.Errorf("%s: depth: %w", acct.name, err))
		}
		positions, err := client.Positions(ctx, symbol)
		if err != nil {
			fatal(fmt.Errorf("%s: positions: %w", acct.name, err))
		}

		fmt.Printf("account %s\n", acct.name)
		fmt.Printf("  symbol=%s step=%v min_qty=%v min_notional=%v tick=%v\n",
			symbol, filters.StepSize, filters.MinQty, filters.MinNotional, filters.TickSize)
		fmt.Printf("  available_usdt=%.4f hedge_mode=%v mid=%.4f\n", balance, hedgeMode, (bid+ask)/2)
		if len(positions) == 0 {
			fmt.Printf("  open positions: none\n")
		}
		for _, p := range positions {
			fmt.Printf("  open position: side=%s qty=%v entry=%v upnl=%v\n",
				p.Side, p.Quantity, p.EntryPrice, p.UnrealizedPnl)
		}
		log.Info("account verified", zap.String("account", acct.name))
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
