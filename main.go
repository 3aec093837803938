package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"arb-engine/internal/engine"
	"arb-engine/pkg/config"
	"arb-engine/pkg/exchanges/hyperliquid"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Without a Hyperliquid key the engine still trades Binance and consumes
	// Hyperliquid market data.
	var signer hyperliquid.Signer
	if cfg.HyperliquidKey != "" {
		wallet, err := hyperliquid.NewWallet(cfg.HyperliquidKey)
		if err != nil {
			log.Fatalf("❌ hyperliquid wallet: %v", err)
		}
		if cfg.HyperliquidAddress == "" {
			cfg.HyperliquidAddress = wallet.Address()
		}
		signer = wallet
	}
	eng := engine.New(cfg, signer)

	log.Printf("✓ engine starting (dry_run=%v, strategies=%v)", cfg.DryRun, cfg.StrategiesEnabled)
	if err := eng.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("❌ engine: %v", err)
	}
	log.Printf("✓ engine stopped")
}
