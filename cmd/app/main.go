package main

import (
	"context"
	"flag"
	"log"
	"os"

	"PortfolioAgents/internal/di"
	"PortfolioAgents/pkg/config"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s mode=%s ledger=%s market=%s prices=%s",
		cfg.App.Environment, cfg.Mode, cfg.Ledger.Store, cfg.Market.Store, cfg.Market.PriceSource)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	err = app.Run(context.Background())
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
