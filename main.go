package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botcore/internal/api"
	"botcore/internal/decision"
	"botcore/internal/events"
	"botcore/internal/execution"
	"botcore/internal/gateway"
	"botcore/internal/market"
	"botcore/internal/orchestrator"
	"botcore/internal/risk"
	"botcore/internal/run"
	strat "botcore/internal/signal"
	"botcore/pkg/config"
	"botcore/pkg/crypto"
	"botcore/pkg/db"
	"botcore/pkg/exchanges/binance"
)

const buildVersion = "0.3.0"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting bot core on port %s (live=%v)", cfg.Port, cfg.LiveEnabled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	rec := events.NewRecorder(database, bus, cfg.InstanceID)

	if os.Getenv("MASTER_ENCRYPTION_KEY") == "" {
		key, kerr := crypto.GenerateKey()
		if kerr != nil {
			log.Fatalf("generate ephemeral encryption key: %v", kerr)
		}
		os.Setenv("MASTER_ENCRYPTION_KEY", key)
		log.Println("MASTER_ENCRYPTION_KEY not set; using ephemeral key, stored credentials will not survive restart")
	}
	keys, err := crypto.NewKeyManager()
	if err != nil {
		log.Fatalf("key manager init failed: %v", err)
	}

	// Market data rides the public endpoints; no credentials needed.
	publicGateway := binance.New(binance.Config{Testnet: cfg.BinanceTestnet})
	provider := market.NewProvider(publicGateway)
	market.NewStreamFeed(provider, cfg.StreamSymbols, cfg.BinanceTestnet).Start(ctx)

	profiles := strat.DefaultProfiles()
	if cfg.ProfilesPath != "" {
		profiles, err = strat.LoadProfiles(cfg.ProfilesPath)
		if err != nil {
			log.Fatalf("strategy profiles load failed: %v", err)
		}
	}

	selector := decision.NewSelector(profiles)
	advisor := decision.NewAdvisor(cfg.AdvisorURL, cfg.AdvisorAPIKey)
	if advisor.Enabled() {
		log.Printf("ai advisor enabled at %s", cfg.AdvisorURL)
	}

	gateways := gateway.NewManager(database, keys, gateway.DefaultFactory(cfg.BinanceTestnet))
	tripBreaker := execution.NewTripBreaker(database, rec)

	orch := &orchestrator.Orchestrator{
		DB:       database,
		Rec:      rec,
		Market:   provider,
		Selector: selector,
		Advisor:  advisor,
		Risk:     risk.NewInputsBuilder(database, risk.DefaultGuardrails()),
		Paper:    execution.NewPaperEngine(database, rec),
		Live: execution.NewLiveEngine(database, rec, gateways, tripBreaker, execution.LiveConfig{
			LiveEnabled: cfg.LiveEnabled,
			ArmCooldown: cfg.ArmCooldown,
		}),
		LiveEnabled:  cfg.LiveEnabled,
		TickInterval: cfg.TickInterval,
	}

	runs := run.NewManager(database, rec, run.Config{
		LiveEnabled:   cfg.LiveEnabled,
		ArmCooldown:   cfg.ArmCooldown,
		ArmRequestTTL: cfg.ArmRequestTTL,
	})

	// Tick loop
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				orch.TickAll(ctx)
			}
		}
	}()

	// API
	server := api.NewServer(
		bus,
		rec,
		database,
		runs,
		orch,
		keys,
		api.SystemMeta{
			LiveEnabled: cfg.LiveEnabled,
			Venue:       "binance",
			Version:     buildVersion,
		},
		cfg.JWTSecret,
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}
