package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	"shopforge/shopcore"
)

type bootstrapConfig struct {
	RegistryConfigFile string        `env:"SHOPFORGE_REGISTRY_CONFIG" envDefault:"config/registry.json"`
	GatewayConfigFile  string        `env:"SHOPFORGE_GATEWAY_CONFIG" envDefault:"config/gateway.json"`
	SessionsConfigFile string        `env:"SHOPFORGE_SESSIONS_CONFIG" envDefault:"config/sessions.json"`
	EconomyConfigFile  string        `env:"SHOPFORGE_ECONOMY_CONFIG" envDefault:"config/economy.json"`
	TickInterval       time.Duration `env:"SHOPFORGE_TICK_INTERVAL" envDefault:"100ms"`
	ShutdownTimeout    time.Duration `env:"SHOPFORGE_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	var cfg bootstrapConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal("failed to parse environment", zap.Error(err))
	}

	initStart := time.Now()
	sc, err := shopcore.Init(context.Background(), logger,
		shopcore.WithGatewaySystem(cfg.GatewayConfigFile),
		shopcore.WithRegistrySystem(cfg.RegistryConfigFile),
		shopcore.WithSessionSystem(cfg.SessionsConfigFile),
		shopcore.WithEconomySystem(cfg.EconomyConfigFile),
	)
	if err != nil {
		logger.Fatal("failed to initialize economy engine", zap.Error(err))
	}
	logger.Info("economy engine loaded", zap.Duration("elapsed", time.Since(initStart)))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	// The host simulation loop: completions and periodic maintenance are
	// driven from this single goroutine.
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.Pump(0)
			sc.Tick()
		case sig := <-stop:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := sc.Shutdown(ctx); err != nil {
				logger.Error("shutdown incomplete", zap.Error(err))
				os.Exit(1)
			}
			return
		}
	}
}
