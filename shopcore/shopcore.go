package shopcore

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap"
)

// shopcoreImpl implements the Shopcore interface.
type shopcoreImpl struct {
	logger *zap.Logger

	personalizers []Personalizer
	publishers    []Publisher

	// Store systems in a map by type.
	systems map[SystemType]System
}

// Init initializes a Shopcore type with the configurations provided. Configs
// are processed in the order given; the gateway must be configured before any
// system that persists through it, and wiring between systems happens after
// all of them are built.
func Init(ctx context.Context, logger *zap.Logger, configs ...SystemConfig) (Shopcore, error) {
	sc := &shopcoreImpl{
		logger:        logger,
		personalizers: make([]Personalizer, 0),
		publishers:    make([]Publisher, 0),
		systems:       make(map[SystemType]System),
	}

	for _, config := range configs {
		if err := sc.initSystem(ctx, logger, config); err != nil {
			return nil, err
		}
	}

	// Cross-system wiring: sessions and the economy facade reach their peers
	// through the hub reference.
	if sessions, ok := sc.systems[SystemTypeSessions].(SessionSystem); ok {
		if sc.systems[SystemTypeGateway] == nil {
			logger.Error("session system requires a configured gateway")
			return nil, ErrSystemNotAvailable
		}
		sessions.SetShopcore(sc)
	}
	if economy, ok := sc.systems[SystemTypeEconomy].(EconomySystem); ok {
		economy.SetShopcore(sc)
	}

	return sc, nil
}

// initSystem initializes a specific system based on its type.
func (sc *shopcoreImpl) initSystem(ctx context.Context, logger *zap.Logger, config SystemConfig) error {
	logger.Info("initializing system",
		zap.String("type", config.GetType().String()),
		zap.String("config_file", config.GetConfigFile()))

	var configBytes []byte
	if config.GetConfigFile() != "" {
		var err error
		configBytes, err = os.ReadFile(config.GetConfigFile())
		if err != nil {
			logger.Error("failed to read config file",
				zap.String("config_file", config.GetConfigFile()),
				zap.Error(err))
			return err
		}
	}

	var system System

	switch config.GetType() {
	case SystemTypeRegistry:
		registryConfig := &RegistryConfig{}
		if len(configBytes) > 0 {
			if err := json.Unmarshal(configBytes, registryConfig); err != nil {
				logger.Error("failed to parse registry system config", zap.Error(err))
				return err
			}
		}
		registry, err := NewRegistrySystem(registryConfig, logger)
		if err != nil {
			return err
		}
		system = registry

	case SystemTypeGateway:
		// An injected Gateway instance takes precedence over the SQL default.
		if gateways, ok := config.GetExtra().([]Gateway); ok && len(gateways) > 0 && gateways[0] != nil {
			system = gateways[0]
			break
		}
		gatewayConfig := &GatewayConfig{}
		if len(configBytes) > 0 {
			if err := json.Unmarshal(configBytes, gatewayConfig); err != nil {
				logger.Error("failed to parse gateway system config", zap.Error(err))
				return err
			}
		}
		gateway, err := NewSQLGateway(gatewayConfig, logger)
		if err != nil {
			return err
		}
		system = gateway

	case SystemTypeSessions:
		sessionsConfig := &SessionsConfig{}
		if len(configBytes) > 0 {
			if err := json.Unmarshal(configBytes, sessionsConfig); err != nil {
				logger.Error("failed to parse session system config", zap.Error(err))
				return err
			}
		}
		sessions, err := NewSessionSystem(sessionsConfig, logger)
		if err != nil {
			return err
		}
		system = sessions

	case SystemTypeEconomy:
		economyConfig := &EconomyConfig{}
		if len(configBytes) > 0 {
			if err := json.Unmarshal(configBytes, economyConfig); err != nil {
				logger.Error("failed to parse economy system config", zap.Error(err))
				return err
			}
		}
		system = NewEconomySystem(economyConfig, logger)

	default:
		logger.Error("unknown system type", zap.Uint("type", uint(config.GetType())))
		return ErrBadInput
	}

	// Apply any personalizers to the system config before it goes live.
	for _, personalizer := range sc.personalizers {
		personalized, err := personalizer.GetValue(ctx, logger, system, "")
		if err != nil {
			logger.Warn("failed to get personalized config", zap.Error(err))
			continue
		}
		if personalized != nil {
			logger.Info("applied personalization",
				zap.String("type", system.GetType().String()))
		}
	}

	sc.systems[config.GetType()] = system
	return nil
}

// AddPersonalizer adds a personalizer to the chain.
func (sc *shopcoreImpl) AddPersonalizer(personalizer Personalizer) {
	sc.personalizers = append(sc.personalizers, personalizer)
}

// AddPublisher adds a publisher to the chain.
func (sc *shopcoreImpl) AddPublisher(publisher Publisher) {
	sc.publishers = append(sc.publishers, publisher)
}

// System getter implementations.
func (sc *shopcoreImpl) GetRegistrySystem() RegistrySystem {
	if sys, ok := sc.systems[SystemTypeRegistry].(RegistrySystem); ok {
		return sys
	}
	return nil
}

func (sc *shopcoreImpl) GetGatewaySystem() Gateway {
	if sys, ok := sc.systems[SystemTypeGateway].(Gateway); ok {
		return sys
	}
	return nil
}

func (sc *shopcoreImpl) GetSessionSystem() SessionSystem {
	if sys, ok := sc.systems[SystemTypeSessions].(SessionSystem); ok {
		return sys
	}
	return nil
}

func (sc *shopcoreImpl) GetEconomySystem() EconomySystem {
	if sys, ok := sc.systems[SystemTypeEconomy].(EconomySystem); ok {
		return sys
	}
	return nil
}

// SendPublisherEvents broadcasts events to all registered publishers.
func (sc *shopcoreImpl) SendPublisherEvents(ctx context.Context, logger *zap.Logger, identity string, events []*PublisherEvent) {
	if len(sc.publishers) == 0 || len(events) == 0 {
		return
	}
	for _, publisher := range sc.publishers {
		publisher.Send(ctx, logger, identity, events)
	}
}

// BroadcastSessionStart notifies all publishers that a session became active.
func (sc *shopcoreImpl) BroadcastSessionStart(ctx context.Context, logger *zap.Logger, identity string, token SessionToken) {
	for _, publisher := range sc.publishers {
		publisher.SessionStart(ctx, logger, identity, token)
	}
}

// BroadcastSessionEnd notifies all publishers that a session was retired.
func (sc *shopcoreImpl) BroadcastSessionEnd(ctx context.Context, logger *zap.Logger, identity string, token SessionToken, clean bool) {
	for _, publisher := range sc.publishers {
		publisher.SessionEnd(ctx, logger, identity, token, clean)
	}
}

func (sc *shopcoreImpl) Pump(max int) int {
	gateway := sc.GetGatewaySystem()
	if gateway == nil {
		return 0
	}
	return gateway.Pump(max)
}

func (sc *shopcoreImpl) Tick() {
	sessions := sc.GetSessionSystem()
	if sessions == nil {
		return
	}
	sessions.Tick(time.Now())
}

// Shutdown disconnects every live session, drives their final flushes to
// completion bounded by ctx, then tears the gateway down.
func (sc *shopcoreImpl) Shutdown(ctx context.Context) error {
	gateway := sc.GetGatewaySystem()
	sessions := sc.GetSessionSystem()

	if sessions != nil && gateway != nil {
		sessions.FlushAll(time.Now())
		for sessions.Remaining() > 0 {
			if gateway.Pump(0) == 0 {
				select {
				case <-ctx.Done():
					sc.logger.Warn("shutdown deadline reached with sessions unflushed",
						zap.Int("remaining", sessions.Remaining()))
					goto teardown
				case <-time.After(5 * time.Millisecond):
				}
			}
			sessions.Tick(time.Now())
		}
	}

teardown:
	if gateway != nil {
		return gateway.Shutdown(ctx)
	}
	return nil
}
