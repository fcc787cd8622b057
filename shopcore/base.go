package shopcore

import (
	"context"

	"go.uber.org/zap"
)

var (
	ErrInternal           = NewError("internal error occurred", INTERNAL_ERROR_CODE)
	ErrBadInput           = NewError("bad input", INVALID_ARGUMENT_ERROR_CODE)
	ErrNotFound           = NewError("not found", NOT_FOUND_ERROR_CODE)
	ErrDuplicateKey       = NewError("key already registered", ALREADY_EXISTS_ERROR_CODE)
	ErrInvalidCategory    = NewError("unknown or retired category", NOT_FOUND_ERROR_CODE)
	ErrItemNotForSale     = NewError("item is not for sale", FAILED_PRECONDITION_ERROR_CODE)
	ErrSessionNotFound    = NewError("no session for token", NOT_FOUND_ERROR_CODE)
	ErrSessionNotActive   = NewError("session is not active", FAILED_PRECONDITION_ERROR_CODE)
	ErrInsufficientFunds  = NewError("insufficient credits", FAILED_PRECONDITION_ERROR_CODE)
	ErrCreditCeiling      = NewError("credit ceiling exceeded", FAILED_PRECONDITION_ERROR_CODE)
	ErrStoreTransient     = NewError("store temporarily unavailable", UNAVAILABLE_ERROR_CODE)
	ErrStoreAborted       = NewError("store request aborted", ABORTED_ERROR_CODE)
	ErrStoreFatal         = NewError("store unreachable", INTERNAL_ERROR_CODE)
	ErrTxRolledBack       = NewError("transaction rolled back", ABORTED_ERROR_CODE)
	ErrSystemNotAvailable = NewError("system not available", INTERNAL_ERROR_CODE)
	ErrSystemNotFound     = NewError("system not found", INTERNAL_ERROR_CODE)
)

// Shopcore provides a type which combines all economy engine systems.
type Shopcore interface {
	AddPersonalizer(personalizer Personalizer)

	AddPublisher(publisher Publisher)

	GetRegistrySystem() RegistrySystem
	GetGatewaySystem() Gateway
	GetSessionSystem() SessionSystem
	GetEconomySystem() EconomySystem

	// SendPublisherEvents broadcasts events to all registered publishers.
	SendPublisherEvents(ctx context.Context, logger *zap.Logger, identity string, events []*PublisherEvent)

	// BroadcastSessionStart notifies all publishers that a session became active.
	BroadcastSessionStart(ctx context.Context, logger *zap.Logger, identity string, token SessionToken)

	// BroadcastSessionEnd notifies all publishers that a session was retired.
	BroadcastSessionEnd(ctx context.Context, logger *zap.Logger, identity string, token SessionToken, clean bool)

	// Pump delivers up to max pending persistence completions on the calling
	// goroutine. The host simulation loop is expected to call this every tick.
	Pump(max int) int

	// Tick drives periodic session maintenance (scheduled flushes, load and
	// flush deadlines). Call once per simulation tick after Pump.
	Tick()

	// Shutdown tears the engine down: flushes what it can, then drains the
	// persistence gateway so no continuation fires afterwards.
	Shutdown(ctx context.Context) error
}

// The SystemType identifies each of the economy engine systems.
type SystemType uint

const (
	SystemTypeUnknown SystemType = iota
	SystemTypeRegistry
	SystemTypeGateway
	SystemTypeSessions
	SystemTypeEconomy
)

func (t SystemType) String() string {
	switch t {
	case SystemTypeRegistry:
		return "registry"
	case SystemTypeGateway:
		return "gateway"
	case SystemTypeSessions:
		return "sessions"
	case SystemTypeEconomy:
		return "economy"
	default:
		return "unknown"
	}
}

// A System is a base type for an economy engine system.
type System interface {
	// GetType provides the runtime type of the system.
	GetType() SystemType

	// GetConfig returns the configuration type of the system.
	GetConfig() any
}

// The SystemConfig describes the configuration that each system must use to configure itself.
type SystemConfig interface {
	// GetType returns the runtime type of the system.
	GetType() SystemType

	// GetConfigFile returns the configuration file used for the data definitions in the system.
	GetConfigFile() string

	// GetExtra returns the extra parameter used to configure the system.
	GetExtra() any
}

var _ SystemConfig = &systemConfig{}

type systemConfig struct {
	systemType SystemType
	configFile string

	extra any
}

func (sc *systemConfig) GetType() SystemType {
	return sc.systemType
}
func (sc *systemConfig) GetConfigFile() string {
	return sc.configFile
}
func (sc *systemConfig) GetExtra() any {
	return sc.extra
}

// WithRegistrySystem configures a RegistrySystem type.
func WithRegistrySystem(configFile string) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeRegistry,
		configFile: configFile,
	}
}

// WithGatewaySystem configures the persistence Gateway. An optional Gateway
// instance may be supplied to replace the SQL-backed default, which is useful
// for tests and embedded hosts that manage their own store access.
func WithGatewaySystem(configFile string, gateway ...Gateway) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeGateway,
		configFile: configFile,

		extra: gateway,
	}
}

// WithSessionSystem configures a SessionSystem type.
func WithSessionSystem(configFile string) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeSessions,
		configFile: configFile,
	}
}

// WithEconomySystem configures an EconomySystem type.
func WithEconomySystem(configFile string) SystemConfig {
	return &systemConfig{
		systemType: SystemTypeEconomy,
		configFile: configFile,
	}
}
