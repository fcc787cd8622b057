package shopcore

import (
	"context"

	"go.uber.org/zap"
)

// The Personalizer describes an intermediate server or service which can be used to personalize the base data
// definitions defined for the economy engine systems, such as deployment-specific catalog or pricing overrides.
type Personalizer interface {
	// GetValue returns a config which has been modified for a system,
	// or nil if the config is not being adjusted by this personalizer.
	GetValue(ctx context.Context, logger *zap.Logger, system System, identity string) (config any, err error)
}
