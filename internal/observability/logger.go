// Package observability provides the structured logger and the metric
// instruments shared by the routing and generation services.
package observability

import (
	"fmt"

	"go.uber.org/zap"
)

// NewLogger builds the application logger: production JSON encoding
// everywhere except the "development" environment, which gets the
// human-readable console encoder.
func NewLogger(environment string) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)

	if environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger.With(zap.String("service", "ai-router")), nil
}
