// File: internal/engine/engine.go

// Package engine builds the concrete browser engine named by configuration.
package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/forceps/api/schemas"
	"github.com/xkilldash9x/forceps/internal/config"
	"github.com/xkilldash9x/forceps/internal/engine/cdp"
	"github.com/xkilldash9x/forceps/internal/engine/static"
	"github.com/xkilldash9x/forceps/pkg/driver"
)

// New returns the engine for cfg.Kind.
func New(cfg config.EngineConfig, logger *zap.Logger) (driver.Engine, error) {
	switch cfg.Kind {
	case config.EngineCDP:
		return cdp.New(cfg, logger)
	case config.EngineStatic:
		return static.New(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown engine kind %q", schemas.ErrInvalidArgument, cfg.Kind)
	}
}
