package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/trainforge/internal/config"
	"github.com/vk/trainforge/internal/ctxlog"
	"github.com/vk/trainforge/internal/hcl"
	"github.com/vk/trainforge/internal/registry"
	"github.com/vk/trainforge/internal/yamlcfg"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	config   *Config
	model    *config.Model
	registry *registry.Registry
	health   *health
	getenv   func(string) string
}

// DefaultLoaders returns the HCL and YAML loaders.
func DefaultLoaders() []config.Loader {
	return []config.Loader{hcl.NewLoader(), yamlcfg.NewLoader()}
}

// NewApp loads every configuration document and prepares the model
// registry. Command output goes to outW and logs to logW.
func NewApp(outW, logW io.Writer, cfg *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	m, err := config.Load(ctx, DefaultLoaders(), cfg.ConfigPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded.", "records", m.Len())

	reg := newRegistry(modules...)
	logger.Debug("Model architectures registered.", "count", len(reg.Names()))

	return &App{
		outW:     outW,
		logger:   logger,
		config:   cfg,
		model:    m,
		registry: reg,
		health:   newHealth(),
		getenv:   os.Getenv,
	}, nil
}

// Model returns the loaded configuration. This is primarily for testing.
func (a *App) Model() *config.Model {
	return a.model
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
