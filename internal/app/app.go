package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/vk/comfygrid/internal/builtin"
	"github.com/vk/comfygrid/internal/comfyapi"
	"github.com/vk/comfygrid/internal/config"
	"github.com/vk/comfygrid/internal/ctxlog"
	"github.com/vk/comfygrid/internal/engine"
	"github.com/vk/comfygrid/internal/task"
	"github.com/vk/comfygrid/internal/template"
	"github.com/vk/comfygrid/internal/workflow"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	cfg      *Config
	settings *config.Settings
	registry *workflow.Registry
	api      *comfyapi.Client
	store    task.Store
	engine   *engine.Engine
}

// NewApp is the constructor for the main application. It loads settings and
// workflows, opens the task store and builds the engine. Nothing is started.
func NewApp(outW io.Writer, cfg *Config, loader config.Loader, conv config.Converter) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, cfg.ConfigPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Debug("Configuration loaded.", "workflows", len(model.Workflows))

	settings := model.Settings
	if cfg.Server != "" {
		host, port, err := splitServer(cfg.Server)
		if err != nil {
			return nil, err
		}
		settings.Server.Host, settings.Server.Port = host, port
	}
	if cfg.StoreBackend != "" {
		settings.Store.Backend = cfg.StoreBackend
	}

	templates, err := newTemplateStore(cfg.TemplatesPath)
	if err != nil {
		return nil, err
	}

	api, err := comfyapi.NewClient(comfyapi.Endpoint{
		Host: settings.Server.Host,
		Port: settings.Server.Port,
		TLS:  settings.Server.TLS,
	}, comfyapi.Options{
		Timeout:           settings.Server.RequestTimeout,
		RequestsPerSecond: settings.Server.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid server settings: %w", err)
	}

	store, err := openStore(ctx, settings.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open task store: %w", err)
	}

	registry := workflow.NewRegistry(model, conv)
	eng, err := engine.New(engine.Deps{
		Registry:  registry,
		Templates: templates,
		API:       api,
		Store:     store,
		Settings:  settings,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		outW:     outW,
		logger:   logger,
		cfg:      cfg,
		settings: settings,
		registry: registry,
		api:      api,
		store:    store,
		engine:   eng,
	}, nil
}

func newTemplateStore(dir string) (*template.Store, error) {
	if dir == "" {
		return template.NewStore(builtin.Templates()), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("templates path: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("templates path %s is not a directory", dir)
	}
	var overlay fs.FS = os.DirFS(dir)
	return template.NewStore(builtin.Templates(), overlay), nil
}

// Engine returns the application's engine. This is primarily for testing.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Close releases the engine, the store and idle connections.
func (a *App) Close() error {
	err := a.engine.Close()
	err = errors.Join(err, a.store.Close())
	a.api.Close()
	return err
}
