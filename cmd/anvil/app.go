package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"anvil/internal/adapter/command"
	"anvil/internal/adapter/llm"
	"anvil/internal/adapter/store"
	"anvil/internal/infra/config"
	"anvil/internal/infra/logger"
	"anvil/internal/infra/tracer"
	"anvil/internal/plugin"
	"anvil/internal/plugin/builtin"
	"anvil/internal/usecase/orchestrator"
)

// app holds the wired harness. close releases everything in reverse order.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    *store.SQLiteStore
	router   *llm.ModelRouter
	provider *llm.Provider
	plugins  *plugin.Manager
	commands *command.Registry
	orch     *orchestrator.Orchestrator

	closers []func() error
}

// newApp wires config, logging, tracing, the session store, the model router,
// plugins, the command registry and the orchestrator, then initializes the
// harness.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	// 1. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a.log = log
	a.closers = append(a.closers, logCloser)

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("tracer: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracerShutdown(shutdownCtx)
	})

	// 2. Session store
	a.store, err = store.NewSQLiteStore(cfg.Sessions.DBPath)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("session store: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	// 3. LLM backends
	a.router, err = llm.NewRouterFromConfig(cfg.LLM, logger.Component(log, "llm"))
	if err != nil {
		a.close()
		return nil, fmt.Errorf("llm: %w", err)
	}

	// 4. Plugins and commands
	a.plugins = plugin.NewManager(logger.Component(log, "plugin"))
	a.closers = append(a.closers, a.plugins.Shutdown)

	a.commands = command.NewRegistry(cfg.Skills.Dir, logger.Component(log, "commands"))
	a.commands.Load()

	// 5. Run provider and orchestrator
	a.provider = llm.NewProvider(llm.Options{
		Client:            a.router,
		Store:             a.store,
		Tools:             a.plugins.Tools(),
		Models:            a.router.Models(),
		Model:             startModel(cfg),
		SystemPrompt:      cfg.Harness.SystemPrompt,
		MaxToolIterations: cfg.Harness.MaxToolIterations,
		Counter:           llm.NewTiktokenCounter(),
		Logger:            logger.Component(log, "provider"),
	})
	a.closers = append(a.closers, a.provider.Close)

	a.orch = orchestrator.New(orchestrator.Deps{
		Provider: a.provider,
		Commands: a.commands,
		Plugins:  a.plugins,
		Logger:   logger.Component(log, "orchestrator"),
		Limits:   cfg.Harness.Limits,
	})
	a.closers = append(a.closers, func() error { a.orch.Close(); return nil })

	a.plugins.SetEmitter(a.orch.Emit)
	if cfg.Plugins.Enabled {
		for _, name := range cfg.Plugins.Builtin {
			p, ok := builtinPlugin(name)
			if !ok {
				log.Warn("unknown builtin plugin", "name", name)
				continue
			}
			if err := a.plugins.Load(p); err != nil {
				a.close()
				return nil, fmt.Errorf("plugin %s: %w", name, err)
			}
		}
	}

	// 6. Initialize
	if err := a.orch.Initialize(ctx); err != nil {
		a.close()
		return nil, err
	}

	log.Info("anvil starting",
		"provider", cfg.LLM.DefaultProvider,
		"model", a.provider.CurrentModel(),
		"commands", len(a.commands.List()),
		"plugins", len(a.plugins.List()),
	)
	return a, nil
}

// close releases resources in reverse acquisition order.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// startModel is the --model flag or the default provider's model.
func startModel(cfg *config.Config) string {
	if modelFlag != "" {
		return modelFlag
	}
	if pc := cfg.DefaultProviderConfig(); pc != nil {
		return pc.Model
	}
	return ""
}

func builtinPlugin(name string) (plugin.Plugin, bool) {
	switch name {
	case "toolstats":
		return builtin.NewToolStats(), true
	case "workspace":
		return builtin.NewWorkspace("."), true
	}
	return nil, false
}
