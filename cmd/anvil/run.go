package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"anvil/internal/adapter/command"
	"anvil/internal/adapter/tui/chat"
	"anvil/internal/adapter/tui/components"
	"anvil/internal/domain"
	"anvil/internal/infra/logger"
	"anvil/internal/usecase/scheduling"
)

const sessionPruneAge = 24 * time.Hour

// runInteractive runs the TUI together with the command watcher and the
// scheduler. Leaving the TUI stops the other two.
func runInteractive(parent context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	sched, err := newScheduler(a)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer stop()
		return chat.Run(gctx, chat.Deps{
			Harness:  a.orch,
			Panes:    a.plugins.Panes().List(),
			Commands: func() []components.CommandDef { return commandDefs(a) },
			Logger:   logger.Component(a.log, "tui"),
		})
	})

	if cfg.Skills.Watch {
		watcher := command.NewWatcher(a.commands, logger.Component(a.log, "watcher"), cfg.Skills.Debounce, func(n int) {
			a.orch.Emit(domain.NewLog(domain.LogInfo, fmt.Sprintf("Reloaded %d commands", n)))
		})
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("command watcher stopped", "error", err)
			}
			return nil
		})
	}

	if sched != nil {
		g.Go(func() error { return sched.Run(gctx) })
	}

	return g.Wait()
}

// newScheduler registers the harness maintenance actions and the configured
// tasks. It returns nil when scheduling is disabled.
func newScheduler(a *app) (*scheduling.Scheduler, error) {
	if !a.cfg.Scheduler.Enabled {
		return nil, nil
	}
	s := scheduling.NewScheduler(logger.Component(a.log, "scheduler"))

	s.RegisterAction(scheduling.ActionSessionRefresh, func(ctx context.Context) error {
		return a.orch.Dispatch(ctx, domain.RefreshSessions{})
	})
	s.RegisterAction(scheduling.ActionCommandReload, func(context.Context) error {
		a.commands.Reload()
		return nil
	})
	s.RegisterAction(scheduling.ActionSessionPrune, func(ctx context.Context) error {
		n, err := a.store.PruneEmpty(ctx, sessionPruneAge, a.orch.State().CurrentSessionID)
		if err != nil {
			return err
		}
		if n > 0 {
			return a.orch.Dispatch(ctx, domain.RefreshSessions{})
		}
		return nil
	})

	for _, t := range a.cfg.Scheduler.Tasks {
		if err := s.AddTask(scheduling.ScheduledTask{
			Name:     t.Name,
			Schedule: t.Schedule,
			Action:   scheduling.ScheduledAction(t.Action),
			OneShot:  t.OneShot,
		}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// commandDefs lists skill and plugin commands for autocomplete.
func commandDefs(a *app) []components.CommandDef {
	defs := []components.CommandDef{{Name: "/commands", Description: "List skill commands", Origin: components.OriginHarness}}
	for _, c := range a.commands.List() {
		desc := c.Description
		if desc == "" {
			desc = c.Skill
		}
		defs = append(defs, components.CommandDef{Name: "/" + c.Name, Description: desc, Origin: components.OriginSkill})
	}
	for _, c := range a.plugins.Commands() {
		if _, ok := a.commands.Get(c.Name); ok {
			continue
		}
		defs = append(defs, components.CommandDef{Name: "/" + c.Name, Description: c.Description, Origin: components.OriginPlugin})
	}
	return defs
}
