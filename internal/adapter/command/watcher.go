package command

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 300 * time.Millisecond

// Watcher reloads a Registry when files under its skills root change.
// fsnotify is not recursive, so the root, every skill directory and every
// command directory are watched individually and re-added after each reload.
type Watcher struct {
	reg      *Registry
	logger   *slog.Logger
	debounce time.Duration
	onReload func(count int)
}

// NewWatcher creates a watcher for reg. onReload, if non-nil, is called after
// every reload with the new command count.
func NewWatcher(reg *Registry, logger *slog.Logger, debounce time.Duration, onReload func(count int)) *Watcher {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Watcher{reg: reg, logger: logger, debounce: debounce, onReload: onReload}
}

// Run watches until ctx is cancelled. A missing skills root is not an error;
// the watcher then does nothing until ctx ends.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer fw.Close()

	w.addDirs(fw)

	ticker := time.NewTicker(w.debounce / 3)
	defer ticker.Stop()

	var pendingSince time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.logger.Debug("command file changed", "path", ev.Name, "op", ev.Op.String())
			pendingSince = time.Now()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("command watcher error", "error", err)

		case <-ticker.C:
			if pendingSince.IsZero() || time.Since(pendingSince) < w.debounce {
				continue
			}
			pendingSince = time.Time{}
			w.addDirs(fw)
			count := w.reg.Reload()
			w.logger.Info("commands reloaded", "count", count)
			if w.onReload != nil {
				w.onReload(count)
			}
		}
	}
}

// relevant reports whether ev can change the registry contents.
func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasSuffix(base, ".md") {
		return true
	}
	// Directory creations and removals have no extension.
	return filepath.Ext(base) == ""
}

// addDirs watches the root and every skill and command directory below it.
// Adding an already watched path is a no-op in fsnotify.
func (w *Watcher) addDirs(fw *fsnotify.Watcher) {
	root := w.reg.Root()
	if err := fw.Add(root); err != nil {
		w.logger.Debug("skills root not watchable", "root", root, "error", err)
		return
	}
	skills, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, skill := range skills {
		if !skill.IsDir() {
			continue
		}
		skillDir := filepath.Join(root, skill.Name())
		_ = fw.Add(skillDir)
		cmdDir := filepath.Join(skillDir, commandDirName)
		if info, err := os.Stat(cmdDir); err == nil && info.IsDir() {
			_ = fw.Add(cmdDir)
		}
	}
}
