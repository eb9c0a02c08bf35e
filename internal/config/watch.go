package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads path whenever it is written or replaced and hands each valid
// configuration to onChange. Invalid files are logged and skipped. Blocks
// until ctx is cancelled.
//
// The parent directory is watched rather than the file so that
// rename-on-save editors keep working.
func Watch(ctx context.Context, path string, debounce time.Duration, onChange func(*Config)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watch: %w", err)
	}
	slog.Info("config: watching for changes", "path", abs)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			slog.Debug("config: change detected", "op", ev.Op.String(), "file", ev.Name)
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config: watcher error", "error", err)

		case <-timer.C:
			cfg, err := Load(abs)
			if err != nil {
				slog.Warn("config: reload failed, keeping previous configuration", "path", abs, "error", err)
				continue
			}
			slog.Info("config: reloaded", "path", abs)
			onChange(cfg)
		}
	}
}

// Diff lists the hot-reloadable fields that differ between old and new.
func Diff(old, new *Config) []string {
	var changes []string
	if old.Target != new.Target {
		changes = append(changes, fmt.Sprintf("target: %dx%d → %dx%d",
			old.Target.Width, old.Target.Height, new.Target.Width, new.Target.Height))
	}
	if old.Audio() != new.Audio() {
		changes = append(changes, fmt.Sprintf("play_audio: %v → %v", old.Audio(), new.Audio()))
	}
	if old.Video() != new.Video() {
		changes = append(changes, fmt.Sprintf("play_video: %v → %v", old.Video(), new.Video()))
	}
	if old.Background != new.Background {
		changes = append(changes, fmt.Sprintf("background: %s → %s", old.Background, new.Background))
	}
	if old.Source != new.Source {
		changes = append(changes, fmt.Sprintf("source: %s → %s", old.Source, new.Source))
	}
	return changes
}
