package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/phuslu/log"
)

// debounceDelay coalesces the event bursts editors produce on save.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk and hands
// the validated result to a callback. A file that fails to parse or validate
// is logged and skipped, keeping the running configuration intact.
type Watcher struct {
	fsw  *fsnotify.Watcher
	path string
	base string

	onReload func(*AppConfig)
	log      log.Logger
}

// WatchConfig starts watching configPath. The parent directory is watched
// rather than the file itself so atomic rename-style saves keep working.
func WatchConfig(configPath string, onReload func(*AppConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve config path %s: %w", configPath, err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	// The logger package sits on top of this one, so the component logger
	// is assembled by hand here.
	bl := &log.DefaultLogger
	w := &Watcher{
		fsw:      fsw,
		path:     abs,
		base:     filepath.Base(abs),
		onReload: onReload,
		log: log.Logger{
			Level:        bl.Level,
			TimeField:    bl.TimeField,
			TimeFormat:   bl.TimeFormat,
			TimeLocation: bl.TimeLocation,
			Writer:       bl.Writer,
			Context:      log.NewContext(bl.Context).Str("component", "config_watcher").Value(),
		},
	}
	go w.loop()

	w.log.Info().Str("path", abs).Msg("Watching configuration file for changes")
	return w, nil
}

func (w *Watcher) loop() {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceDelay)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.log.Warn().Err(err).Msg("Config reload failed, keeping current configuration")
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn().Err(err).Msg("Reloaded config is invalid, keeping current configuration")
		return
	}

	w.log.Info().Str("level", cfg.Logging.Defaults.Level).Msg("Configuration reloaded")
	if w.onReload != nil {
		w.onReload(cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
