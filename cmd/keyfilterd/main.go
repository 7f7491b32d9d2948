// keyfilterd - Accessibility keyboard filter daemon
//
// keyfilterd reads keyboard events from the OS input layer, runs them
// through a chain of accessibility filters (sticky keys, slow keys,
// bounce keys), and reports the filtered stream. Features are configured
// through a TOML config file (reloaded on change) or over D-Bus at
// runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"keyfilterd/internal/config"
	"keyfilterd/internal/evdev"
	"keyfilterd/internal/event"
	"keyfilterd/internal/filter"
	"keyfilterd/internal/ipc"
	"keyfilterd/internal/logging"
	"keyfilterd/internal/watcher"
)

var version = "0.3.0"

const reloadDebounce = 500 * time.Millisecond

func main() {
	var (
		configPath  = flag.String("config", config.DefaultPath(), "path to config file")
		logLevel    = flag.String("log-level", "", "override log level (debug, info, warn, error)")
		logFormat   = flag.String("log-format", "", "override log format (text, json)")
		checkOnly   = flag.Bool("check", false, "check keyboard availability and exit")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("keyfilterd %s\n", version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keyfilterd: %v\n", err)
		os.Exit(1)
	}

	if err := setupLogging(cfg, *logLevel, *logFormat); err != nil {
		fmt.Fprintf(os.Stderr, "keyfilterd: %v\n", err)
		os.Exit(1)
	}

	source := evdev.New(evdev.Options{
		Grab:            cfg.Devices.Grab,
		IncludeInternal: cfg.Devices.IncludeInternal,
	})

	if *checkOnly {
		ok, reason := source.Available()
		fmt.Println(reason)
		if !ok {
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *configPath, source); err != nil {
		logging.Error("daemon failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config, levelOverride, formatOverride string) error {
	levelStr := cfg.Logging.Level
	if levelOverride != "" {
		levelStr = levelOverride
	}
	level, err := logging.ParseLevel(levelStr)
	if err != nil {
		return err
	}

	formatStr := cfg.Logging.Format
	if formatOverride != "" {
		formatStr = formatOverride
	}
	format, err := logging.ParseFormat(formatStr)
	if err != nil {
		return err
	}

	logging.SetDefault(logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		Component: "keyfilterd",
	}))
	return nil
}

func run(cfg *config.Config, configPath string, source evdev.Source) error {
	receiver := &receiver{log: logging.Default().WithComponent("output")}

	d := &daemon{
		cfg: cfg,
		f:   filter.New(receiver),
	}
	if err := d.f.ApplyConfig(cfg.FilterConfig()); err != nil {
		// Partial chain is installed; keep running with what we have.
		logging.Warn("initial filter config partially applied", "error", err)
	}
	defer d.f.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := source.Start(ctx); err != nil {
		if errors.Is(err, evdev.ErrNotAvailable) {
			logging.Warn("no readable keyboard devices, running without input",
				"hint", "join the 'input' group or run as root")
		} else {
			return fmt.Errorf("start keyboard source: %w", err)
		}
	} else {
		defer source.Stop()
	}

	w, err := watcher.New(configPath, reloadDebounce)
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		logging.Warn("config watcher unavailable, live reload disabled", "error", err)
		w = nil
	} else {
		defer w.Stop()
	}

	if cfg.IPC.Enabled {
		server := ipc.NewServer(d)
		if err := server.Start(); err != nil {
			logging.Warn("control interface unavailable", "error", err)
		} else {
			receiver.setIPC(server)
			defer server.Stop()
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	logging.Info("keyfilterd started",
		"version", version,
		"config", configPath,
		"filters_enabled", d.f.IsEnabled())

	var reloads <-chan struct{}
	var watchErrs <-chan error
	if w != nil {
		reloads = w.Reloads()
		watchErrs = w.Errors()
	}

	for {
		select {
		case sig := <-sigChan:
			logging.Info("shutting down", "signal", sig.String())
			return nil

		case ev, ok := <-source.Events():
			if !ok {
				return errors.New("keyboard source closed unexpectedly")
			}
			d.f.NotifyKey(&ev)

		case devices, ok := <-source.DeviceChanges():
			if !ok {
				return errors.New("keyboard source closed unexpectedly")
			}
			logging.Info("keyboard devices changed", "count", len(devices))
			d.f.NotifyDevicesChanged(devices)

		case <-reloads:
			d.reloadConfig(configPath)

		case err := <-watchErrs:
			logging.Warn("config watcher error", "error", err)
		}
	}
}

// daemon ties the filter chain to its configuration. It implements
// ipc.Controller so D-Bus callers and the config reloader share one
// reconfiguration path.
type daemon struct {
	mu  sync.Mutex
	cfg *config.Config
	f   *filter.InputFilter
}

func (d *daemon) IsEnabled() bool {
	return d.f.IsEnabled()
}

func (d *daemon) Features() (bool, int64, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	feat := d.cfg.Features
	return feat.StickyKeys, feat.SlowKeysThresholdMs, feat.BounceKeysThresholdMs
}

func (d *daemon) SetFeatures(sticky bool, slowMs, bounceMs int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	updated := *d.cfg
	updated.Features = config.FeaturesConfig{
		StickyKeys:            sticky,
		SlowKeysThresholdMs:   slowMs,
		BounceKeysThresholdMs: bounceMs,
	}
	if err := config.Validate(&updated); err != nil {
		return err
	}
	if err := d.f.ApplyConfig(updated.FilterConfig()); err != nil {
		return err
	}
	d.cfg = &updated
	logging.Info("features updated over control interface",
		"sticky_keys", sticky, "slow_keys_ms", slowMs, "bounce_keys_ms", bounceMs)
	return nil
}

func (d *daemon) reloadConfig(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		logging.Warn("config reload rejected", "error", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.f.ApplyConfig(cfg.FilterConfig()); err != nil {
		logging.Warn("reloaded config partially applied", "error", err)
	}
	d.cfg = cfg
	logging.Info("config reloaded", "path", path)
}

// receiver implements filter.Callbacks for the in-process host: filtered
// events are logged, modifier state changes are broadcast over D-Bus, and
// timer threads are plain goroutines.
type receiver struct {
	log *logging.Logger

	mu  sync.Mutex
	ipc *ipc.Server
}

func (r *receiver) setIPC(server *ipc.Server) {
	r.mu.Lock()
	r.ipc = server
	r.mu.Unlock()
}

func (r *receiver) SendKeyEvent(ev *event.KeyEvent) error {
	r.log.Debug("filtered key event",
		"device", ev.DeviceID,
		"keycode", ev.KeyCode,
		"action", ev.Action.String(),
		"meta_state", ev.MetaState)
	return nil
}

func (r *receiver) OnModifierStateChanged(pressed, locked event.ModifierState) error {
	r.log.Info("modifier state changed",
		"pressed", pressed.String(), "locked", locked.String())

	r.mu.Lock()
	server := r.ipc
	r.mu.Unlock()
	if server != nil {
		server.EmitModifierStateChanged(uint32(pressed), uint32(locked))
	}
	return nil
}

func (r *receiver) CreateFilterThread(loopOnce filter.ThreadCallback) (filter.Thread, error) {
	return filter.StartLooperThread(loopOnce), nil
}
