// Package daemon wires the State Store, Child Registry, Message
// Dispatcher, Scheduler Loop, Connection Handler, and External Ingress
// Bridge into one running process, and owns the OS-facing lifecycle: PID
// file, shared secret, signal handling, and config reload, using the
// familiar New/Start/Stop/Run/Reload shape and PID file helpers for a
// single long-lived daemon process.
package daemon

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"firestige.xyz/duskq/internal/bridge"
	"firestige.xyz/duskq/internal/config"
	"firestige.xyz/duskq/internal/connhandler"
	"firestige.xyz/duskq/internal/dispatcher"
	logpkg "firestige.xyz/duskq/internal/log"
	"firestige.xyz/duskq/internal/registry"
	"firestige.xyz/duskq/internal/scheduler"
	"firestige.xyz/duskq/internal/state"
)

// Version is the daemon's protocol/version string, sent to clients on
// handshake.
const Version = "0.1.0"

// hintBuffer sizes the channel the Dispatcher uses to signal the
// Scheduler Loop; generous enough that a burst of client requests never
// blocks a dispatch under the state lock.
const hintBuffer = 64

// Daemon owns every long-lived component and its lifecycle.
type Daemon struct {
	configPath string

	config *config.GlobalConfig
	state  *state.State
	reg    *registry.Registry
	disp   *dispatcher.Dispatcher
	loop   *scheduler.Loop
	server *connhandler.Server
	bridge *bridge.Bridge

	ctx    context.Context
	cancel context.CancelFunc

	hints chan dispatcher.Hint

	sigChan chan os.Signal

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New loads configuration and assembles every component, but starts
// nothing yet.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("daemon: ensure directories: %w", err)
	}

	d := &Daemon{
		configPath: configPath,
		config:     cfg,
		hints:      make(chan dispatcher.Hint, hintBuffer),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes logging, restores persisted state, and launches the
// Scheduler Loop, Connection Handler, and Bridge as background
// goroutines. It returns after launching them; the listener is opened
// inside the Connection Handler's goroutine, so a listen error is logged
// there rather than returned here.
func (d *Daemon) Start() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return fmt.Errorf("daemon: init logging: %w", err)
	}

	slog.Info("starting duskq daemon", "version", Version, "pueue_directory", d.config.Daemon.PueueDirectory)

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}

	secret, err := loadOrCreateSecret(d.config.SharedSecretPath())
	if err != nil {
		return fmt.Errorf("daemon: shared secret: %w", err)
	}

	d.state = state.New()
	if err := d.state.Restore(d.config.StatePath()); err != nil {
		return fmt.Errorf("daemon: restore state: %w", err)
	}
	for name, gc := range d.config.Groups {
		if _, ok := d.state.Group(name); !ok {
			d.state.AddGroup(name, gc.ParallelTasks)
		}
	}
	if g, ok := d.state.Group(state.DefaultGroupName); ok && g.ParallelTasks == 0 {
		g.ParallelTasks = d.config.Daemon.DefaultParallelTasks
	}

	d.reg = registry.New()
	d.disp = dispatcher.New(d.state, d.reg, d.config, Version, d.hints)
	d.loop = scheduler.New(d.state, d.reg, d.config, d.hints)
	d.server = connhandler.New(d.config, d.disp, secret, Version, d.TriggerShutdown)
	d.bridge = bridge.New(d.config.Bridge, d.disp)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop.Run(d.ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.server.Start(d.ctx); err != nil {
			slog.Error("connection handler stopped with error", "error", err)
		}
	}()

	if d.config.Bridge.Enabled {
		if err := d.bridge.Start(d.ctx); err != nil {
			slog.Error("bridge failed to start, continuing without it", "error", err)
		}
	}

	slog.Info("duskq daemon started")
	return nil
}

// Run installs signal handlers and blocks until a shutdown signal, a
// DaemonShutdown request, or ctx cancellation. SIGHUP reloads config.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					slog.Error("config reload failed", "error", err)
				} else {
					slog.Info("config reloaded")
				}
			}
		case <-d.ctx.Done():
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// TriggerShutdown cancels the daemon's context, unwinding Run via the
// ctx.Done() branch. Called by the Connection Handler when a
// DaemonShutdown request dispatches successfully.
func (d *Daemon) TriggerShutdown() {
	d.cancel()
}

// Stop cancels every component's context and waits for their goroutines
// to exit. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() {
		slog.Info("stopping duskq daemon")
		d.cancel()
		if d.bridge != nil {
			d.bridge.Stop()
		}
		d.wg.Wait()
		if d.sigChan != nil {
			signal.Stop(d.sigChan)
		}
		if err := os.Remove(d.config.PidFilePath()); err != nil && !os.IsNotExist(err) {
			slog.Error("failed to remove pid file", "error", err)
		}
		slog.Info("duskq daemon stopped")
	})
}

// Reload re-reads the config file and applies the hot-reloadable subset
// (log level/output, aliases). The new bridge subject is stored in the
// config, but the running bridge keeps its existing subscription. Bridge
// settings, listener addresses, pueue_directory, and TLS material take
// effect only after a restart.
func (d *Daemon) Reload() error {
	newCfg, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("daemon: reload config: %w", err)
	}

	if err := logpkg.Init(newCfg.Log); err != nil {
		slog.Error("failed to reinitialize logging on reload", "error", err)
	}

	d.state.Lock()
	d.config.Log = newCfg.Log
	d.config.Aliases = newCfg.Aliases
	d.config.Bridge.Subject = newCfg.Bridge.Subject
	d.state.Unlock()

	return nil
}

func (d *Daemon) writePIDFile() error {
	return os.WriteFile(d.config.PidFilePath(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// loadOrCreateSecret reads the shared secret file, generating a fresh
// random secret on first run.
func loadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate shared secret: %w", err)
	}
	if err := os.WriteFile(path, secret, 0o600); err != nil {
		return nil, fmt.Errorf("write shared secret: %w", err)
	}
	return secret, nil
}
