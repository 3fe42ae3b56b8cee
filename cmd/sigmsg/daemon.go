package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tools.zach/dev/sigmsg/bridge"
	"tools.zach/dev/sigmsg/internal/config"
	"tools.zach/dev/sigmsg/internal/forward"
	"tools.zach/dev/sigmsg/internal/logger"
	"tools.zach/dev/sigmsg/internal/metrics"
	"tools.zach/dev/sigmsg/internal/watch"
)

// Reload triggers recorded in metrics.
const (
	triggerSignal = "signal"
	triggerFile   = "file"
)

// action is what the control loop does in response to a signal.
type action int

const (
	actionNone action = iota
	actionReload
	actionExit
)

// decide maps a signal on the primary subscriber to a control action.
func decide(cfg *config.Config, sig bridge.Signal) action {
	switch {
	case sig == bridge.SIGHUP:
		return actionReload
	case sig.IsTerminating() && cfg.Watch.ExitOnTerminating:
		return actionExit
	default:
		return actionNone
	}
}

// forwardOptions maps the [webhook] section onto forwarder options.
func forwardOptions(cfg *config.Config) forward.Options {
	return forward.Options{
		URL:           cfg.Webhook.URL,
		RatePerSecond: cfg.Webhook.RatePerSecond,
		Burst:         cfg.Webhook.Burst,
		RetryMax:      cfg.Webhook.RetryMax,
		Timeout:       time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
	}
}

func signalNames(sigs []bridge.Signal) string {
	names := make([]string, len(sigs))
	for i, s := range sigs {
		names[i] = s.String()
	}
	return strings.Join(names, ",")
}

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// daemon owns the bridge and everything that reacts to it.
type daemon struct {
	paths   DataPaths
	log     *slog.Logger
	level   *slog.LevelVar
	metrics *metrics.Manager
	fwd     *forward.Forwarder
	bridge  *bridge.Bridge
	watcher *watch.Watcher

	ctx    context.Context
	cancel context.CancelFunc

	// control carries signals seen by the primary subscriber to run.
	control chan bridge.Signal
	wg      sync.WaitGroup

	mu  sync.RWMutex
	cfg *config.Config
}

// newDaemon creates the bridge and starts the subscribers, the metrics
// server and the config watcher.
func newDaemon(dp DataPaths, cfg *config.Config, level *slog.LevelVar, log *slog.Logger) (*daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &daemon{
		paths:   dp,
		log:     log,
		level:   level,
		metrics: metrics.NewManager(cfg.Metrics.Enabled),
		ctx:     ctx,
		cancel:  cancel,
		control: make(chan bridge.Signal, 16),
		cfg:     cfg,
	}

	b, err := bridge.New(bridge.WithLogger(log), bridge.WithObserver(d.metrics))
	if err != nil {
		cancel()
		return nil, err
	}
	d.bridge = b
	d.fwd = forward.New(forwardOptions(cfg), d.metrics, log)

	for i := range cfg.Watch.Subscribers {
		rcv := b.Subscribe()
		d.wg.Add(1)
		go d.subscriber(i, rcv)
	}
	log.Info("bridge ready", "subscribers", cfg.Watch.Subscribers, "signals", signalNames(cfg.Signals()))

	if d.metrics.Enabled() {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			log.Info("metrics endpoint listening", "addr", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
			if err := d.metrics.StartServer(ctx, cfg.Metrics.Listen, cfg.Metrics.Path); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	w, err := watch.New(dp.Config())
	if err != nil {
		log.Warn("config watcher disabled", "error", err)
	} else {
		d.watcher = w
		if w.Polling() {
			log.Info("using polling mode for config watching")
		}
	}
	return d, nil
}

func (d *daemon) config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// subscriber logs each selected signal. Subscriber 0 is the primary: it also
// forwards to the webhook and hands every signal to the control loop.
func (d *daemon) subscriber(id int, rcv *bridge.Receiver) {
	defer d.wg.Done()
	defer rcv.Close()
	primary := id == 0

	for sig := range rcv.All() {
		if d.config().Matches(sig.String()) {
			d.log.Info("signal received", "signal", sig.String(), "number", sig.Number(), "subscriber", id)
			if primary {
				d.fwd.Send(sig)
			}
		} else {
			logger.Trace(d.log, "signal filtered", "signal", sig.String(), "subscriber", id)
		}
		if !primary {
			continue
		}
		select {
		case d.control <- sig:
		case <-d.ctx.Done():
			return
		}
	}
	logger.Trace(d.log, "subscriber disconnected", "subscriber", id)
}

// run is the control loop. It reloads the config on SIGHUP or a change on
// disk and returns on a terminating signal or when the bridge stops.
func (d *daemon) run() {
	var events <-chan struct{}
	if d.watcher != nil {
		events = d.watcher.Events()
	}

	for {
		select {
		case sig := <-d.control:
			switch decide(d.config(), sig) {
			case actionReload:
				d.reload(triggerSignal)
			case actionExit:
				d.log.Info("received shutdown signal", "signal", sig.String())
				return
			}

		case <-events:
			if d.config().Watch.ReloadOnChange {
				d.reload(triggerFile)
			}

		case <-d.bridge.Done():
			d.log.Warn("bridge stopped")
			return
		}
	}
}

// reload re-reads config.toml and applies what can change at runtime. A bad
// file keeps the current config.
func (d *daemon) reload(trigger string) {
	next, err := config.Load(d.paths.Root)
	d.metrics.ConfigReload(trigger, err)
	if err != nil {
		d.log.Error("config reload failed", "trigger", trigger, "error", err)
		return
	}

	d.mu.Lock()
	prev := d.cfg
	d.cfg = next
	d.mu.Unlock()

	d.level.Set(logger.ParseLevel(next.Log.Level))
	d.fwd.Update(forwardOptions(next))

	if keys := prev.RestartRequired(next); len(keys) > 0 {
		d.log.Warn("config changes take effect on restart", "keys", strings.Join(keys, ", "))
	}
	d.log.Info("config reloaded", "trigger", trigger, "signals", signalNames(next.Signals()))
}

// close stops everything newDaemon started. Closing the bridge disconnects
// the subscribers, so their goroutines finish before the forwarder drains.
func (d *daemon) close() error {
	d.cancel()
	var errs []error
	if d.watcher != nil {
		errs = append(errs, d.watcher.Close())
	}
	errs = append(errs, d.bridge.Close())
	d.wg.Wait()
	d.fwd.Close()
	return errors.Join(errs...)
}
