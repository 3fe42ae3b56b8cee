// Package metrics exposes the daemon's signal counters to Prometheus.
//
// A [Manager] implements [bridge.Observer], so the bridge reports deliveries,
// pruned receivers, and unsupported bytes straight into its collectors.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tools.zach/dev/sigmsg/bridge"
)

const namespace = "sigmsg"

// Webhook post outcomes used as the "result" label.
const (
	ResultSent      = "sent"
	ResultFailed    = "failed"
	ResultLimited   = "rate_limited"
	ResultQueueFull = "queue_full"
)

// Manager owns the registry and every collector. A disabled Manager accepts
// all calls and records nothing.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	signalsDelivered *prometheus.CounterVec
	receiversReached prometheus.Histogram
	pruned           prometheus.Counter
	unsupported      prometheus.Counter
	subscribers      prometheus.Gauge
	webhookPosts     *prometheus.CounterVec
	reloads          *prometheus.CounterVec
}

var _ bridge.Observer = (*Manager)(nil)

// NewManager creates a Manager. When enabled is false it returns a no-op
// Manager.
func NewManager(enabled bool) *Manager {
	if !enabled {
		return &Manager{}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: reg,
		enabled:  true,
		signalsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_delivered_total",
			Help:      "Signals dispatched by the bridge, by signal name.",
		}, []string{"signal"}),
		receiversReached: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "signal_receivers",
			Help:      "Number of receivers each dispatched signal reached.",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64},
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribers_pruned_total",
			Help:      "Receivers removed after being closed or collected.",
		}),
		unsupported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsupported_bytes_total",
			Help:      "Pipe bytes that did not name a supported signal.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers",
			Help:      "Receivers currently registered with the bridge.",
		}),
		webhookPosts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_posts_total",
			Help:      "Webhook forwarding attempts by result: sent, failed, rate_limited (token bucket empty) or queue_full (post queue full).",
		}, []string{"result"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Config reloads by trigger and outcome.",
		}, []string{"trigger", "result"}),
	}
	reg.MustRegister(m.signalsDelivered, m.receiversReached, m.pruned, m.unsupported, m.subscribers, m.webhookPosts, m.reloads)

	// Pre-create label values so every supported signal is exported as 0.
	for _, s := range bridge.All() {
		m.signalsDelivered.WithLabelValues(s.String())
	}
	for _, r := range []string{ResultSent, ResultFailed, ResultLimited, ResultQueueFull} {
		m.webhookPosts.WithLabelValues(r)
	}
	return m
}

// Enabled reports whether metrics are being recorded.
func (m *Manager) Enabled() bool { return m.enabled }

// Registry returns the underlying registry, or nil when disabled.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// ///////////////////////////////////////////////
// bridge.Observer
// ///////////////////////////////////////////////

// SignalDelivered counts one dispatched signal.
func (m *Manager) SignalDelivered(sig bridge.Signal, receivers int) {
	if !m.enabled {
		return
	}
	m.signalsDelivered.WithLabelValues(sig.String()).Inc()
	m.receiversReached.Observe(float64(receivers))
}

// ReceiversPruned counts receivers dropped by the bridge.
func (m *Manager) ReceiversPruned(n int) {
	if m.enabled {
		m.pruned.Add(float64(n))
	}
}

// UnsupportedByte counts a pipe byte outside the catalog.
func (m *Manager) UnsupportedByte(byte) {
	if m.enabled {
		m.unsupported.Inc()
	}
}

// Subscribers sets the registered receiver gauge.
func (m *Manager) Subscribers(n int) {
	if m.enabled {
		m.subscribers.Set(float64(n))
	}
}

// ///////////////////////////////////////////////
// Daemon Counters
// ///////////////////////////////////////////////

// WebhookResult counts one forwarding attempt. result is one of
// [ResultSent], [ResultFailed], [ResultLimited], [ResultQueueFull].
func (m *Manager) WebhookResult(result string) {
	if m.enabled {
		m.webhookPosts.WithLabelValues(result).Inc()
	}
}

// ConfigReload counts one reload attempt. trigger is "signal" or "file".
func (m *Manager) ConfigReload(trigger string, err error) {
	if !m.enabled {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.WithLabelValues(trigger, result).Inc()
}

// ///////////////////////////////////////////////
// HTTP
// ///////////////////////////////////////////////

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve serves path on ln until ctx is done, then shuts the server down.
// It returns nil after a shutdown caused by ctx. The shutdown goroutine has
// exited by the time Serve returns.
func (m *Manager) Serve(ctx context.Context, ln net.Listener, path string) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	err := server.Serve(ln)
	stop()
	<-stopped
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// StartServer listens on addr and serves path until ctx is done.
func (m *Manager) StartServer(ctx context.Context, addr, path string) error {
	if !m.enabled {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.Serve(ctx, ln, path)
}
