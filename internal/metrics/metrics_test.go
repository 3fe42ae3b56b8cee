package metrics

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"tools.zach/dev/sigmsg/bridge"
)

// ///////////////////////////////////////////////
// Observer
// ///////////////////////////////////////////////

func TestObserverCounters(t *testing.T) {
	m := NewManager(true)

	m.SignalDelivered(bridge.SIGHUP, 2)
	m.SignalDelivered(bridge.SIGHUP, 1)
	m.SignalDelivered(bridge.SIGTERM, 0)
	m.ReceiversPruned(3)
	m.UnsupportedByte(10)
	m.Subscribers(4)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"SIGHUP delivered", testutil.ToFloat64(m.signalsDelivered.WithLabelValues("SIGHUP")), 2},
		{"SIGTERM delivered", testutil.ToFloat64(m.signalsDelivered.WithLabelValues("SIGTERM")), 1},
		{"SIGINT delivered", testutil.ToFloat64(m.signalsDelivered.WithLabelValues("SIGINT")), 0},
		{"pruned", testutil.ToFloat64(m.pruned), 3},
		{"unsupported", testutil.ToFloat64(m.unsupported), 1},
		{"subscribers", testutil.ToFloat64(m.subscribers), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestWebhookAndReloadCounters(t *testing.T) {
	m := NewManager(true)
	m.WebhookResult(ResultSent)
	m.WebhookResult(ResultSent)
	m.WebhookResult(ResultLimited)
	m.WebhookResult(ResultQueueFull)
	m.ConfigReload("signal", nil)
	m.ConfigReload("file", errors.New("bad toml"))

	if got := testutil.ToFloat64(m.webhookPosts.WithLabelValues(ResultSent)); got != 2 {
		t.Errorf("sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.webhookPosts.WithLabelValues(ResultLimited)); got != 1 {
		t.Errorf("rate_limited = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.webhookPosts.WithLabelValues(ResultQueueFull)); got != 1 {
		t.Errorf("queue_full = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reloads.WithLabelValues("file", "error")); got != 1 {
		t.Errorf("file/error reloads = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.reloads.WithLabelValues("signal", "ok")); got != 1 {
		t.Errorf("signal/ok reloads = %v, want 1", got)
	}
}

func TestAllSignalsPreRegistered(t *testing.T) {
	m := NewManager(true)
	if got := testutil.CollectAndCount(m.signalsDelivered); got != len(bridge.All()) {
		t.Errorf("signal series = %d, want %d", got, len(bridge.All()))
	}
}

func TestDisabledManagerIsNoOp(t *testing.T) {
	m := NewManager(false)
	if m.Enabled() || m.Registry() != nil {
		t.Fatal("disabled manager reports enabled")
	}
	m.SignalDelivered(bridge.SIGHUP, 1)
	m.ReceiversPruned(1)
	m.UnsupportedByte(1)
	m.Subscribers(1)
	m.WebhookResult(ResultFailed)
	m.ConfigReload("file", nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("disabled handler status = %d, want 404", rec.Code)
	}
	if err := m.StartServer(context.Background(), "127.0.0.1:0", "/metrics"); err != nil {
		t.Errorf("StartServer on disabled manager = %v, want nil", err)
	}
}

// ///////////////////////////////////////////////
// HTTP
// ///////////////////////////////////////////////

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewManager(true)
	m.SignalDelivered(bridge.SIGALRM, 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`sigmsg_signals_delivered_total{signal="SIGALRM"} 1`,
		"sigmsg_subscribers 0",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	m := NewManager(true)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve(ctx, ln, "/metrics") }()

	url := "http://" + ln.Addr().String() + "/metrics"
	var resp *http.Response
	for range 50 {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "sigmsg_unsupported_bytes_total") {
		t.Errorf("GET status %d, body missing metrics", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Serve returned %v after cancel, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReturnsListenerError(t *testing.T) {
	m := NewManager(true)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ln.Close()

	// ctx is never canceled; Serve must still clean up and return.
	errCh := make(chan error, 1)
	go func() { errCh <- m.Serve(context.Background(), ln, "/metrics") }()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("Serve on a closed listener = nil, want error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after the listener failed")
	}
}
