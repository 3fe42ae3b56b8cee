package forward

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tools.zach/dev/sigmsg/bridge"
	"tools.zach/dev/sigmsg/internal/metrics"
)

// ///////////////////////////////////////////////
// Helpers
// ///////////////////////////////////////////////

type countingRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *countingRecorder) WebhookResult(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = map[string]int{}
	}
	r.results[result]++
}

func (r *countingRecorder) get(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func quiet() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newForwarder(t *testing.T, url string, rec Recorder) *Forwarder {
	t.Helper()
	f := New(Options{URL: url, RatePerSecond: 100, Burst: 100, RetryMax: 2, Timeout: 2 * time.Second}, rec, quiet())
	f.client.RetryWaitMin = time.Millisecond
	f.client.RetryWaitMax = 5 * time.Millisecond
	t.Cleanup(f.Close)
	return f
}

// ///////////////////////////////////////////////
// Post
// ///////////////////////////////////////////////

func TestPostPayload(t *testing.T) {
	var got Event
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	f := newForwarder(t, srv.URL, nil)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return fixed }

	if err := f.Post(context.Background(), f.event(bridge.SIGHUP)); err != nil {
		t.Fatalf("Post: %v", err)
	}
	want := Event{Signal: "SIGHUP", Number: 1, PID: f.pid, Host: f.host, Time: "2026-03-01T12:00:00Z"}
	if got != want {
		t.Errorf("payload = %+v, want %+v", got, want)
	}
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
}

func TestPostRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newForwarder(t, srv.URL, nil)
	if err := f.Post(context.Background(), f.event(bridge.SIGTERM)); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPostClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	f := newForwarder(t, srv.URL, nil)
	err := f.Post(context.Background(), f.event(bridge.SIGTERM))
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("Post error = %v, want ErrStatus", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestPostNoURL(t *testing.T) {
	f := newForwarder(t, "", nil)
	if err := f.Post(context.Background(), Event{}); err == nil {
		t.Fatal("expected error without url")
	}
	if f.Send(bridge.SIGHUP) {
		t.Error("Send() = true with forwarding disabled")
	}
}

// ///////////////////////////////////////////////
// Send
// ///////////////////////////////////////////////

func TestSendDeliversInBackground(t *testing.T) {
	received := make(chan string, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		json.NewDecoder(r.Body).Decode(&ev)
		received <- ev.Signal
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	f := newForwarder(t, srv.URL, rec)
	for _, s := range []bridge.Signal{bridge.SIGHUP, bridge.SIGALRM} {
		if !f.Send(s) {
			t.Fatalf("Send(%v) = false", s)
		}
	}
	f.Close()

	if len(received) != 2 {
		t.Fatalf("posted %d events, want 2", len(received))
	}
	if first := <-received; first != "SIGHUP" {
		t.Errorf("first posted = %q, want SIGHUP", first)
	}
	if got := rec.get(metrics.ResultSent); got != 2 {
		t.Errorf("sent results = %d, want 2", got)
	}
}

func TestSendRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	rec := &countingRecorder{}
	f := New(Options{URL: srv.URL, RatePerSecond: 0.001, Burst: 2, Timeout: time.Second}, rec, quiet())
	defer f.Close()

	accepted := 0
	for range 5 {
		if f.Send(bridge.SIGHUP) {
			accepted++
		}
	}
	if accepted != 2 {
		t.Errorf("accepted = %d, want burst of 2", accepted)
	}
	if got := rec.get(metrics.ResultLimited); got != 3 {
		t.Errorf("rate_limited results = %d, want 3", got)
	}
}

func TestSendQueueFull(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	f := New(Options{URL: srv.URL, RatePerSecond: 1000, Burst: queueSize + 10, Timeout: 5 * time.Second}, rec, quiet())

	// The first event occupies the poster, so the queue holds queueSize more.
	f.Send(bridge.SIGHUP)
	<-entered
	accepted := 0
	for range queueSize + 1 {
		if f.Send(bridge.SIGHUP) {
			accepted++
		}
	}
	close(release)
	f.Close()

	if accepted != queueSize {
		t.Errorf("accepted = %d, want %d", accepted, queueSize)
	}
	if got := rec.get(metrics.ResultQueueFull); got != 1 {
		t.Errorf("queue_full results = %d, want 1", got)
	}
	if got := rec.get(metrics.ResultLimited); got != 0 {
		t.Errorf("rate_limited results = %d, want 0", got)
	}
}

func TestFailedPostRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &countingRecorder{}
	f := newForwarder(t, srv.URL, rec)
	f.Send(bridge.SIGINT)
	f.Close()

	if got := rec.get(metrics.ResultFailed); got != 1 {
		t.Errorf("failed results = %d, want 1", got)
	}
}

func TestUpdate(t *testing.T) {
	hits := make(chan string, 2)
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits <- "a" }))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { hits <- "b" }))
	defer b.Close()

	f := newForwarder(t, a.URL, nil)
	f.Update(Options{URL: b.URL, RatePerSecond: 10, Burst: 1, Timeout: time.Second})

	if err := f.Post(context.Background(), f.event(bridge.SIGHUP)); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if got := <-hits; got != "b" {
		t.Errorf("posted to %q after Update, want b", got)
	}
	if f.limiter.Burst() != 1 {
		t.Errorf("burst = %d after Update, want 1", f.limiter.Burst())
	}

	f.Update(Options{RatePerSecond: 10, Burst: 1})
	if f.Enabled() {
		t.Error("Enabled() = true after clearing url")
	}
}

func TestCloseIdempotent(t *testing.T) {
	f := New(Options{RatePerSecond: 1, Burst: 1}, nil, quiet())
	f.Close()
	f.Close()
}
