// Package forward posts observed signals to a webhook.
//
// Posting happens on a single background goroutine so a slow endpoint never
// delays signal handling. A token bucket bounds the post rate; signals over
// the limit are dropped and counted rather than queued.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
	"tools.zach/dev/sigmsg/bridge"
	"tools.zach/dev/sigmsg/internal/metrics"
)

// queueSize bounds events accepted by Send but not yet posted.
const queueSize = 64

// ErrStatus is wrapped by [Forwarder.Post] when the endpoint answers with a
// non-2xx status.
var ErrStatus = errors.New("webhook returned non-success status")

// Event is the JSON body posted for each signal.
type Event struct {
	Signal string `json:"signal"`
	Number int    `json:"number"`
	PID    int    `json:"pid"`
	Host   string `json:"host"`
	Time   string `json:"time"`
}

// Recorder receives one result per forwarding attempt. [*metrics.Manager]
// implements it.
type Recorder interface {
	WebhookResult(result string)
}

// Options configures a [Forwarder].
type Options struct {
	// URL is the webhook endpoint. Empty disables forwarding.
	URL           string
	RatePerSecond float64
	Burst         int
	RetryMax      int
	Timeout       time.Duration
}

// Forwarder posts [Event] values to a webhook.
type Forwarder struct {
	log     *slog.Logger
	rec     Recorder
	limiter *rate.Limiter
	host    string
	pid     int
	now     func() time.Time

	// mu guards url and client, which Update replaces.
	mu     sync.RWMutex
	url    string
	client *retryablehttp.Client

	queue     chan Event
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a Forwarder and starts its posting goroutine. A nil rec is
// allowed.
func New(opts Options, rec Recorder, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	host, _ := os.Hostname()
	f := &Forwarder{
		log:     log,
		rec:     rec,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
		host:    host,
		pid:     os.Getpid(),
		now:     time.Now,
		url:     opts.URL,
		client:  newClient(opts, log),
		queue:   make(chan Event, queueSize),
	}
	f.wg.Add(1)
	go f.run()
	return f
}

func newClient(opts Options, log *slog.Logger) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.HTTPClient.Timeout = opts.Timeout
	// *slog.Logger satisfies retryablehttp.LeveledLogger.
	c.Logger = log
	return c
}

// Update applies new options. Queued events are posted with the new settings.
func (f *Forwarder) Update(opts Options) {
	f.limiter.SetLimit(rate.Limit(opts.RatePerSecond))
	f.limiter.SetBurst(opts.Burst)

	client := newClient(opts, f.log)
	f.mu.Lock()
	f.url = opts.URL
	f.client = client
	f.mu.Unlock()
}

// Enabled reports whether a URL is configured.
func (f *Forwarder) Enabled() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.url != ""
}

// Send queues sig for posting without blocking. It reports false when
// forwarding is disabled or the signal was dropped by the rate limit or a
// full queue.
func (f *Forwarder) Send(sig bridge.Signal) bool {
	if !f.Enabled() {
		return false
	}
	if !f.limiter.Allow() {
		f.record(metrics.ResultLimited)
		f.log.Debug("webhook rate limit reached, dropping signal", "signal", sig.String())
		return false
	}
	ev := f.event(sig)
	select {
	case f.queue <- ev:
		return true
	default:
		f.record(metrics.ResultQueueFull)
		f.log.Warn("webhook queue full, dropping signal", "signal", sig.String())
		return false
	}
}

func (f *Forwarder) event(sig bridge.Signal) Event {
	return Event{
		Signal: sig.String(),
		Number: sig.Number(),
		PID:    f.pid,
		Host:   f.host,
		Time:   f.now().UTC().Format(time.RFC3339),
	}
}

// Post sends ev synchronously, retrying on connection errors and 5xx
// responses.
func (f *Forwarder) Post(ctx context.Context, ev Event) error {
	f.mu.RLock()
	url, client := f.url, f.client
	f.mu.RUnlock()
	if url == "" {
		return errors.New("webhook url not configured")
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sigmsg")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}
	return nil
}

// run posts queued events until the queue is closed.
func (f *Forwarder) run() {
	defer f.wg.Done()
	for ev := range f.queue {
		if err := f.Post(context.Background(), ev); err != nil {
			f.record(metrics.ResultFailed)
			f.log.Warn("webhook post failed", "signal", ev.Signal, "error", err)
			continue
		}
		f.record(metrics.ResultSent)
		f.log.Debug("webhook post sent", "signal", ev.Signal)
	}
}

func (f *Forwarder) record(result string) {
	if f.rec != nil {
		f.rec.WebhookResult(result)
	}
}

// Close stops accepting events, posts what is queued, and waits for the
// posting goroutine. Send must not be called after Close.
func (f *Forwarder) Close() {
	f.closeOnce.Do(func() { close(f.queue) })
	f.wg.Wait()
}
