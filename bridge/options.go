package bridge

import "log/slog"

// Observer receives counts from the dispatch goroutine. Implementations must
// not block and must not call [Bridge.Close]: they run on the goroutine that
// Close waits for.
type Observer interface {
	// SignalDelivered is called once per dispatched signal with the number of
	// receivers it reached.
	SignalDelivered(sig Signal, receivers int)
	// ReceiversPruned reports receivers removed after they were dropped.
	ReceiversPruned(n int)
	// UnsupportedByte reports a pipe byte that is not a catalog signal.
	UnsupportedByte(b byte)
	// Subscribers reports the current registry size after it changes.
	Subscribers(n int)
}

// Option configures a bridge created by [New].
type Option func(*options)

type options struct {
	log *slog.Logger
	obs Observer
}

// WithLogger sets the logger used by the dispatch goroutine. The relay never
// logs. By default nothing is logged.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver attaches an [Observer].
func WithObserver(obs Observer) Option {
	return func(o *options) { o.obs = obs }
}
