package client

import (
	"context"
	"errors"
	"time"
)

// Transport is a full-duplex frame channel the reconnect loop drives: one
// JSON message per Recv/Send call (spec §6 "each frame is one complete
// JSON message").
type Transport interface {
	FrameSink
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a new Transport, e.g. a websocket handshake against the
// relay's /3gpp-swap/v1 endpoint.
type Dialer func(ctx context.Context) (Transport, error)

// BackoffConfig controls the reconnect loop's exponential backoff (spec
// §4.8: "initial 1 s, multiplier 2, cap 30 s, up to N attempts").
type BackoffConfig struct {
	Initial     time.Duration
	Multiplier  float64
	Cap         time.Duration
	MaxAttempts int // 0 means unlimited
}

// DefaultBackoff returns the default reconnect schedule: 1s initial
// delay, doubling each attempt, capped at 30s (spec §5).
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Initial: time.Second, Multiplier: 2, Cap: 30 * time.Second}
}

func (b BackoffConfig) next(delay time.Duration) time.Duration {
	if delay <= 0 {
		return b.Initial
	}
	next := time.Duration(float64(delay) * b.Multiplier)
	if next > b.Cap {
		next = b.Cap
	}
	return next
}

// ErrMaxAttemptsExceeded is returned by Run when BackoffConfig.MaxAttempts
// is positive and reconnection keeps failing past it.
var ErrMaxAttemptsExceeded = errors.New("client: max reconnect attempts exceeded")

// Run dials, attaches, and reads frames until ctx is cancelled. On an
// unexpected disconnect it reconnects with exponential backoff, resetting
// the delay on every successful reopen (spec §4.8). It returns nil when
// ctx is cancelled, or ErrMaxAttemptsExceeded once MaxAttempts consecutive
// dial failures occur without an intervening success.
func (r *Runtime) Run(ctx context.Context, dial Dialer, backoff BackoffConfig) error {
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff()
	}

	delay := time.Duration(0)
	attempts := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		transport, err := dial(ctx)
		if err != nil {
			attempts++
			r.log.Info("client.dial.failed", "attempt", attempts, "err", err)
			if backoff.MaxAttempts > 0 && attempts >= backoff.MaxAttempts {
				return ErrMaxAttemptsExceeded
			}
			delay = backoff.next(delay)
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}

		attempts = 0
		delay = 0

		if err := r.Attach(ctx, transport); err != nil {
			r.log.Info("client.attach.failed", "err", err)
			_ = transport.Close()
			continue
		}

		r.readUntilClosed(ctx, transport)
		r.Detach()
		_ = transport.Close()
	}
}

func (r *Runtime) readUntilClosed(ctx context.Context, transport Transport) {
	for {
		if ctx.Err() != nil {
			return
		}
		raw, err := transport.Recv(ctx)
		if err != nil {
			r.log.Info("client.recv.closed", "err", err)
			return
		}
		if err := r.HandleInbound(raw); err != nil {
			r.log.Info("client.dispatch.failed", "err", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
