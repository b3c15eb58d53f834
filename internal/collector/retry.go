package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/meshspectre/internal/mesh"
)

const (
	initialRetryBackoff = 200 * time.Millisecond
	maxRetryBackoff     = 5 * time.Second
)

// Transport failures net/http reports only as text.
var retryableTransportMessages = []string{
	"server closed idle connection",
	"http2: client connection lost",
}

// Retrier re-runs failed mesh calls with exponential backoff. The zero value
// runs each call exactly once.
type Retrier struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	sleep          func(context.Context, time.Duration) error
}

// NewRetrier returns a Retrier that allows retries extra attempts after the
// first failure.
func NewRetrier(retries int) Retrier {
	return Retrier{
		attempts:       max(retries, 0) + 1,
		initialBackoff: initialRetryBackoff,
		maxBackoff:     maxRetryBackoff,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts
// are exhausted. A cancelled ctx stops it between attempts.
func (r Retrier) Do(ctx context.Context, fn func() error) error {
	attempts := max(r.attempts, 1)
	wait := r.initialBackoff
	if wait <= 0 {
		wait = initialRetryBackoff
	}
	ceiling := max(r.maxBackoff, wait)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		switch {
		case err == nil:
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case attempt >= attempts || !isRetryableError(err):
			return err
		}

		slog.Debug("retrying mesh call",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		if err := r.pause(ctx, wait); err != nil {
			return err
		}
		wait = min(wait*2, ceiling)
	}
}

func (r Retrier) pause(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isRetryableError reports whether a mesh call failure may succeed on a
// later attempt: throttling, 5xx responses and transport failures.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	switch code := mesh.StatusCode(err); {
	case code == http.StatusTooManyRequests, code >= 500:
		return true
	case code != 0:
		// Client errors and undecodable 2xx bodies will not improve on retry.
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, marker := range retryableTransportMessages {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
