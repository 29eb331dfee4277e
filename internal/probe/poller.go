// Package probe confirms that a generated artifact is actually retrievable
// by a caller before the service reports it as ready. Probes request only the
// first byte of the resource, so confirming availability never downloads the
// artifact itself.
package probe

import (
	"context"
	"net/http"
	"time"
)

const (
	// DefaultInterval matches the cadence the chat frontend refreshed its
	// loading indicator at.
	DefaultInterval = 500 * time.Millisecond
	// DefaultTimeout bounds one availability wait.
	DefaultTimeout = 30 * time.Second
)

// WaitUntil calls pred every interval until it returns true or the budget
// elapses, whichever comes first. The first call happens one interval in; a
// tick landing past the budget returns false without another call, so a
// never-satisfied predicate is invoked exactly floor(timeout/interval) times.
// Context cancellation also returns false.
func WaitUntil(ctx context.Context, interval, timeout time.Duration, pred func(context.Context) bool) bool {
	if interval <= 0 || timeout <= 0 {
		return false
	}

	start := time.Now()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if time.Since(start) > timeout {
				return false
			}
			if pred(ctx) {
				return true
			}
			if time.Since(start) >= timeout {
				return false
			}
		}
	}
}

// Poller checks artifact URLs with range-limited probes.
type Poller struct {
	interval time.Duration
	timeout  time.Duration
	client   *http.Client
}

// New returns a poller probing every interval within the total timeout.
// Non-positive values fall back to the defaults.
func New(interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Poller{
		interval: interval,
		timeout:  timeout,
		client:   &http.Client{},
	}
}

// Wait polls url until its first byte is served or the budget elapses.
func (p *Poller) Wait(ctx context.Context, url string) bool {
	return WaitUntil(ctx, p.interval, p.timeout, func(ctx context.Context) bool {
		return p.probe(ctx, url)
	})
}

// probe issues one first-byte fetch in its own goroutine, bounded by one
// interval, so a hanging transport cannot stall the poll loop. Any failure
// counts as "not yet available", never as a fatal error.
func (p *Poller) probe(ctx context.Context, url string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		done <- p.fetchFirstByte(probeCtx, url)
	}()

	select {
	case ok := <-done:
		return ok
	case <-probeCtx.Done():
		return false
	}
}

func (p *Poller) fetchFirstByte(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	// Servers without range support answer 200 with the full body; both
	// count as available.
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent
}
