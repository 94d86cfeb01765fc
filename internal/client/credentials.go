// Package client is the consumer-side API surface: bearer credential
// management with timed refresh and an HTTP adapter that feeds the
// synchronizer its snapshots and log appends.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// RefreshFunc exchanges the current token for a fresh one.
type RefreshFunc func(ctx context.Context, current string) (string, error)

// Credentials holds the bearer token and rotates it on a fixed timer. The
// swap hook lets the realtime channel re-authenticate in place when the
// value changes.
type Credentials struct {
	logger  *slog.Logger
	refresh RefreshFunc

	mu     sync.Mutex
	token  string
	onSwap func(token string)
	stop   chan struct{}
}

// NewCredentials wraps an initial token.
func NewCredentials(logger *slog.Logger, token string, refresh RefreshFunc) *Credentials {
	if logger == nil {
		logger = slog.Default()
	}
	return &Credentials{logger: logger, token: token, refresh: refresh}
}

// Token returns the current bearer value.
func (c *Credentials) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// SetOnSwap installs the hook invoked with every new token value.
func (c *Credentials) SetOnSwap(fn func(token string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSwap = fn
}

// Refresh rotates the token now. The old value is invalid after a successful
// exchange, so the swap hook runs before Refresh returns.
func (c *Credentials) Refresh(ctx context.Context) error {
	c.mu.Lock()
	current := c.token
	c.mu.Unlock()

	fresh, err := c.refresh(ctx, current)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}

	c.mu.Lock()
	c.token = fresh
	hook := c.onSwap
	c.mu.Unlock()

	if hook != nil {
		hook(fresh)
	}
	return nil
}

// StartAutoRefresh rotates the token every interval until Stop. A failed
// rotation is logged and retried on the next tick; the old token stays in
// place meanwhile.
func (c *Credentials) StartAutoRefresh(interval time.Duration) {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.stop = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := c.Refresh(ctx); err != nil {
					c.logger.Warn("token refresh failed", slog.String("error", err.Error()))
				}
				cancel()
			}
		}
	}()
}

// Stop ends the auto-refresh loop.
func (c *Credentials) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}
