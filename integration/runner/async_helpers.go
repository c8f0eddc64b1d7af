package runner

import (
	"context"
	"fmt"
	"time"
)

const (
	// PollInterval is how often host state is re-checked
	PollInterval = 500 * time.Millisecond
	// CommandTimeout is the default wait for the worker to process a floor
	CommandTimeout = 30 * time.Second
)

// PollUntil calls check until it returns nil, ctx ends or timeout passes.
// The last check error is reported on timeout.
func PollUntil(ctx context.Context, timeout time.Duration, check func(ctx context.Context) error) error {
	deadline := time.After(timeout)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	lastErr := check(ctx)
	if lastErr == nil {
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("timeout waiting for worker (waited %v): %w", timeout, lastErr)
		case <-ticker.C:
			if lastErr = check(ctx); lastErr == nil {
				return nil
			}
		}
	}
}
