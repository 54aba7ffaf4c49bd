// Package retry runs calls to external model services with bounded,
// capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docbot/internal/domain"
)

// Policy bounds how often and how long a call is retried.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Delay returns the wait before retry number attempt (zero based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		attempt = 30
	}
	d := p.BaseDelay << attempt
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	return d
}

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}

func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrTransient)
}

// Do calls fn until it succeeds, returns a non-transient error, the
// context ends, or MaxRetries retries have been spent.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == p.MaxRetries {
			break
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted: %w", errors.Join(ctx.Err(), err))
		case <-timer.C:
		}
	}
	return err
}
