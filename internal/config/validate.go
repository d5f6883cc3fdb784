package config

import (
	"fmt"
	"time"

	"github.com/omjadhav9271/code-review-copilot/internal/retry"
	"github.com/omjadhav9271/code-review-copilot/internal/review"
)

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Review.Roles) == 0 {
		return fmt.Errorf("review.roles must not be empty")
	}
	for _, r := range c.Review.Roles {
		if !review.KnownRoles[review.Role(r)] {
			return fmt.Errorf("review.roles: unknown role %q", r)
		}
	}
	if c.Queue.LeaseSeconds <= 0 {
		return fmt.Errorf("queue.lease_seconds must be positive, got %d", c.Queue.LeaseSeconds)
	}
	if c.Queue.PollMillis <= 0 {
		return fmt.Errorf("queue.poll_millis must be positive, got %d", c.Queue.PollMillis)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Review.MaxFileBytes <= 0 {
		return fmt.Errorf("review.max_file_bytes must be positive, got %d", c.Review.MaxFileBytes)
	}
	if c.Review.SweepSeconds <= 0 {
		return fmt.Errorf("review.sweep_seconds must be positive, got %d", c.Review.SweepSeconds)
	}
	return nil
}

// RetryPolicy converts the retry section into a retry.Policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   time.Duration(c.Retry.BaseDelayMillis) * time.Millisecond,
		MaxDelay:    time.Duration(c.Retry.MaxDelaySeconds) * time.Second,
		Jitter:      c.Retry.Jitter,
	}
}

// Roles returns the configured specialist roles as typed values.
func (c *Config) Roles() []review.Role {
	roles := make([]review.Role, len(c.Review.Roles))
	for i, r := range c.Review.Roles {
		roles[i] = review.Role(r)
	}
	return roles
}
