package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// Config holds retry configuration for calls to external collaborators
type Config struct {
	MaxAttempts       int           // Attempts including the first one (default: 3)
	InitialBackoff    time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 10s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-attempt timeout (default: 15s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	MaxConcurrentCalls int // Maximum concurrent calls (default: 4, 0 = unlimited)
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:           3,
		InitialBackoff:        500 * time.Millisecond,
		MaxBackoff:            10 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               15 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    4,
	}
}

// Validate checks the configuration for unusable values.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.InitialBackoff < 0 || c.MaxBackoff < 0 || c.Timeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff multiplier must be at least 1, got %v", c.BackoffMultiplier)
	}
	if c.CircuitBreakerEnabled && (c.FailureThreshold < 1 || c.SuccessThreshold < 1) {
		return fmt.Errorf("circuit breaker thresholds must be at least 1")
	}
	if c.MaxConcurrentCalls < 0 {
		return fmt.Errorf("max concurrent calls must not be negative, got %d", c.MaxConcurrentCalls)
	}
	return nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retrier runs operations with per-attempt timeouts, exponential backoff,
// a circuit breaker and a concurrency cap.
type Retrier struct {
	config  Config
	breaker *CircuitBreaker
	sem     *semaphore.Weighted
	log     *slog.Logger
}

// New creates a Retrier. A nil logger discards log output.
func New(config Config, logger *slog.Logger) (*Retrier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &Retrier{
		config: config,
		log:    logger,
	}
	if config.CircuitBreakerEnabled {
		r.breaker = NewCircuitBreaker(config.FailureThreshold, config.SuccessThreshold, config.OpenTimeout, logger)
	}
	if config.MaxConcurrentCalls > 0 {
		r.sem = semaphore.NewWeighted(int64(config.MaxConcurrentCalls))
	}
	return r, nil
}

// Breaker returns the circuit breaker, nil if disabled.
func (r *Retrier) Breaker() *CircuitBreaker {
	return r.breaker
}

// Do executes fn with retry and exponential backoff
func (r *Retrier) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer r.sem.Release(1)
	}

	var lastErr error
	backoff := r.config.InitialBackoff

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if r.breaker != nil {
			if err := r.breaker.Allow(); err != nil {
				return fmt.Errorf("%s failed: %w", operation, err)
			}
		}

		attemptCtx := ctx
		cancel := func() {}
		if r.config.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		}
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if r.breaker != nil {
				r.breaker.RecordSuccess()
			}
			if attempt > 1 {
				r.log.Debug("Call succeeded after retries", "operation", operation, "attempt", attempt)
			}
			return nil
		}

		lastErr = err

		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: %w", operation, ctx.Err())
		}

		retriable := IsRetriable(err)
		if r.breaker != nil && retriable {
			r.breaker.RecordFailure()
		}
		if !retriable {
			return fmt.Errorf("%s failed with non-retriable error: %w", operation, err)
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		r.log.Debug("Call failed, retrying", "operation", operation, "attempt", attempt, "max_attempts", r.config.MaxAttempts, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
			if backoff > r.config.MaxBackoff {
				backoff = r.config.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, r.config.MaxAttempts, lastErr)
}

// IsRetriable reports whether err is transient. Errors marked Permanent,
// cancellations and 4xx client errors other than 429 are not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var permanent *permanentError
	if errors.As(err, &permanent) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}
	for _, code := range []string{"400", "401", "403", "404"} {
		if strings.Contains(errStr, "status "+code) || strings.Contains(errStr, code+" ") {
			return false
		}
	}

	return true
}
