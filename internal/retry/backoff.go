package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// JitterMode selects how randomness is applied to a computed backoff delay
type JitterMode int

const (
	// NoJitter uses the exponential delay as is
	NoJitter JitterMode = iota
	// ProportionalJitter adds up to +/-10% around the exponential delay
	ProportionalJitter
	// FullJitter picks a uniform delay between zero and the exponential delay
	FullJitter
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries     int           `json:"max_retries"`      // Maximum retry attempts; 0 means bounded only by MaxElapsedTime
	MaxElapsedTime time.Duration `json:"max_elapsed_time"` // Ceiling on cumulative time spent retrying; 0 disables it
	BaseDelay      time.Duration `json:"base_delay"`       // Delay before the first retry
	MaxDelay       time.Duration `json:"max_delay"`        // Cap on a single computed delay; 0 disables it
	Multiplier     float64       `json:"multiplier"`       // Exponential backoff multiplier
	Jitter         JitterMode    `json:"jitter"`
	LogRetries     bool          `json:"log_retries"`

	// Retryable decides whether a failure is worth another attempt. nil retries every error.
	Retryable func(error) bool `json:"-"`

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	rnd   func() float64
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int           `json:"attempts"`       // Total number of attempts made
	TotalDuration time.Duration `json:"total_duration"` // Total time spent on all attempts
	LastError     error         `json:"-"`              // Last error encountered
	Success       bool          `json:"success"`        // Whether the operation eventually succeeded
	GaveUp        bool          `json:"gave_up"`        // Last error was not retryable
	RetryReasons  []string      `json:"retry_reasons"`  // Reasons for each retry attempt
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     ProportionalJitter,
		LogRetries: true,
	}
}

// LLMRetryConfig returns a retry configuration optimized for LLM requests
func LLMRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,  // LLM requests can be slower
		MaxDelay:   60 * time.Second, // Allow longer max delay for LLM
		Multiplier: 2.5,
		Jitter:     ProportionalJitter,
		LogRetries: true,
		Retryable:  IsRetryableError,
	}
}

// RateLimitConfig retries only errors accepted by isRateLimited, with full jitter,
// until five minutes of cumulative retry time have passed.
func RateLimitConfig(isRateLimited func(error) bool) RetryConfig {
	return RetryConfig{
		MaxElapsedTime: 300 * time.Second,
		BaseDelay:      1 * time.Second,
		Multiplier:     2.0,
		Jitter:         FullJitter,
		LogRetries:     true,
		Retryable:      isRateLimited,
	}
}

// Do runs operation under config and returns the last error, or nil on success
func Do(ctx context.Context, config RetryConfig, operation func() error, logger *zerolog.Logger) error {
	return RetryWithBackoff(ctx, config, operation, logger).LastError
}

// RetryWithBackoff executes an operation with exponential backoff retry logic
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error, logger *zerolog.Logger) RetryResult {
	return RetryWithBackoffAndReason(ctx, config, func() (error, string) {
		err := operation()
		reason := "unknown_error"
		if err != nil {
			reason = err.Error()
		}
		return err, reason
	}, logger)
}

// RetryWithBackoffAndReason executes an operation with exponential backoff retry logic and custom reason tracking
func RetryWithBackoffAndReason(ctx context.Context, config RetryConfig, operation func() (error, string), logger *zerolog.Logger) RetryResult {
	now := config.now
	if now == nil {
		now = time.Now
	}
	sleep := config.sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if !config.LogRetries {
		logger = nil
	}

	startTime := now()
	result := RetryResult{
		RetryReasons: make([]string, 0),
	}

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		err, reason := operation()
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = now().Sub(startTime)
			if logger != nil && attempt > 0 {
				logger.Info().
					Int("retries", attempt).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation succeeded after retries")
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		if config.Retryable != nil && !config.Retryable(err) {
			result.GaveUp = true
			result.TotalDuration = now().Sub(startTime)
			return result
		}

		if config.MaxRetries > 0 && attempt >= config.MaxRetries {
			result.TotalDuration = now().Sub(startTime)
			if logger != nil {
				logger.Warn().Err(err).
					Int("attempts", result.Attempts).
					Dur("total_duration", result.TotalDuration).
					Msg("Operation failed, retries exhausted")
			}
			return result
		}
		if config.MaxRetries <= 0 && config.MaxElapsedTime <= 0 {
			// Neither bound configured: behave like a single attempt.
			result.TotalDuration = now().Sub(startTime)
			return result
		}

		elapsed := now().Sub(startTime)
		delay := calculateDelay(config, attempt)
		if config.MaxElapsedTime > 0 {
			if elapsed >= config.MaxElapsedTime {
				result.TotalDuration = elapsed
				if logger != nil {
					logger.Warn().Err(err).
						Int("attempts", result.Attempts).
						Dur("elapsed", elapsed).
						Msg("Giving up, retry time ceiling reached")
				}
				return result
			}
			if remaining := config.MaxElapsedTime - elapsed; delay > remaining {
				delay = remaining
			}
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = now().Sub(startTime)
			return result
		}

		if logger != nil {
			logger.Info().
				Str("reason", reason).
				Int("attempt", result.Attempts).
				Dur("delay", delay).
				Dur("elapsed", elapsed).
				Msg("Retrying...")
		}

		if err := sleep(ctx, delay); err != nil {
			result.LastError = err
			result.TotalDuration = now().Sub(startTime)
			return result
		}
	}
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}
	delay := float64(config.BaseDelay) * math.Pow(multiplier, float64(attempt))

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	rnd := config.rnd
	if rnd == nil {
		rnd = rand.Float64
	}

	switch config.Jitter {
	case FullJitter:
		delay = rnd() * delay
	case ProportionalJitter:
		jitterRange := delay * 0.1
		delay += (rnd() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// IsRetryableError determines if an error message looks transient
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"ratelimited",
		"429",
		"502",
		"503",
		"504",
		"dns lookup failed",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
