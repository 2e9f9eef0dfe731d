package slack

import (
	"errors"
	"fmt"
	"time"

	"github.com/slack-go/slack"
)

// rateLimitedCode is the error code Slack uses when a method quota is exceeded
const rateLimitedCode = "ratelimited"

// RateLimitError signals that the upstream quota was exceeded. It is the only retryable failure.
type RateLimitError struct {
	Method     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", e.Method, rateLimitedCode, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", e.Method, rateLimitedCode)
}

// UpstreamError is any other API failure. Code carries the upstream message verbatim.
type UpstreamError struct {
	Method string
	Code   string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Method, e.Code)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is, or wraps, a RateLimitError
func IsRateLimited(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// classify maps slack-go errors onto RateLimitError / UpstreamError
func classify(method string, err error) error {
	if err == nil {
		return nil
	}

	var limited *slack.RateLimitedError
	if errors.As(err, &limited) {
		return &RateLimitError{Method: method, RetryAfter: limited.RetryAfter}
	}

	var resp slack.SlackErrorResponse
	if errors.As(err, &resp) {
		if resp.Err == rateLimitedCode {
			return &RateLimitError{Method: method}
		}
		return &UpstreamError{Method: method, Code: resp.Err, Err: err}
	}

	if err.Error() == rateLimitedCode {
		return &RateLimitError{Method: method}
	}
	return &UpstreamError{Method: method, Code: err.Error(), Err: err}
}
