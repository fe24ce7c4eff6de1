// Package errors classifies failures raised while filling the price cache and
// provides the retry helper used around upstream API calls.
package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/KrisGravedigger/decoder-of-sol-decoder-sub000/internal/config"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Transient upstream failures: the gap stays open and a later call may fill it
	ErrorTypeNetwork     ErrorType = "network"      // Network connectivity issues
	ErrorTypeTimeout     ErrorType = "timeout"      // Request timeout
	ErrorTypeRateLimit   ErrorType = "rate_limit"   // HTTP 429 from the API
	ErrorTypeServerError ErrorType = "server_error" // HTTP 5xx errors

	// Upstream rejections that will not succeed on retry
	ErrorTypeAuthentication ErrorType = "authentication" // HTTP 401/403, bad API key
	ErrorTypeBadRequest     ErrorType = "bad_request"    // Other HTTP 4xx errors

	// Local data problems; never fatal
	ErrorTypeMalformedShard ErrorType = "malformed_shard" // Unreadable or corrupt cache file
	ErrorTypeMalformedPoint ErrorType = "malformed_point" // Unparseable candle in an API response
	ErrorTypeMalformedBody  ErrorType = "malformed_body"  // Response body that is not a candle list

	ErrorTypeConfiguration ErrorType = "configuration" // Configuration errors
	ErrorTypeUnknown       ErrorType = "unknown"       // Unclassified errors
)

// Severity represents the severity level of an error
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
)

// String returns the string representation of the severity
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ClassifiedError represents an error with metadata for handling decisions
type ClassifiedError struct {
	Err       error     `json:"error"`
	Type      ErrorType `json:"type"`
	Severity  Severity  `json:"severity"`
	Retryable bool      `json:"retryable"`
	Component string    `json:"component"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	Attempts  int       `json:"attempts"`
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", ce.Component, ce.Type, ce.Operation, ce.Err)
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Is checks if the error is of the specified type
func (ce *ClassifiedError) Is(target error) bool {
	if t, ok := target.(*ClassifiedError); ok {
		return ce.Type == t.Type
	}
	return errors.Is(ce.Err, target)
}

// StatusError is returned for non-2xx upstream responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("upstream returned HTTP %d: %s", e.StatusCode, body)
}

// Classify analyzes an error and returns a ClassifiedError with retry metadata.
// Errors that are already classified are returned unchanged.
func Classify(err error, component, operation string) *ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	errorType := classifyErrorType(err)
	return &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  determineSeverity(errorType),
		Retryable: isRetryableType(errorType),
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// New builds a ClassifiedError of a known type without pattern matching
func New(errorType ErrorType, component, operation string, err error) *ClassifiedError {
	return &ClassifiedError{
		Err:       err,
		Type:      errorType,
		Severity:  determineSeverity(errorType),
		Retryable: isRetryableType(errorType),
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
	}
}

func classifyErrorType(err error) ErrorType {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(statusErr.StatusCode)
	}

	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "quota exceeded") {
		return ErrorTypeRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "forbidden") ||
		strings.Contains(errStr, "invalid api key") {
		return ErrorTypeAuthentication
	}

	if strings.Contains(errStr, "config") ||
		strings.Contains(errStr, "not configured") {
		return ErrorTypeConfiguration
	}

	return ErrorTypeUnknown
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorTypeRateLimit
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrorTypeAuthentication
	case code >= 500:
		return ErrorTypeServerError
	case code >= 400:
		return ErrorTypeBadRequest
	default:
		return ErrorTypeUnknown
	}
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"no such host",
		"eof",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}

func determineSeverity(errorType ErrorType) Severity {
	switch errorType {
	case ErrorTypeAuthentication, ErrorTypeConfiguration:
		return SeverityHigh
	case ErrorTypeBadRequest, ErrorTypeMalformedShard, ErrorTypeMalformedBody:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func isRetryableType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// RetryPolicy is the parsed form of config.RetryPolicyConfig
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     string
}

// PolicyFromConfig converts a config retry section, defaulting to a single attempt
func PolicyFromConfig(cfg config.RetryPolicyConfig) RetryPolicy {
	initial, max := cfg.Delays()
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return RetryPolicy{
		MaxAttempts:  attempts,
		InitialDelay: initial,
		MaxDelay:     max,
		Strategy:     cfg.BackoffStrategy,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	var strategy backoff.BackOff
	switch p.Strategy {
	case "fixed":
		strategy = backoff.NewConstantBackOff(p.InitialDelay)
	default:
		exponential := backoff.NewExponentialBackOff()
		exponential.InitialInterval = p.InitialDelay
		exponential.MaxInterval = p.MaxDelay
		exponential.MaxElapsedTime = 0 // rely on attempts and context
		strategy = exponential
	}

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(strategy, uint64(attempts-1)), ctx)
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the policy
// runs out of attempts. The returned error is always classified.
func Retry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, component, operation string, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}

	attempts := 0
	var last *ClassifiedError

	operationFn := func() error {
		attempts++
		err := fn()
		if err == nil {
			return nil
		}

		last = Classify(err, component, operation)
		last.Attempts = attempts
		if !last.Retryable {
			return backoff.Permanent(last)
		}
		return last
	}

	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying operation",
			"component", component,
			"operation", operation,
			"attempt", attempts,
			"max_attempts", policy.MaxAttempts,
			"wait", wait,
			"error", err.Error())
	}

	if err := backoff.RetryNotify(operationFn, policy.backOff(ctx), notify); err != nil {
		if last != nil {
			return last
		}
		return Classify(err, component, operation)
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(err error, component, operation, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s in %s.%s: %w", message, component, operation, err)
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return false
}

// GetErrorType extracts the error type from a classified error
func GetErrorType(err error) ErrorType {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ErrorTypeUnknown
}
