package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodePoolExhausted      ErrorCode = "POOL_EXHAUSTED"
	ErrCodeCircuitOpen        ErrorCode = "CIRCUIT_BREAKER_OPEN"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

// GetAppError extracts AppError from the error chain.
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// VoiceErrorType classifies a connect failure and drives the retry policy:
// only Temporary and ResourceExhaustion failures are retried.
type VoiceErrorType int

const (
	Temporary VoiceErrorType = iota
	Authentication
	Configuration
	ResourceExhaustion
	Permanent
)

func (t VoiceErrorType) String() string {
	switch t {
	case Temporary:
		return "temporary"
	case Authentication:
		return "authentication"
	case Configuration:
		return "configuration"
	case ResourceExhaustion:
		return "resource_exhaustion"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// VoiceError carries the classification alongside the underlying failure.
type VoiceError struct {
	Type VoiceErrorType
	Op   string
	Err  error
}

func (e *VoiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s voice error in %s: %v", e.Type, e.Op, e.Err)
	}
	return fmt.Sprintf("%s voice error in %s", e.Type, e.Op)
}

func (e *VoiceError) Unwrap() error {
	return e.Err
}

// NewVoiceError creates a classified voice error.
func NewVoiceError(t VoiceErrorType, op string, err error) *VoiceError {
	return &VoiceError{Type: t, Op: op, Err: err}
}

// Classify maps an error to a VoiceErrorType. Explicit VoiceErrors keep
// their classification; network and deadline failures are temporary;
// everything unrecognized defaults to temporary so transient transport
// faults are not given up on prematurely.
func Classify(err error) VoiceErrorType {
	var ve *VoiceError
	if errors.As(err, &ve) {
		return ve.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Temporary
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Temporary
	}
	return Temporary
}

// IsRetryable reports whether the retry loop should keep going after err.
func IsRetryable(err error) bool {
	t := Classify(err)
	return t == Temporary || t == ResourceExhaustion
}

// ValidationError is returned for malformed input before any transport
// attempt is made. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// CircuitOpenError is the fast-fail returned while a guild's breaker is
// open. ConsecutiveFailures is surfaced so operators can decide whether
// to force-close.
type CircuitOpenError struct {
	GuildID             string
	ConsecutiveFailures int
	RetryAfter          time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for guild %s after %d consecutive failures (retry in %s)",
		e.GuildID, e.ConsecutiveFailures, e.RetryAfter.Round(time.Millisecond))
}

// IsCircuitOpen reports whether err is a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}

// PoolExhaustedError is the pool's admission refusal. The pool never
// retries it; that is the caller's call.
type PoolExhaustedError struct {
	Active int
	Max    int
}

func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("connection pool exhausted: %d/%d connections in use", e.Active, e.Max)
}

// IsPoolExhausted reports whether err is a PoolExhaustedError.
func IsPoolExhausted(err error) bool {
	var pe *PoolExhaustedError
	return errors.As(err, &pe)
}
