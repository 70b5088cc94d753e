package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestClassifyKeepsExplicitType(t *testing.T) {
	cases := []struct {
		errType VoiceErrorType
		want    VoiceErrorType
	}{
		{Temporary, Temporary},
		{Authentication, Authentication},
		{Configuration, Configuration},
		{ResourceExhaustion, ResourceExhaustion},
		{Permanent, Permanent},
	}
	for _, tc := range cases {
		err := NewVoiceError(tc.errType, "connect", errors.New("boom"))
		if got := Classify(err); got != tc.want {
			t.Fatalf("Classify(%s) = %s, want %s", tc.errType, got, tc.want)
		}
	}
}

func TestClassifyWrappedVoiceError(t *testing.T) {
	inner := NewVoiceError(Authentication, "identify", errors.New("4004"))
	wrapped := fmt.Errorf("connect failed: %w", inner)
	if got := Classify(wrapped); got != Authentication {
		t.Fatalf("Classify(wrapped) = %s, want authentication", got)
	}
}

func TestClassifyNetworkAndDeadline(t *testing.T) {
	if got := Classify(context.DeadlineExceeded); got != Temporary {
		t.Fatalf("Classify(deadline) = %s, want temporary", got)
	}
	var netErr net.Error = &net.DNSError{IsTimeout: true}
	if got := Classify(netErr); got != Temporary {
		t.Fatalf("Classify(net) = %s, want temporary", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		errType VoiceErrorType
		want    bool
	}{
		{Temporary, true},
		{ResourceExhaustion, true},
		{Authentication, false},
		{Configuration, false},
		{Permanent, false},
	}
	for _, tc := range cases {
		err := NewVoiceError(tc.errType, "connect", errors.New("boom"))
		if got := IsRetryable(err); got != tc.want {
			t.Fatalf("IsRetryable(%s) = %v, want %v", tc.errType, got, tc.want)
		}
	}
}

func TestValidationErrorDetection(t *testing.T) {
	err := NewValidationError("token", "is required")
	if !IsValidation(err) {
		t.Fatal("IsValidation = false for ValidationError")
	}
	wrapped := fmt.Errorf("request rejected: %w", err)
	if !IsValidation(wrapped) {
		t.Fatal("IsValidation = false for wrapped ValidationError")
	}
	if IsValidation(errors.New("other")) {
		t.Fatal("IsValidation = true for plain error")
	}
}

func TestCircuitOpenErrorDetection(t *testing.T) {
	err := &CircuitOpenError{GuildID: "123", ConsecutiveFailures: 5, RetryAfter: 30 * time.Second}
	if !IsCircuitOpen(err) {
		t.Fatal("IsCircuitOpen = false")
	}
	if IsCircuitOpen(errors.New("other")) {
		t.Fatal("IsCircuitOpen = true for plain error")
	}
}

func TestPoolExhaustedErrorDetection(t *testing.T) {
	err := &PoolExhaustedError{Active: 100, Max: 100}
	if !IsPoolExhausted(err) {
		t.Fatal("IsPoolExhausted = false")
	}
	if IsPoolExhausted(errors.New("other")) {
		t.Fatal("IsPoolExhausted = true for plain error")
	}
}

func TestAppErrorChain(t *testing.T) {
	cause := errors.New("socket closed")
	appErr := WrapError(cause, ErrCodeInternal, "connect failed", 500)
	if !errors.Is(appErr, cause) {
		t.Fatal("AppError does not unwrap to cause")
	}
	if got := GetAppError(fmt.Errorf("outer: %w", appErr)); got == nil || got.Code != ErrCodeInternal {
		t.Fatalf("GetAppError = %v, want internal", got)
	}
}
