package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestErrorFromHTTPStatus_Classification(t *testing.T) {
	cases := []struct {
		status    int
		message   string
		wantType  string
		retryable bool
	}{
		{400, "bad request", "*llm.InvalidRequestError", false},
		{400, "request exceeds context length", "*llm.ContextLengthError", false},
		{400, "blocked by content filter", "*llm.ContentFilterError", false},
		{422, "monthly quota exceeded", "*llm.QuotaExceededError", false},
		{401, "bad key", "*llm.AuthenticationError", false},
		{403, "forbidden", "*llm.AccessDeniedError", false},
		{404, "no such model", "*llm.NotFoundError", false},
		{408, "timeout", "*llm.RequestTimeoutError", true},
		{413, "too large", "*llm.ContextLengthError", false},
		{429, "slow down", "*llm.RateLimitError", true},
		{500, "boom", "*llm.ServerError", true},
		{503, "overloaded", "*llm.ServerError", true},
		{418, "teapot", "*llm.UnknownHTTPError", true},
	}
	for _, tc := range cases {
		err := ErrorFromHTTPStatus("openai", tc.status, tc.message, nil, nil)
		if got := fmt.Sprintf("%T", err); got != tc.wantType {
			t.Fatalf("status %d: got %s want %s", tc.status, got, tc.wantType)
		}
		var le Error
		if !errors.As(err, &le) {
			t.Fatalf("status %d: not an llm.Error", tc.status)
		}
		if le.Retryable() != tc.retryable {
			t.Fatalf("status %d: retryable=%v want %v", tc.status, le.Retryable(), tc.retryable)
		}
		if le.Provider() != "openai" {
			t.Fatalf("status %d: provider=%q", tc.status, le.Provider())
		}
	}
}

func TestWrapContextError(t *testing.T) {
	err := WrapContextError("groq", context.DeadlineExceeded)
	var te *RequestTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("deadline must map to RequestTimeoutError, got %T", err)
	}
	if IsRetryable(err) {
		t.Fatalf("deadline exhaustion must not be retryable")
	}

	err = WrapContextError("groq", errors.New("connection refused"))
	var tr *TransportError
	if !errors.As(err, &tr) {
		t.Fatalf("transport failure must map to TransportError, got %T", err)
	}
	if !IsRetryable(err) {
		t.Fatalf("transport failures are retried once")
	}

	if WrapContextError("groq", nil) != nil {
		t.Fatalf("nil passes through")
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	if d := ParseRetryAfter("7", now); d == nil || *d != 7*time.Second {
		t.Fatalf("seconds form: %v", d)
	}
	httpDate := now.Add(90 * time.Second).Format(http.TimeFormat)
	if d := ParseRetryAfter(httpDate, now); d == nil || *d != 90*time.Second {
		t.Fatalf("http-date form: %v", d)
	}
	if d := ParseRetryAfter("yesterday", now); d != nil {
		t.Fatalf("garbage must return nil, got %v", d)
	}
	if d := ParseRetryAfter("", now); d != nil {
		t.Fatalf("empty must return nil")
	}
}

func TestIsAuthenticationError(t *testing.T) {
	err := ErrorFromHTTPStatus("openai", 401, "bad key", nil, nil)
	if !IsAuthenticationError(err) {
		t.Fatalf("401 must be an authentication error")
	}
	if IsAuthenticationError(errors.New("other")) {
		t.Fatalf("plain errors are not authentication errors")
	}
}
