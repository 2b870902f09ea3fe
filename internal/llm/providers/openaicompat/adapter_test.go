package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dealcetexplains-png/mender/internal/llm"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAdapter(Config{Provider: "groq", APIKey: "k", BaseURL: srv.URL})
}

func TestComplete_Success(t *testing.T) {
	var gotBody map[string]any
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("auth header: %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "llama-3.1-8b-instant",
			"choices": []map[string]any{{
				"message":       map[string]any{"role": "assistant", "content": "fixed file"},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := a.Complete(ctx, llm.Request{Model: "llama-3.1-8b-instant", System: "sys", Prompt: "fix it"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "fixed file" {
		t.Fatalf("text: %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Fatalf("usage: %+v", resp.Usage)
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("want system+user messages, got %d", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "sys" {
		t.Fatalf("system message: %v", first)
	}
}

func TestComplete_RateLimitWithRetryAfter(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := a.Complete(ctx, llm.Request{Model: "m", Prompt: "p"})
	var rl *llm.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("want RateLimitError, got %T: %v", err, err)
	}
	if rl.RetryAfter() == nil || *rl.RetryAfter() != 3*time.Second {
		t.Fatalf("retry-after: %v", rl.RetryAfter())
	}
}

func TestComplete_ServerErrorIsRetryable(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"message":"upstream died"}}`))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := a.Complete(ctx, llm.Request{Model: "m", Prompt: "p"})
	if !llm.IsRetryable(err) {
		t.Fatalf("502 must be retryable, got %v", err)
	}
}

func TestComplete_DeadlineMapsToTimeout(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Complete(ctx, llm.Request{Model: "m", Prompt: "p"})
	var te *llm.RequestTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("want RequestTimeoutError, got %T: %v", err, err)
	}
}

func TestComplete_MissingChoices(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := a.Complete(ctx, llm.Request{Model: "m", Prompt: "p"}); err == nil {
		t.Fatalf("empty choices must error")
	}
}
