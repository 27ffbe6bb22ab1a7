package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/config"
	"github.com/Frank-Unlimited/Senior3-Tutorial-Backen/internal/domain"
)

func testModels(baseURL string, timeoutMS int) config.ModelsConfig {
	mc := config.ModelConfig{
		BaseURL:   baseURL,
		APIKey:    "test-key",
		Model:     "test-model",
		TimeoutMS: timeoutMS,
	}
	return config.ModelsConfig{Vision: mc, Deep: mc, Quick: mc}
}

func TestInvokeReturnsCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":"线粒体"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient(testModels(srv.URL+"/v1", 2000))
	got, err := c.Invoke(context.Background(), Request{Role: domain.RoleDeepReasoning, Prompt: "场所？"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if got != "线粒体" {
		t.Fatalf("unexpected completion %q", got)
	}
}

func TestInvokeAppliesSessionOverride(t *testing.T) {
	type seen struct {
		auth  string
		model string
	}
	calls := make(chan seen, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		calls <- seen{auth: r.Header.Get("Authorization"), model: body.Model}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewClient(testModels(srv.URL+"/v1", 2000))

	_, err := c.Invoke(context.Background(), Request{
		Role:     domain.RoleVision,
		Prompt:   "hi",
		Override: &domain.ModelOverride{Model: "qwen-vl-plus", APIKey: "sk-user"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	got := <-calls
	if got.auth != "Bearer sk-user" || got.model != "qwen-vl-plus" {
		t.Fatalf("override not applied: %+v", got)
	}

	// Without its own key the override is inert and the defaults hold.
	_, err = c.Invoke(context.Background(), Request{
		Role:     domain.RoleVision,
		Prompt:   "hi",
		Override: &domain.ModelOverride{Model: "qwen-vl-plus"},
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	got = <-calls
	if got.auth != "Bearer test-key" || got.model != "test-model" {
		t.Fatalf("keyless override must fall back to defaults: %+v", got)
	}
}

func TestInvokeMapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	c := NewClient(testModels(srv.URL+"/v1", 2000))
	_, err := c.Invoke(context.Background(), Request{Role: domain.RoleQuickSummary, Prompt: "hi"})

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429 UpstreamError, got %v", err)
	}
	if !domain.IsRetryable(err) {
		t.Fatal("rate limit must be retryable")
	}
}

func TestInvokeMapsAuthFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	c := NewClient(testModels(srv.URL+"/v1", 2000))
	_, err := c.Invoke(context.Background(), Request{Role: domain.RoleVision, Prompt: "hi"})

	var ue *domain.UpstreamError
	if !errors.As(err, &ue) || ue.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 UpstreamError, got %v", err)
	}
	if domain.IsRetryable(err) {
		t.Fatal("auth failure must not be retryable")
	}
}

func TestInvokeMapsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(testModels(srv.URL+"/v1", 50))
	_, err := c.Invoke(context.Background(), Request{Role: domain.RoleVision, Prompt: "hi"})
	if !errors.Is(err, domain.ErrUpstreamTimeout) {
		t.Fatalf("expected ErrUpstreamTimeout, got %v", err)
	}
}

func TestInvokeRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model","choices":[]}`))
	}))
	defer srv.Close()

	c := NewClient(testModels(srv.URL+"/v1", 2000))
	_, err := c.Invoke(context.Background(), Request{Role: domain.RoleDeepReasoning, Prompt: "hi"})
	if !errors.Is(err, domain.ErrUpstreamMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestMockGateway(t *testing.T) {
	m := NewMock()
	got, err := m.Invoke(context.Background(), Request{Role: domain.RoleVision, Prompt: "题目"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(got, string(domain.RoleVision)) {
		t.Fatalf("unexpected mock output %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Invoke(ctx, Request{Role: domain.RoleVision}); err == nil {
		t.Fatal("cancelled context must fail")
	}
}
