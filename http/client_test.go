package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"clipsync/clip"
	"clipsync/internal/breaker"
)

// testConfig returns a config with fast retries and no rate limit on the
// loopback test server.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.Retry.InitialBackoff = 5 * time.Millisecond
	cfg.Retry.MaxBackoff = 10 * time.Millisecond
	cfg.Retry.JitterFraction = 0
	cfg.RateLimiter.CustomRates = map[string]float64{"127.0.0.1": 0}
	cfg.RateLimiter.EnableDynamicBackoff = false
	cfg.RateLimiter.InitialPause = time.Millisecond
	cfg.RateLimiter.MaxPause = 5 * time.Millisecond
	return cfg
}

func TestNewClientNilConfig(t *testing.T) {
	client := New(nil)
	if client == nil {
		t.Fatal("expected client to be created with default config")
	}
	client.Close()
}

func TestClientGetSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if got := r.Header.Get("Client-Id"); got != "abc" {
			t.Errorf("Client-Id = %q, want abc", got)
		}
		if got := r.Header.Get("User-Agent"); got != "clipsync/1.0" {
			t.Errorf("User-Agent = %q", got)
		}
		w.Write([]byte("test response"))
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	resp, err := client.Get(context.Background(), server.URL, map[string]string{"Client-Id": "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if string(resp.Body) != "test response" {
		t.Errorf("expected 'test response', got %q", string(resp.Body))
	}
}

func TestClientRateLimitRetry(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("success"))
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	if _, err := client.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&attempts); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestClientPostBodyIsReplayed(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" {
			t.Errorf("attempt body = %q", body)
		}
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	if _, err := client.Do(context.Background(), http.MethodPost, server.URL, []byte("payload"), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientErrorClassification(t *testing.T) {
	tests := []struct {
		status   int
		want     clip.OutcomeKind
		attempts int32
	}{
		{http.StatusInternalServerError, clip.OutcomeTransient, 3},
		{http.StatusNotFound, clip.OutcomeRejected, 1},
		{http.StatusBadRequest, clip.OutcomeRejected, 1},
		{http.StatusUnauthorized, clip.OutcomeFatal, 1},
		{http.StatusForbidden, clip.OutcomeFatal, 1},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var attempts int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&attempts, 1)
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			client := New(testConfig())
			defer client.Close()

			_, err := client.Get(context.Background(), server.URL, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			var httpErr *HTTPError
			if !errors.As(err, &httpErr) || httpErr.StatusCode != tt.status {
				t.Fatalf("expected HTTPError %d, got %v", tt.status, err)
			}
			if got := clip.Classify(err); got != tt.want {
				t.Errorf("Classify = %v, want %v", got, tt.want)
			}
			if n := atomic.LoadInt32(&attempts); n != tt.attempts {
				t.Errorf("attempts = %d, want %d", n, tt.attempts)
			}
		})
	}
}

func TestClientCircuitBreakerOpensPerHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Retry.MaxRetries = 0
	cfg.CircuitBreaker.FailureThreshold = 2
	client := New(cfg)
	defer client.Close()

	for i := 0; i < 2; i++ {
		client.Get(context.Background(), server.URL, nil)
	}
	if state := client.CircuitState("127.0.0.1"); state != breaker.Open {
		t.Fatalf("circuit state = %v, want open", state)
	}
	_, err := client.Get(context.Background(), server.URL, nil)
	if !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("expected ErrOpen, got %v", err)
	}
}

func TestClientClientErrorsDoNotOpenCircuit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.CircuitBreaker.FailureThreshold = 1
	client := New(cfg)
	defer client.Close()

	client.Get(context.Background(), server.URL, nil)
	if state := client.CircuitState("127.0.0.1"); state != breaker.Closed {
		t.Errorf("circuit state = %v, want closed", state)
	}
}

type headerTransport struct {
	base http.RoundTripper
}

func (h headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer token123")
	return h.base.RoundTrip(r)
}

func TestClientWrapTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token123" {
			t.Errorf("Authorization = %q", got)
		}
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.WrapTransport = func(base http.RoundTripper) http.RoundTripper { return headerTransport{base: base} }
	client := New(cfg)
	defer client.Close()

	if _, err := client.Get(context.Background(), server.URL, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"empty", "", 0},
		{"seconds", "60", 60 * time.Second},
		{"seconds_zero", "0", 0},
		{"garbage", "soon", 0},
	}

	client := New(nil)
	defer client.Close()

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			header := make(http.Header)
			if tc.header != "" {
				header.Set("Retry-After", tc.header)
			}
			if got := client.parseRetryAfter(header); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestClientContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := New(testConfig())
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Get(ctx, server.URL, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestErrorMessages(t *testing.T) {
	rl := &RateLimitError{StatusCode: http.StatusTooManyRequests, RetryAfter: 5 * time.Second}
	if msg := rl.Error(); !strings.Contains(msg, "429") || !strings.Contains(msg, "5s") {
		t.Errorf("unexpected message: %s", msg)
	}
	if !errors.Is(rl, clip.ErrTransient) {
		t.Error("RateLimitError should classify as transient")
	}

	he := &HTTPError{StatusCode: http.StatusNotFound}
	if msg := he.Error(); !strings.Contains(msg, "404") {
		t.Errorf("unexpected message: %s", msg)
	}
}
