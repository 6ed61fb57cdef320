package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"clipsync/clip"
)

func fastConfig(maxRetries int) Config {
	return Config{
		MaxRetries:     maxRetries,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_Success(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), fastConfig(3), nil, func(ctx context.Context) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Do() returned error = %v, want nil", err)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestDo_PermanentError(t *testing.T) {
	attempts := 0
	rejected := fmt.Errorf("invalid media: %w", clip.ErrRejected)

	err := Do(context.Background(), fastConfig(3), nil, func(ctx context.Context) error {
		attempts++
		return rejected
	})

	if !errors.Is(err, clip.ErrRejected) {
		t.Errorf("Do() returned error = %v, want ErrRejected", err)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestDo_QuotaIsNotRetried(t *testing.T) {
	attempts := 0

	err := Do(context.Background(), fastConfig(3), nil, func(ctx context.Context) error {
		attempts++
		return clip.ErrQuotaExhausted
	})

	if !errors.Is(err, clip.ErrQuotaExhausted) {
		t.Errorf("Do() returned error = %v, want ErrQuotaExhausted", err)
	}
	if attempts != 1 {
		t.Errorf("Do() made %d attempts, want 1", attempts)
	}
}

func TestDo_RetryableError(t *testing.T) {
	attempts := 0
	successAfter := 2

	err := Do(context.Background(), fastConfig(5), IsRetryable, func(ctx context.Context) error {
		attempts++
		if attempts < successAfter {
			return fmt.Errorf("503: %w", clip.ErrTransient)
		}
		return nil
	})

	if err != nil {
		t.Errorf("Do() returned error = %v, want nil", err)
	}
	if attempts != successAfter {
		t.Errorf("Do() made %d attempts, want %d", attempts, successAfter)
	}
}

func TestDo_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	maxRetries := 3

	err := Do(context.Background(), fastConfig(maxRetries), IsRetryable, func(ctx context.Context) error {
		attempts++
		return clip.ErrTransient
	})

	var retryErr *RetryableError
	if !errors.As(err, &retryErr) {
		t.Fatalf("Do() returned error = %v, want *RetryableError", err)
	}
	if retryErr.Retries != maxRetries {
		t.Errorf("RetryableError.Retries = %d, want %d", retryErr.Retries, maxRetries)
	}
	if !errors.Is(err, clip.ErrTransient) {
		t.Errorf("Do() error should unwrap to ErrTransient, got %v", err)
	}
	if attempts != maxRetries+1 {
		t.Errorf("Do() made %d attempts, want %d", attempts, maxRetries+1)
	}
}

func TestDo_ContextCanceled(t *testing.T) {
	attempts := 0
	cfg := Config{
		MaxRetries:     5,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		Multiplier:     2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())

	err := Do(ctx, cfg, IsRetryable, func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			cancel()
		}
		return errors.New("temporary")
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() returned error = %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline exceeded", context.DeadlineExceeded, false},
		{"transient", clip.ErrTransient, true},
		{"rejected", clip.ErrRejected, false},
		{"fatal", clip.ErrFatal, false},
		{"quota", clip.ErrQuotaExhausted, false},
		{"generic error", errors.New("generic"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxRetries != 2 {
		t.Errorf("DefaultConfig().MaxRetries = %d, want 2", cfg.MaxRetries)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("DefaultConfig().Multiplier = %f, want 2.0", cfg.Multiplier)
	}
}

type throttled struct{ delay time.Duration }

func (e throttled) Error() string { return "throttled" }
func (e throttled) Unwrap() error { return clip.ErrTransient }
func (e throttled) RetryDelay() time.Duration { return e.delay }

func TestDo_HonoursServerDelay(t *testing.T) {
	cfg := fastConfig(1)
	cfg.MaxBackoff = time.Millisecond

	attempts := 0
	start := time.Now()
	err := Do(context.Background(), cfg, nil, func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			return throttled{delay: 40 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() returned error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Do() retried after %v, want the server delay", elapsed)
	}
}
