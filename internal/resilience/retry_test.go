package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("temporary"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(_ context.Context) error {
		calls++
		return Transient(errors.New("always fails"))
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastConfig(3), func(_ context.Context) error {
		calls++
		return errors.New("permanent error: bad artifact")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry for non-transient), got %d", calls)
	}
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		Multiplier:     2.0,
	}

	err := Do(ctx, cfg, func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return Transient(errors.New("fail"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls before cancel stops retries, got %d", calls)
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := fastConfig(3)
	cfg.ShouldRetry = func(err error) bool {
		return err.Error() == "retry me"
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("retry me")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_OnRetryCallback(t *testing.T) {
	var retryAttempts []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, _ error) {
		retryAttempts = append(retryAttempts, attempt)
	}

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return Transient(errors.New("fail"))
	})

	if len(retryAttempts) != 2 {
		t.Fatalf("expected 2 OnRetry calls, got %d", len(retryAttempts))
	}
	if retryAttempts[0] != 1 || retryAttempts[1] != 2 {
		t.Errorf("expected attempts [1, 2], got %v", retryAttempts)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastConfig(3), func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", Transient(errors.New("fail"))
		}
		return "rf-20260101", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "rf-20260101" {
		t.Errorf("expected %q, got %q", "rf-20260101", val)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), fastConfig(2), func(_ context.Context) (int, error) {
		return 42, Transient(errors.New("fail"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != 0 {
		t.Errorf("expected zero value on failure, got %d", val)
	}
}

func TestDo_DefaultConfig(t *testing.T) {
	var calls atomic.Int32
	err := Do(context.Background(), RetryConfig{}, func(_ context.Context) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestComputeBackoff_ExponentialGrowth(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
	})

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, want := range expected {
		if d := computeBackoff(i, cfg); d != want {
			t.Errorf("attempt %d: expected %v, got %v", i, want, d)
		}
	}
}

func TestComputeBackoff_CapsAtMax(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     5 * time.Second,
		Multiplier:     10.0,
	})

	if delay := computeBackoff(5, cfg); delay > 5*time.Second {
		t.Errorf("expected delay capped at 5s, got %v", delay)
	}
}

func TestComputeBackoff_WithJitter(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.5,
	})

	seen := make(map[time.Duration]bool)
	for i := 0; i < 100; i++ {
		d := computeBackoff(0, cfg)
		seen[d] = true
		if d < 500*time.Millisecond || d > 1500*time.Millisecond {
			t.Errorf("delay %v outside expected range [500ms, 1500ms]", d)
		}
	}
	if len(seen) < 2 {
		t.Error("expected jitter to produce varying delays")
	}
}

func TestReloadRetryConfig(t *testing.T) {
	cfg := ReloadRetryConfig()
	if cfg.MaxAttempts < 2 {
		t.Errorf("expected reloads to retry, got MaxAttempts=%d", cfg.MaxAttempts)
	}
	if cfg.MaxBackoff > 5*time.Second {
		t.Errorf("reload backoff should stay short, got %v", cfg.MaxBackoff)
	}
}

func TestRetryLogger(t *testing.T) {
	t.Parallel()
	logger := RetryLogger("bundle", "reload")
	logger(1, errors.New("test error"))
}
