package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

// ============================================================
// Do / DoWithResult
// ============================================================

func TestDo_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, Config{MaxAttempts: 3, InitialDelay: time.Millisecond, JitterFactor: 0})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_RecoversOnSecondAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		if calls == 1 {
			return errors.New("read timeout")
		}
		return nil
	}, Config{MaxAttempts: 3, InitialDelay: time.Millisecond, JitterFactor: 0})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_ExhaustedAfterMaxAttempts(t *testing.T) {
	calls := 0
	underlying := errors.New("connection reset")
	err := Do(context.Background(), func() error {
		calls++
		return underlying
	}, Config{MaxAttempts: 3, InitialDelay: time.Millisecond, JitterFactor: 0})

	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected Attempts=3, got %d", exhausted.Attempts)
	}
	if !errors.Is(err, underlying) {
		t.Error("ExhaustedError must wrap the last underlying error")
	}
	if !IsExhausted(err) {
		t.Error("IsExhausted must report true")
	}
}

func TestDo_PermanentFailsImmediately(t *testing.T) {
	calls := 0
	rejection := Permanent(errors.New("insufficient balance"))
	err := Do(context.Background(), func() error {
		calls++
		return rejection
	}, Config{MaxAttempts: 5, InitialDelay: time.Millisecond, JitterFactor: 0})

	if calls != 1 {
		t.Errorf("permanent error must trigger exactly one attempt, got %d", calls)
	}
	if !errors.Is(err, rejection) {
		t.Errorf("expected the original permanent error, got %v", err)
	}
	if IsExhausted(err) {
		t.Error("permanent failure must not be reported as exhaustion")
	}
}

// TestDo_BackoffSequence проверяет детерминированность задержек:
// base=1ms, multiplier=2, 3 попытки → паузы [1ms, 2ms] перед
// попытками 2 и 3, без паузы перед первой и после последней
func TestDo_BackoffSequence(t *testing.T) {
	var delays []time.Duration

	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}

	_ = Do(context.Background(), func() error {
		return errors.New("timeout")
	}, cfg)

	expected := []time.Duration{1 * time.Millisecond, 2 * time.Millisecond}
	if len(delays) != len(expected) {
		t.Fatalf("expected %d waits, got %d (%v)", len(expected), len(delays), delays)
	}
	for i, want := range expected {
		if delays[i] != want {
			t.Errorf("wait %d: expected %v, got %v", i+1, want, delays[i])
		}
	}
}

func TestDo_MaxDelayCap(t *testing.T) {
	cfg := Config{
		MaxAttempts:  10,
		InitialDelay: time.Millisecond,
		MaxDelay:     4 * time.Millisecond,
		Multiplier:   2.0,
		JitterFactor: 0,
	}
	cfg.validate()

	if d := cfg.delayAfter(9); d != 4*time.Millisecond {
		t.Errorf("expected delay capped at 4ms, got %v", d)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, func() error {
		calls++
		return nil
	}, Config{MaxAttempts: 3, InitialDelay: time.Millisecond})

	if calls != 0 {
		t.Errorf("cancelled context must prevent any attempt, got %d calls", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	result, err := DoWithResult(context.Background(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	}, Config{MaxAttempts: 3, InitialDelay: time.Millisecond, JitterFactor: 0})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
}

// ============================================================
// Классификация
// ============================================================

func TestDefaultClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"plain error is transient", errors.New("connection refused"), ClassTransient},
		{"permanent wrapper", Permanent(errors.New("bad signature")), ClassPermanent},
		{"temporary wrapper", Temporary(errors.New("rate limit")), ClassTransient},
		{"wrapped permanent", wrap(Permanent(errors.New("rejected"))), ClassPermanent},
		{"context cancelled", context.Canceled, ClassPermanent},
		{"context deadline", context.DeadlineExceeded, ClassPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DefaultClassify(tt.err); got != tt.want {
				t.Errorf("DefaultClassify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestPermanent_NilPassthrough(t *testing.T) {
	if Permanent(nil) != nil {
		t.Error("Permanent(nil) must be nil")
	}
	if Temporary(nil) != nil {
		t.Error("Temporary(nil) must be nil")
	}
}

func wrap(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
