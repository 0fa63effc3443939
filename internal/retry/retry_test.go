package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_NonTransientNotRetried(t *testing.T) {
	hard := errors.New("permission denied")
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return hard
	})
	if !errors.Is(err, hard) {
		t.Errorf("Do = %v, want %v", err, hard)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(), func() error {
		calls++
		return Transient(errors.New("down"))
	})
	if err == nil {
		t.Fatal("Do succeeded against a permanently failing fn")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, fastConfig(), func() error {
		return Transient(errors.New("slow"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do = %v, want context.Canceled", err)
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(), func() ([]byte, error) {
		calls++
		if calls < 2 {
			return nil, Transient(errors.New("flaky"))
		}
		return []byte("ok"), nil
	})
	if err != nil || string(got) != "ok" {
		t.Errorf("DoWithResult = (%q, %v)", got, err)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(errors.New("plain")) {
		t.Error("plain error reported transient")
	}
	if !IsTransient(Transient(errors.New("wrapped"))) {
		t.Error("wrapped error not reported transient")
	}
	// Wrapping must survive fmt-style chains.
	chained := errors.Join(errors.New("context"), Transient(errors.New("inner")))
	if !IsTransient(chained) {
		t.Error("transient lost through join")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) != nil")
	}
}
