package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, &ReconnectConfig{MaxAttempts: 5, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond})

	if err != nil {
		t.Fatalf("Expected reconnect to succeed, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_GivesUp(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), "test", func() error {
		attempts++
		return errors.New("down")
	}, &ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Millisecond})

	if err == nil {
		t.Fatal("Expected error after exhausting attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestReconnect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Reconnect(ctx, "test", func() error {
		called = true
		return nil
	}, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("Expected no attempt on a cancelled context")
	}
}
