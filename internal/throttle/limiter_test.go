package throttle

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAllow(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	l := NewLimiter(2, time.Minute)
	defer l.Close()
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatalf("first two requests must pass")
	}
	if l.Allow("a") {
		t.Fatalf("third request inside the window must be rejected")
	}
	if !l.Allow("b") {
		t.Fatalf("keys are limited independently")
	}

	now = now.Add(time.Minute)
	if !l.Allow("a") {
		t.Fatalf("requests must pass once the window slides")
	}
}

func TestLimiterWaitHonoursContext(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	defer l.Close()

	if err := l.Wait(context.Background(), "host"); err != nil {
		t.Fatalf("first wait must not block: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "host"); err == nil {
		t.Fatalf("expected the context deadline while throttled")
	}
}

func TestLimiterWaitResumes(t *testing.T) {
	l := NewLimiter(1, 30*time.Millisecond)
	defer l.Close()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := l.Wait(context.Background(), "host"); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("second request must wait for the window, waited %s", elapsed)
	}
}

func TestLimiterDisabled(t *testing.T) {
	l := NewLimiter(0, time.Minute)
	defer l.Close()
	for i := 0; i < 100; i++ {
		if !l.Allow("x") {
			t.Fatalf("a zero limit disables throttling")
		}
	}
}
