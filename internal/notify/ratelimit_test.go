package notify

import (
	"testing"
	"time"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := NewLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("notice %d should be allowed", i+1)
		}
	}
	if l.Allow() {
		t.Error("4th notice should be suppressed")
	}
	if l.Dropped() != 1 {
		t.Errorf("expected 1 dropped, got %d", l.Dropped())
	}
}

func TestLimiterWindowSlides(t *testing.T) {
	l := NewLimiter(2, 30*time.Millisecond)

	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("window should be full")
	}

	time.Sleep(40 * time.Millisecond)
	if !l.Allow() {
		t.Error("expected slot after the window slid")
	}
}

func TestLimiterDefaults(t *testing.T) {
	l := NewLimiter(0, 0)
	if l.maxPerWindow != 3 {
		t.Errorf("expected default max 3, got %d", l.maxPerWindow)
	}
	if l.window != 5*time.Minute {
		t.Errorf("expected default window 5m, got %v", l.window)
	}
}
