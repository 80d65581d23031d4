package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

// fakeClock lets tests advance time without sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(cfg Config) (*Limiter, *fakeClock) {
	l := NewLimiter(cfg)
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l.now = func() time.Time { return clock.now }
	return l, clock
}

func TestLimiter_BurstDenied(t *testing.T) {
	l, _ := newTestLimiter(Config{Window: time.Second, MaxRequests: 3, Enabled: true})

	for i := 0; i < 3; i++ {
		if !l.Allow("alice") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	// Burst of N+1 within the window yields a denial.
	if l.Allow("alice") {
		t.Error("fourth request within window should be denied")
	}
}

func TestLimiter_WindowReset(t *testing.T) {
	l, clock := newTestLimiter(Config{Window: time.Second, MaxRequests: 2, Enabled: true})

	l.Allow("bob")
	l.Allow("bob")
	if l.Allow("bob") {
		t.Fatal("should be denied after exhausting window")
	}

	clock.advance(1100 * time.Millisecond)
	if !l.Allow("bob") {
		t.Error("should be allowed after idle window")
	}
}

func TestLimiter_SlidingBehaviour(t *testing.T) {
	l, clock := newTestLimiter(Config{Window: time.Second, MaxRequests: 2, Enabled: true})

	l.Allow("carol")
	clock.advance(600 * time.Millisecond)
	l.Allow("carol")
	if l.Allow("carol") {
		t.Fatal("third request should be denied")
	}

	// First entry slides out of the window; one slot opens up.
	clock.advance(500 * time.Millisecond)
	if !l.Allow("carol") {
		t.Error("request should be allowed once oldest entry expired")
	}
	if l.Allow("carol") {
		t.Error("window is full again")
	}
}

func TestLimiter_TokenBudget(t *testing.T) {
	l, _ := newTestLimiter(Config{Window: time.Second, MaxRequests: 100, MaxTokens: 1000, Enabled: true})

	if !l.AllowN("dave", 600) {
		t.Fatal("first spend should be allowed")
	}
	if l.AllowN("dave", 500) {
		t.Error("spend exceeding token budget should be denied")
	}
	// The denied request was not recorded; a smaller spend still fits.
	if !l.AllowN("dave", 400) {
		t.Error("spend within remaining budget should be allowed")
	}
}

func TestLimiter_PrincipalsIsolated(t *testing.T) {
	l, _ := newTestLimiter(Config{Window: time.Second, MaxRequests: 1, Enabled: true})

	if !l.Allow("a") {
		t.Fatal("first principal should be allowed")
	}
	if !l.Allow("b") {
		t.Error("second principal must not share the first's window")
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l, _ := newTestLimiter(Config{Window: time.Second, MaxRequests: 1, Enabled: false})
	for i := 0; i < 10; i++ {
		if !l.Allow("x") {
			t.Fatal("disabled limiter should always allow")
		}
	}
}

func TestLimiter_GetStatus(t *testing.T) {
	l, _ := newTestLimiter(Config{Window: time.Second, MaxRequests: 2, Enabled: true})

	status := l.GetStatus("eve")
	if !status.AllowedNow || status.RequestsRemaining != 2 {
		t.Errorf("fresh status = %+v", status)
	}
	l.Allow("eve")
	l.Allow("eve")
	status = l.GetStatus("eve")
	if status.AllowedNow || status.RequestsRemaining != 0 {
		t.Errorf("exhausted status = %+v", status)
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(Config{Window: time.Second, MaxRequests: 1, Enabled: true})
	l.Allow("frank")
	if l.Allow("frank") {
		t.Fatal("should be denied")
	}
	l.Reset("frank")
	if !l.Allow("frank") {
		t.Error("should be allowed after reset")
	}
}

func TestCompositeKey(t *testing.T) {
	if got := CompositeKey("user", "42", "chat"); got != "user:42:chat" {
		t.Errorf("CompositeKey = %q", got)
	}
}

func BenchmarkLimiter_Allow(b *testing.B) {
	l := NewLimiter(Config{Window: time.Second, MaxRequests: 1000000, Enabled: true})
	for i := 0; i < b.N; i++ {
		l.Allow(fmt.Sprintf("p%d", i%100))
	}
}
