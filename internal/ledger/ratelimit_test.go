package ledger

import (
	"testing"
	"time"
)

func TestTryAdmitBurst(t *testing.T) {
	l := NewRateLimiter(0.001, 3)
	for i := 0; i < 3; i++ {
		if !l.TryAdmit() {
			t.Fatalf("admit %d should succeed within burst", i)
		}
	}
	if l.TryAdmit() {
		t.Fatal("admit beyond burst should fail at a near-zero refill rate")
	}
}

func TestAdmitCostBounds(t *testing.T) {
	l := NewRateLimiter(100, 5)
	if _, err := l.Admit(6); err == nil {
		t.Fatal("cost above max batch size must be rejected")
	}
	wait, err := l.Admit(5)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if wait < 0 {
		t.Fatalf("negative wait %v", wait)
	}
}

func TestAdmitAccumulatesWait(t *testing.T) {
	l := NewRateLimiter(1, 2)
	if _, err := l.Admit(2); err != nil {
		t.Fatalf("first admit: %v", err)
	}
	wait, err := l.Admit(2)
	if err != nil {
		t.Fatalf("second admit: %v", err)
	}
	if wait <= 0 {
		t.Fatalf("second reservation at 1 tps should wait, got %v", wait)
	}
	if wait > 5*time.Second {
		t.Fatalf("wait unreasonably long: %v", wait)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	l := NewRateLimiter(0, 0)
	if l.MaxBatchSize() != 10 {
		t.Fatalf("default max batch size = %d", l.MaxBatchSize())
	}
	if !l.TryAdmit() {
		t.Fatal("fresh limiter should admit")
	}
}
