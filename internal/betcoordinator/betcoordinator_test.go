package betcoordinator

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"aviator/internal/money"
)

func TestAllowCashoutEnforcesMinInterval(t *testing.T) {
	c := New(nil, nil, money.FromCents(100), money.FromCents(100000), 50*time.Millisecond, time.Minute, 1000, zap.NewNop())

	if !c.allowCashout("user-1") {
		t.Fatal("expected first cashout to be allowed")
	}
	if c.allowCashout("user-1") {
		t.Fatal("expected immediate second cashout to be rejected")
	}

	time.Sleep(60 * time.Millisecond)
	if !c.allowCashout("user-1") {
		t.Fatal("expected cashout to be allowed again after the interval")
	}
}

func TestAllowCashoutPrunesOldEntries(t *testing.T) {
	c := New(nil, nil, money.FromCents(100), money.FromCents(100000), time.Millisecond, 20*time.Millisecond, 1000, zap.NewNop())

	c.allowCashout("user-1")
	time.Sleep(30 * time.Millisecond)
	c.allowCashout("user-2")

	c.mu.Lock()
	_, stillPresent := c.lastCashout["user-1"]
	c.mu.Unlock()

	if stillPresent {
		t.Fatal("expected user-1's stale entry to be pruned")
	}
}

func TestAllowCashoutEnforcesMaxEntries(t *testing.T) {
	c := New(nil, nil, money.FromCents(100), money.FromCents(100000), time.Hour, time.Hour, 2, zap.NewNop())

	c.allowCashout("user-1")
	c.allowCashout("user-2")
	c.allowCashout("user-3")

	c.mu.Lock()
	size := len(c.lastCashout)
	c.mu.Unlock()

	if size > 2 {
		t.Fatalf("expected bounded map of size <= 2, got %d", size)
	}
}
