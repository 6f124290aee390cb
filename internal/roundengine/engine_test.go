package roundengine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"aviator/internal/money"
	"aviator/internal/seedstore"
)

type fixedSeedSource struct {
	idx  int64
	seed []byte
}

func (f *fixedSeedSource) EnsureNext(ctx context.Context) (seedstore.Commit, error) {
	idx := f.idx
	f.idx++
	return seedstore.Commit{Idx: idx, SeedHash: seedstore.HashCommitment(f.seed)}, nil
}

func (f *fixedSeedSource) SeedFor(idx int64) ([]byte, bool) {
	return f.seed, false
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	seeds := &fixedSeedSource{seed: []byte("deterministic-test-seed")}
	e := New(seeds, Config{InterRoundGap: 10 * time.Millisecond}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	e.Start(ctx)
	t.Cleanup(e.Dispose)
	return e
}

func waitForRunning(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if e.GetStatus().Status == "running" {
			return
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for a running round")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestJoinAndStatus(t *testing.T) {
	e := newTestEngine(t)
	waitForRunning(t, e)

	res, err := e.Join("player-1", money.FromCents(1000))
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.RoundID == "" {
		t.Fatal("expected a round id")
	}
}

func TestJoinRejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	waitForRunning(t, e)

	if _, err := e.Join("player-1", money.FromCents(1000)); err != nil {
		t.Fatalf("first join: %v", err)
	}
	if _, err := e.Join("player-1", money.FromCents(1000)); err != ErrAlreadyJoined {
		t.Fatalf("expected ErrAlreadyJoined, got %v", err)
	}
}

func TestCashoutWithoutJoinFails(t *testing.T) {
	e := newTestEngine(t)
	waitForRunning(t, e)

	_, err := e.Cashout("never-joined")
	if err != ErrNotJoined {
		t.Fatalf("expected ErrNotJoined, got %v", err)
	}
}

func TestCashoutTwiceReplaysSameResult(t *testing.T) {
	e := newTestEngine(t)
	waitForRunning(t, e)

	if _, err := e.Join("player-1", money.FromCents(1000)); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := e.Cashout("player-1")
	if err != nil {
		t.Fatalf("cashout: %v", err)
	}
	if !res.Win {
		// round may have crashed between join and cashout under an
		// unlucky seed; either way a second cashout must still be
		// answered without error.
	}

	// A repeated cashout must not error: it replays the same snapshot so
	// the ledger's idempotent branch stays reachable end to end (spec.md
	// §8 invariant #5 / scenario S3).
	again, err := e.Cashout("player-1")
	if err != nil {
		t.Fatalf("expected second cashout to succeed idempotently, got %v", err)
	}
	if again.Win != res.Win || again.Payout.Cmp(res.Payout) != 0 || !again.Multiplier.Equal(res.Multiplier) {
		t.Fatalf("expected replayed result to match first call: first=%+v second=%+v", res, again)
	}
}
