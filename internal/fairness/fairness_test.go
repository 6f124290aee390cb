package fairness

import "testing"

func TestDeriveCrashPointDeterministic(t *testing.T) {
	seed := []byte("a-fixed-test-seed-value")
	a := DeriveCrashPoint(seed, "")
	b := DeriveCrashPoint(seed, "")
	if a != b {
		t.Fatalf("expected deterministic result, got %d then %d", a, b)
	}
	if a < 100 {
		t.Fatalf("crash point must clamp to >= 1.00, got %d", a)
	}
}

func TestDeriveCrashPointVariesWithSeed(t *testing.T) {
	a := DeriveCrashPoint([]byte("seed-one"), "")
	b := DeriveCrashPoint([]byte("seed-two"), "")
	if a == b {
		t.Fatalf("expected different seeds to (almost certainly) yield different crash points")
	}
}

func TestVerifyCrashPointRoundTrip(t *testing.T) {
	seed := []byte("verify-me")
	crash := DeriveCrashPoint(seed, "")
	if !VerifyCrashPoint(seed, "", crash) {
		t.Fatal("expected verification to succeed against the same seed")
	}
	if VerifyCrashPoint(seed, "", crash+1) {
		t.Fatal("expected verification to fail against a wrong claimed value")
	}
}

func TestCommitmentBinding(t *testing.T) {
	seed := []byte("commit-me")
	hash := HashCommitment(seed)
	if !VerifyCommitment(seed, hash) {
		t.Fatal("expected seed to verify against its own commitment hash")
	}
	if VerifyCommitment([]byte("wrong-seed"), hash) {
		t.Fatal("expected a different seed to fail commitment verification")
	}
}
