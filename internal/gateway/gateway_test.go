package gateway

import "testing"

func TestMapStatusSuccessful(t *testing.T) {
	for _, s := range []string{"SUCCESSFUL", "success", "Confirmed", "completed", "ok"} {
		if MapStatus(s) != StatusSuccessful {
			t.Fatalf("expected %q to map to successful", s)
		}
	}
}

func TestMapStatusFailed(t *testing.T) {
	for _, s := range []string{"FAILED", "failure", "Error", "rejected", "declined"} {
		if MapStatus(s) != StatusFailed {
			t.Fatalf("expected %q to map to failed", s)
		}
	}
}

func TestMapStatusPendingDefault(t *testing.T) {
	for _, s := range []string{"PENDING", "processing", "", "unknown"} {
		if MapStatus(s) != StatusPending {
			t.Fatalf("expected %q to map to pending", s)
		}
	}
}
