package money

import "testing"

func TestNewRounds(t *testing.T) {
	a, err := New("10.005")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.String() != "10.01" {
		t.Fatalf("want 10.01, got %s", a.String())
	}
}

func TestArithmetic(t *testing.T) {
	a := FromCents(1000)
	b := FromCents(250)
	if got := a.Add(b).String(); got != "12.50" {
		t.Fatalf("add: got %s", got)
	}
	if got := a.Sub(b).String(); got != "7.50" {
		t.Fatalf("sub: got %s", got)
	}
}

func TestGreaterThanOrEqual(t *testing.T) {
	a := FromCents(1000)
	b := FromCents(1000)
	c := FromCents(1001)
	if !a.GreaterThanOrEqual(b) {
		t.Fatal("expected equal amounts to satisfy >=")
	}
	if a.GreaterThanOrEqual(c) {
		t.Fatal("expected 10.00 >= 10.01 to be false")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	a := FromCents(3200)
	b, err := a.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Amount
	if err := out.UnmarshalJSON(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Cmp(a) != 0 {
		t.Fatalf("round trip mismatch: %s != %s", out, a)
	}
}

func TestScanString(t *testing.T) {
	var a Amount
	if err := a.Scan("42.50"); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if a.String() != "42.50" {
		t.Fatalf("got %s", a.String())
	}
}
