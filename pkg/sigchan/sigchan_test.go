package sigchan

import "testing"

func TestChan_Coalesces(t *testing.T) {
	c := New(1)
	if c.Take() {
		t.Fatalf("expected no pending signal")
	}
	c.Emit()
	c.Emit()
	c.Emit()
	if !c.Take() {
		t.Fatalf("expected pending signal")
	}
	if c.Take() {
		t.Fatalf("signals should coalesce into one")
	}
}
