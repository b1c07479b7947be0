package syncgroup

import (
	"sync/atomic"
	"testing"
)

func TestSyncGroup_CloseWaitsAndRejects(t *testing.T) {
	g := NewSyncGroup()
	var n atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		if !g.Go(func() {
			<-release
			n.Add(1)
		}) {
			t.Fatalf("Go rejected before Close")
		}
	}
	close(release)
	g.Close()
	if n.Load() != 3 {
		t.Fatalf("expected 3 finished goroutines, got %d", n.Load())
	}
	if g.Go(func() {}) {
		t.Fatalf("Go accepted after Close")
	}
	if g.Running() != 0 {
		t.Fatalf("expected 0 running, got %d", g.Running())
	}
}
