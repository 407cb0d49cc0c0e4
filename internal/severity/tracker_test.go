package severity

import (
	"sync"
	"testing"
)

func TestAdd_CreatesOnFirstMessage(t *testing.T) {
	tr := NewTracker()

	if got := tr.Score("conv-1"); got != 0 {
		t.Errorf("Score before first message = %d, want 0", got)
	}
	if got := tr.Add("conv-1", 2); got != 2 {
		t.Errorf("Add = %d, want 2", got)
	}
	if got := tr.Score("conv-1"); got != 2 {
		t.Errorf("Score = %d, want 2", got)
	}
	if tr.Count() != 1 {
		t.Errorf("Count = %d, want 1", tr.Count())
	}
}

func TestAdd_NeverNegative(t *testing.T) {
	tr := NewTracker()
	tr.Add("conv-1", 3)
	if got := tr.Add("conv-1", -10); got != 0 {
		t.Errorf("score after large decrement = %d, want 0", got)
	}
}

func TestAdd_ConcurrentIncrements(t *testing.T) {
	tr := NewTracker()

	const goroutines = 16
	const perGoroutine = 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				tr.Add("conv-1", 1)
			}
		}()
	}
	wg.Wait()

	if got := tr.Score("conv-1"); got != goroutines*perGoroutine {
		t.Errorf("Score = %d, want %d (lost updates)", got, goroutines*perGoroutine)
	}
}

func TestForget(t *testing.T) {
	tr := NewTracker()
	tr.Add("conv-1", 5)
	tr.Forget("conv-1")

	if got := tr.Score("conv-1"); got != 0 {
		t.Errorf("Score after Forget = %d, want 0", got)
	}
	if tr.Count() != 0 {
		t.Errorf("Count after Forget = %d, want 0", tr.Count())
	}
}

func TestTracker_IndependentConversations(t *testing.T) {
	tr := NewTracker()
	tr.Add("a", 1)
	tr.Add("b", 4)

	if tr.Score("a") != 1 || tr.Score("b") != 4 {
		t.Errorf("scores = (%d, %d), want (1, 4)", tr.Score("a"), tr.Score("b"))
	}
}
