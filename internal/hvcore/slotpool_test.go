package hvcore

import "testing"

func TestSlotPoolReusesReleased(t *testing.T) {
	var p SlotPool

	a := p.Acquire()
	b := p.Acquire()
	c := p.Acquire()
	if a != 0 || b != 1 || c != 2 {
		t.Fatalf("Acquire() sequence = %d,%d,%d, want 0,1,2", a, b, c)
	}

	p.Release(b)
	if got := p.Acquire(); got != b {
		t.Fatalf("Acquire() after Release(%d) = %d, want reuse of %d", b, got, b)
	}
}

func TestSlotPoolGrowsWhenPoolEmpty(t *testing.T) {
	var p SlotPool
	for i := uint32(0); i < 4; i++ {
		if got := p.Acquire(); got != i {
			t.Fatalf("Acquire() = %d, want %d", got, i)
		}
	}
}
