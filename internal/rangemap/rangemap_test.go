package rangemap

import "testing"

func TestInsertAndGet(t *testing.T) {
	m := New[string]()
	if err := m.Insert(Range{Start: 0x1000, End: 0x2000}, "a"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := m.Insert(Range{Start: 0x2000, End: 0x3000}, "b"); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	start, v, ok := m.Get(0x1500)
	if !ok || start != 0x1000 || v != "a" {
		t.Fatalf("Get(0x1500) = %v, %v, %v", start, v, ok)
	}
	start, v, ok = m.Get(0x2fff)
	if !ok || start != 0x2000 || v != "b" {
		t.Fatalf("Get(0x2fff) = %v, %v, %v", start, v, ok)
	}
	if _, _, ok := m.Get(0x3000); ok {
		t.Fatal("Get(0x3000) should miss, end is exclusive")
	}
	if _, _, ok := m.Get(0xfff); ok {
		t.Fatal("Get(0xfff) should miss, below first range")
	}
}

func TestInsertOverlapRejected(t *testing.T) {
	m := New[int]()
	if err := m.Insert(Range{Start: 0x1000, End: 0x2000}, 1); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := m.Insert(Range{Start: 0x1800, End: 0x2800}, 2); err != ErrOverlap {
		t.Fatalf("Insert() overlap error = %v, want ErrOverlap", err)
	}
	if err := m.Insert(Range{Start: 0x0800, End: 0x1800}, 2); err != ErrOverlap {
		t.Fatalf("Insert() overlap error = %v, want ErrOverlap", err)
	}
	// Adjacent, non-overlapping ranges are fine.
	if err := m.Insert(Range{Start: 0x2000, End: 0x3000}, 3); err != nil {
		t.Fatalf("Insert() adjacent range error = %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestRemoveAndGetExact(t *testing.T) {
	m := New[int]()
	_ = m.Insert(Range{Start: 0x1000, End: 0x2000}, 42)

	if v, ok := m.GetExact(0x1000); !ok || v != 42 {
		t.Fatalf("GetExact(0x1000) = %v, %v", v, ok)
	}
	if _, ok := m.GetExact(0x1800); ok {
		t.Fatal("GetExact(0x1800) should miss, not a range start")
	}
	if !m.Remove(0x1000) {
		t.Fatal("Remove(0x1000) should succeed")
	}
	if m.Remove(0x1000) {
		t.Fatal("Remove(0x1000) twice should fail")
	}
	if m.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", m.Len())
	}
}
