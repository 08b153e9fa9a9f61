package hvcore

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := New(KindInvalidGuestAddress, "test: op", fmt.Errorf("native cause"))
	if !errors.Is(err, ErrInvalidGuestAddress) {
		t.Fatal("errors.Is should match sentinel by Kind")
	}
	if errors.Is(err, ErrOutOfMemory) {
		t.Fatal("errors.Is should not match a different Kind")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("native cause")
	err := New(KindBackendError, "test: op", cause)
	if errors.Unwrap(err) != cause {
		t.Fatal("Unwrap() should return the wrapped native cause")
	}
}

func TestErrorStringIncludesOp(t *testing.T) {
	err := New(KindHostUnavailable, "kvm: open /dev/kvm", fmt.Errorf("permission denied"))
	got := err.Error()
	if !strings.Contains(got, "kvm: open /dev/kvm") {
		t.Fatalf("Error() = %q, want it to include the Op", got)
	}
}
