//go:build linux

package kvm

import (
	"errors"
	"testing"

	"github.com/tinyrange/hv/internal/hvcore"
)

func openTestHypervisor(t *testing.T) *Hypervisor {
	t.Helper()
	h, err := Open()
	if err != nil {
		if errors.Is(err, hvcore.ErrHostUnavailable) {
			t.Skip("Skipping: /dev/kvm unavailable (CI environment)")
		}
		t.Fatalf("Open() error = %v", err)
	}
	return h
}

func TestOpenAndBuildVm(t *testing.T) {
	h := openTestHypervisor(t)
	defer h.Close()

	vm, err := h.BuildVm()
	if err != nil {
		t.Fatalf("BuildVm() error = %v", err)
	}
	defer vm.Close()

	if err := vm.WithVcpuCount(1); err != nil {
		t.Fatalf("WithVcpuCount() error = %v", err)
	}
	if err := vm.Build(""); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	cpu, err := vm.CreateVcpu(0)
	if err != nil {
		t.Fatalf("CreateVcpu() error = %v", err)
	}
	defer cpu.Close()

	if err := cpu.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	h := openTestHypervisor(t)
	defer h.Close()

	vm, err := h.BuildVm()
	if err != nil {
		t.Fatalf("BuildVm() error = %v", err)
	}
	defer vm.Close()
	if err := vm.Build(""); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	const gpa = 0x20_0000
	mapping, err := vm.AllocatePhysicalMemory(gpa, 0x1000, hvcore.ProtRead|hvcore.ProtWrite)
	if err != nil {
		t.Fatalf("AllocatePhysicalMemory() error = %v", err)
	}
	defer mapping.Close()

	want := []byte("kvm memory test")
	if _, err := vm.WritePhysicalMemory(gpa, want); err != nil {
		t.Fatalf("WritePhysicalMemory() error = %v", err)
	}
	got := make([]byte, len(want))
	if _, err := vm.ReadPhysicalMemory(got, gpa); err != nil {
		t.Fatalf("ReadPhysicalMemory() error = %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("ReadPhysicalMemory() = %q, want %q", got, want)
	}
}
