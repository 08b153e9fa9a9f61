//go:build freebsd

package bhyve

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
			t.Skip("Skipping: vmm(4) unavailable (CI environment, module not loaded)")
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
	if err := vm.Build("hv-bhyve-test"); err != nil {
		if errors.Is(err, hvcore.ErrHostUnavailable) {
			t.Skip("Skipping: vmm(4) unavailable (CI environment, module not loaded)")
		}
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

func TestAllocatePhysicalMemory(t *testing.T) {
	h := openTestHypervisor(t)
	defer h.Close()

	vm, err := h.BuildVm()
	if err != nil {
		t.Fatalf("BuildVm() error = %v", err)
	}
	defer vm.Close()
	if err := vm.Build("hv-bhyve-test-mem"); err != nil {
		if errors.Is(err, hvcore.ErrHostUnavailable) {
			t.Skip("Skipping: vmm(4) unavailable (CI environment, module not loaded)")
		}
		t.Fatalf("Build() error = %v", err)
	}

	const gpa = 0x50_0000
	mapping, err := vm.AllocatePhysicalMemory(gpa, 0x1000, hvcore.ProtRead|hvcore.ProtWrite)
	if err != nil {
		t.Fatalf("AllocatePhysicalMemory() error = %v", err)
	}
	defer mapping.Close()

	want := []byte("bhyve memory test")
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

func TestMapPhysicalMemoryNotImplemented(t *testing.T) {
	h := openTestHypervisor(t)
	defer h.Close()

	vm, err := h.BuildVm()
	if err != nil {
		t.Fatalf("BuildVm() error = %v", err)
	}
	defer vm.Close()
	if err := vm.Build("hv-bhyve-test-map"); err != nil {
		if errors.Is(err, hvcore.ErrHostUnavailable) {
			t.Skip("Skipping: vmm(4) unavailable (CI environment, module not loaded)")
		}
		t.Fatalf("Build() error = %v", err)
	}

	buf := make([]byte, 0x1000)
	err = vm.MapPhysicalMemory(0x60_0000, nil, uintptr(len(buf)), hvcore.ProtRead)
	if !errors.Is(err, hvcore.ErrNotImplemented) {
		t.Fatalf("MapPhysicalMemory() error = %v, want ErrNotImplemented", err)
	}
}
