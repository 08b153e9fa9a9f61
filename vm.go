package hv

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/tinyrange/hv/internal/hvcore"
)

// VmBuilder carries the maximum vCPU count and any backend-specific
// pre-creation state. Consumed by Build into a Vm.
type VmBuilder struct {
	impl hvcore.VmImpl
}

// WithVcpuCount records the desired processor count. On WHP this is
// committed to the partition as a property; on other backends it is
// accepted and not validated against any host limit (HVF reports its cap
// separately through Hypervisor.MaxVcpuCount).
func (b *VmBuilder) WithVcpuCount(n uint32) (*VmBuilder, error) {
	if err := b.impl.WithVcpuCount(n); err != nil {
		return nil, err
	}
	return b, nil
}

// Build finalizes partition setup and returns the live Vm. name is used by
// backends that identify VMs textually (bhyve); other backends ignore it.
func (b *VmBuilder) Build(name string) (*Vm, error) {
	if err := b.impl.Build(name); err != nil {
		return nil, err
	}
	vm := &Vm{impl: b.impl}
	runtime.SetFinalizer(vm, (*Vm).finalize)
	return vm, nil
}

// Vm is a partition: a backend VM handle plus the guest-physical memory
// map and vCPUs built on top of it. Multiple Vcpu and Mapping values share
// the underlying partition; every mutating method below is serialized by
// mu, matching spec §5's "operations on the same Vm are linearizable under
// its exclusive lock".
type Vm struct {
	mu     sync.Mutex
	impl   hvcore.VmImpl
	closed bool
}

func (vm *Vm) finalize() {
	_ = vm.Close()
}

// CreateVcpu creates a vCPU bound to this VM. id must be unique within the
// VM. On HVF the vCPU is reset to architectural power-on state immediately.
func (vm *Vm) CreateVcpu(id uint32) (*Vcpu, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	impl, err := vm.impl.CreateVcpu(id)
	if err != nil {
		return nil, err
	}
	cpu := &Vcpu{impl: impl}
	runtime.SetFinalizer(cpu, (*Vcpu).finalize)
	return cpu, nil
}

// AllocatePhysicalMemory obtains a size-byte host region, maps it at gpa
// with the given protection, and returns an owning Mapping. size must be a
// multiple of the host page size.
func (vm *Vm) AllocatePhysicalMemory(gpa uint64, size uintptr, prot Protection) (*Mapping, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	mimpl, err := vm.impl.AllocatePhysicalMemory(gpa, size, prot)
	if err != nil {
		return nil, err
	}
	m := &Mapping{vm: vm, impl: mimpl, gpa: gpa, prot: prot}
	runtime.SetFinalizer(m, (*Mapping).finalize)
	return m, nil
}

// MapPhysicalMemory maps an externally-provided region without taking
// ownership of it. The caller must keep the region alive and unchanged
// while it remains mapped.
func (vm *Vm) MapPhysicalMemory(gpa uint64, hostPtr unsafe.Pointer, size uintptr, prot Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.impl.MapPhysicalMemory(gpa, hostPtr, size, prot)
}

// UnmapPhysicalMemory tears down the mapping whose base equals gpa and
// returns its slot to the free list where applicable. Fails with
// ErrInvalidGuestAddress if gpa is not a mapped base.
func (vm *Vm) UnmapPhysicalMemory(gpa uint64) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.impl.UnmapPhysicalMemory(gpa)
}

// ProtectPhysicalMemory changes the effective protection of the region
// whose base equals gpa.
func (vm *Vm) ProtectPhysicalMemory(gpa uint64, prot Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.impl.ProtectPhysicalMemory(gpa, prot)
}

// ReadPhysicalMemory copies from the host-visible backing of the region
// covering gpa into out, saturating at the region end. It returns the byte
// count actually copied.
func (vm *Vm) ReadPhysicalMemory(out []byte, gpa uint64) (int, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.impl.ReadPhysicalMemory(out, gpa)
}

// WritePhysicalMemory copies in into the host-visible backing of the
// region covering gpa, saturating at the region end.
func (vm *Vm) WritePhysicalMemory(gpa uint64, in []byte) (int, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	return vm.impl.WritePhysicalMemory(gpa, in)
}

// Close tears down the partition via the host API. It is safe to call more
// than once; subsequent calls are no-ops.
func (vm *Vm) Close() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return nil
	}
	vm.closed = true
	runtime.SetFinalizer(vm, nil)
	return vm.impl.Close()
}
