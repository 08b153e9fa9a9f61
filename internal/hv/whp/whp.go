//go:build windows

// Package whp implements the hvcore contract against the Windows
// Hypervisor Platform API (WinHvPlatform.dll). Grounded on the teacher
// project's internal/hv/whp/bindings package, trimmed here to the WHV_*
// procs this port calls; this file narrows the partition-level
// facade down to the guest-physical-memory and vCPU-lifecycle operations
// the contract needs (no ACPI, no IOAPIC/HPET device models, no
// snapshotting, no x86 instruction emulator).
package whp

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"unsafe"

	"github.com/tinyrange/hv/internal/hv/whp/bindings"
	"github.com/tinyrange/hv/internal/hvcore"
	"github.com/tinyrange/hv/internal/rangemap"
)

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	logger *slog.Logger
}

// WithLogger attaches a structured logger; construction and teardown are
// logged through it. Host-API failures are returned, not logged. Defaults
// to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// Hypervisor is the process-level WHP capability check. WHP has no
// process-wide handle of its own; every partition is independent, so Open
// only confirms the hypervisor is present.
type Hypervisor struct {
	logger *slog.Logger
}

// Open checks WHV_CAPABILITY_CODE_HYPERVISOR_PRESENT and returns the
// process-level handle used by the facade.
func Open(opts ...Option) (*Hypervisor, error) {
	cfg := openConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	var present uint32
	_, err := bindings.GetCapability(bindings.CapabilityCodeHypervisorPresent, unsafe.Pointer(&present), uint32(unsafe.Sizeof(present)))
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: WHvGetCapability", err)
	}
	if present == 0 {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: open",
			fmt.Errorf("WHvCapabilityCodeHypervisorPresent reports false"))
	}
	cfg.logger.Info("whp: hypervisor present")
	return &Hypervisor{logger: cfg.logger}, nil
}

func (h *Hypervisor) BuildVm() (hvcore.VmImpl, error) {
	part, err := bindings.CreatePartition()
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: WHvCreatePartition", err)
	}
	h.logger.Info("whp: partition created")
	vm := &virtualMachine{
		part:     part,
		segments: rangemap.New[*segment](),
		vcpus:    make(map[uint32]*virtualCPU),
		logger:   h.logger,
	}
	runtime.SetFinalizer(vm, (*virtualMachine).finalize)
	return vm, nil
}

func (h *Hypervisor) Close() error { return nil }

type segment struct {
	mem  []byte
	prot hvcore.Protection
}

type virtualMachine struct {
	mu       sync.Mutex
	part     bindings.PartitionHandle
	closed   bool
	vcpus    map[uint32]*virtualCPU
	segments *rangemap.Map[*segment]
	logger   *slog.Logger
}

func (vm *virtualMachine) finalize() { _ = vm.Close() }

// WithVcpuCount sets WHV_PARTITION_PROPERTY_CODE_PROCESSOR_COUNT, which
// WHP requires to be fixed before WHvSetupPartition.
func (vm *virtualMachine) WithVcpuCount(n uint32) error {
	if err := bindings.SetPartitionPropertyUnsafe(vm.part, bindings.PartitionPropertyCodeProcessorCount, n); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: WHvSetPartitionProperty (ProcessorCount)", err)
	}
	return nil
}

// Build finishes partition setup. name is unused on WHP, which identifies
// partitions only by handle.
func (vm *virtualMachine) Build(name string) error {
	if err := bindings.SetupPartition(vm.part); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: WHvSetupPartition", err)
	}
	return nil
}

func (vm *virtualMachine) CreateVcpu(id uint32) (hvcore.VcpuImpl, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, exists := vm.vcpus[id]; exists {
		return nil, hvcore.New(hvcore.KindBackendError, "whp: create_vcpu",
			fmt.Errorf("vcpu id %d already exists", id))
	}
	if err := bindings.CreateVirtualProcessor(vm.part, id, 0); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: WHvCreateVirtualProcessor", err)
	}
	cpu := &virtualCPU{vm: vm, id: id}
	vm.vcpus[id] = cpu
	runtime.SetFinalizer(cpu, (*virtualCPU).finalize)
	return cpu, nil
}

func gpaFlags(prot hvcore.Protection) bindings.MapGPARangeFlags {
	var flags bindings.MapGPARangeFlags
	if prot.Has(hvcore.ProtRead) {
		flags |= bindings.MapGPARangeFlagRead
	}
	if prot.Has(hvcore.ProtWrite) {
		flags |= bindings.MapGPARangeFlagWrite
	}
	if prot.Has(hvcore.ProtExecute) {
		flags |= bindings.MapGPARangeFlagExecute
	}
	return flags
}

func (vm *virtualMachine) AllocatePhysicalMemory(gpa uint64, size uintptr, prot hvcore.Protection) (hvcore.MappingImpl, error) {
	alloc, err := bindings.VirtualAlloc(0, size, bindings.MEM_RESERVE|bindings.MEM_COMMIT, bindings.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, hvcore.New(hvcore.KindOutOfMemory, "whp: VirtualAlloc", err)
	}
	mem := alloc.Slice()
	if err := vm.mapPhysicalMemory(gpa, mem, prot); err != nil {
		_ = bindings.VirtualFree(alloc, bindings.MEM_RELEASE)
		return nil, err
	}
	return &whpMapping{alloc: alloc}, nil
}

func (vm *virtualMachine) MapPhysicalMemory(gpa uint64, hostPtr unsafe.Pointer, size uintptr, prot hvcore.Protection) error {
	mem := unsafe.Slice((*byte)(hostPtr), size)
	return vm.mapPhysicalMemory(gpa, mem, prot)
}

func (vm *virtualMachine) mapPhysicalMemory(gpa uint64, mem []byte, prot hvcore.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	seg := &segment{mem: mem, prot: prot}
	if err := vm.segments.Insert(rangemap.Range{Start: gpa, End: gpa + uint64(len(mem))}, seg); err != nil {
		return hvcore.New(hvcore.KindBackendError, "whp: map_physical_memory", err)
	}
	if err := bindings.MapGPARange(vm.part, unsafe.Pointer(&mem[0]), bindings.GuestPhysicalAddress(gpa), uint64(len(mem)), gpaFlags(prot)); err != nil {
		vm.segments.Remove(gpa)
		return hvcore.New(hvcore.KindHostUnavailable, "whp: WHvMapGpaRange", err)
	}
	return nil
}

func (vm *virtualMachine) UnmapPhysicalMemory(gpa uint64) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	seg, ok := vm.segments.GetExact(gpa)
	if !ok {
		return hvcore.ErrInvalidGuestAddress
	}
	if err := bindings.UnmapGPARange(vm.part, bindings.GuestPhysicalAddress(gpa), uint64(len(seg.mem))); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: WHvUnmapGpaRange", err)
	}
	vm.segments.Remove(gpa)
	return nil
}

// ProtectPhysicalMemory has no direct WHP equivalent: permissions are set
// only at map time, so changing them means unmapping and remapping the
// same host pages with the new flags.
func (vm *virtualMachine) ProtectPhysicalMemory(gpa uint64, prot hvcore.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	seg, ok := vm.segments.GetExact(gpa)
	if !ok {
		return hvcore.ErrInvalidGuestAddress
	}
	if err := bindings.UnmapGPARange(vm.part, bindings.GuestPhysicalAddress(gpa), uint64(len(seg.mem))); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: protect_physical_memory (unmap)", err)
	}
	if err := bindings.MapGPARange(vm.part, unsafe.Pointer(&seg.mem[0]), bindings.GuestPhysicalAddress(gpa), uint64(len(seg.mem)), gpaFlags(prot)); err != nil {
		vm.segments.Remove(gpa)
		return hvcore.New(hvcore.KindHostUnavailable, "whp: protect_physical_memory (remap)", err)
	}
	seg.prot = prot
	return nil
}

func (vm *virtualMachine) ReadPhysicalMemory(out []byte, gpa uint64) (int, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	base, seg, ok := vm.segments.Get(gpa)
	if !ok {
		return 0, hvcore.ErrInvalidGuestAddress
	}
	offset := gpa - base
	n := len(seg.mem) - int(offset)
	if n > len(out) {
		n = len(out)
	}
	copy(out[:n], seg.mem[offset:offset+uintptr(n)])
	return n, nil
}

func (vm *virtualMachine) WritePhysicalMemory(gpa uint64, in []byte) (int, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	base, seg, ok := vm.segments.Get(gpa)
	if !ok {
		return 0, hvcore.ErrInvalidGuestAddress
	}
	offset := gpa - base
	n := len(seg.mem) - int(offset)
	if n > len(in) {
		n = len(in)
	}
	copy(seg.mem[offset:offset+uintptr(n)], in[:n])
	return n, nil
}

func (vm *virtualMachine) Close() error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if vm.closed {
		return nil
	}
	vm.closed = true
	runtime.SetFinalizer(vm, nil)
	vm.logger.Info("whp: partition deleted")
	return bindings.DeletePartition(vm.part)
}

type whpMapping struct {
	alloc *bindings.Allocation
}

func (m *whpMapping) Close() error {
	if m.alloc == nil {
		return nil
	}
	err := bindings.VirtualFree(m.alloc, bindings.MEM_RELEASE)
	m.alloc = nil
	return err
}
