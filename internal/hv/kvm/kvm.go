//go:build linux

// Package kvm implements the hvcore contract against Linux's /dev/kvm
// uAPI. Grounded on the ioctl surface of the teacher project's
// internal/hv/kvm package, narrowed to the guest-physical-memory,
// register, and run-to-next-exit semantics the facade needs (no device
// model, no ACPI, no snapshotting).
package kvm

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/hv/internal/hvcore"
	"github.com/tinyrange/hv/internal/rangemap"
)

const devKVMPath = "/dev/kvm"

// Option configures Open. The zero value of every option is the teacher's
// original, hardcoded behavior.
type Option func(*openConfig)

type openConfig struct {
	devicePath string
	logger     *slog.Logger
}

// WithDevicePath overrides the /dev/kvm path, for tests that exercise a
// device node other than the default.
func WithDevicePath(path string) Option {
	return func(c *openConfig) { c.devicePath = path }
}

// WithLogger attaches a structured logger; construction, teardown, and
// memory-slot bookkeeping are logged through it. Host-API failures are
// returned, not logged. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// Hypervisor is the process-level /dev/kvm handle.
type Hypervisor struct {
	fd     int
	logger *slog.Logger
}

// Open opens /dev/kvm and validates the reported API version, returning
// the process-level handle used by the facade.
func Open(opts ...Option) (*Hypervisor, error) {
	cfg := openConfig{devicePath: devKVMPath, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	fd, err := unix.Open(cfg.devicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: open "+cfg.devicePath, err)
	}
	version, err := getAPIVersion(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: KVM_GET_API_VERSION", err)
	}
	if version != kvmApiVersion {
		_ = unix.Close(fd)
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: open "+cfg.devicePath,
			fmt.Errorf("unexpected API version %d", version))
	}
	cfg.logger.Info("kvm: opened", "device", cfg.devicePath, "api_version", version)
	return &Hypervisor{fd: fd, logger: cfg.logger}, nil
}

func (h *Hypervisor) BuildVm() (hvcore.VmImpl, error) {
	fd, err := createVM(h.fd)
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: KVM_CREATE_VM", err)
	}
	mmapSize, err := getVcpuMmapSize(h.fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: KVM_GET_VCPU_MMAP_SIZE", err)
	}
	vm := &virtualMachine{
		vmFd:     fd,
		runSize:  mmapSize,
		segments: rangemap.New[*segment](),
		vcpus:    make(map[uint32]*virtualCPU),
		logger:   h.logger,
	}
	runtime.SetFinalizer(vm, (*virtualMachine).finalize)
	return vm, nil
}

func (h *Hypervisor) Close() error {
	h.logger.Info("kvm: closed")
	return unix.Close(h.fd)
}

type segment struct {
	slot uint32
	mem  []byte
	size uintptr
	prot hvcore.Protection
}

type virtualMachine struct {
	mu       sync.Mutex
	vmFd     int
	runSize  int
	closed   bool
	vcpus    map[uint32]*virtualCPU
	segments *rangemap.Map[*segment]
	slots    hvcore.SlotPool
	logger   *slog.Logger
}

func (vm *virtualMachine) finalize() { _ = vm.Close() }

// WithVcpuCount is a no-op on KVM: there is no partition-level vCPU count
// property, only per-call KVM_CREATE_VCPU with a caller-chosen id.
func (vm *virtualMachine) WithVcpuCount(n uint32) error {
	return nil
}

// Build finishes VM setup. name is unused on KVM, which identifies VMs
// only by file descriptor.
func (vm *virtualMachine) Build(name string) error {
	if err := setTSSAddr(vm.vmFd, 0xFFFB_D000); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: KVM_SET_TSS_ADDR", err)
	}
	vm.logger.Info("kvm: vm built", "fd", vm.vmFd)
	return nil
}

func (vm *virtualMachine) CreateVcpu(id uint32) (hvcore.VcpuImpl, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, exists := vm.vcpus[id]; exists {
		return nil, hvcore.New(hvcore.KindBackendError, "kvm: create_vcpu",
			fmt.Errorf("vcpu id %d already exists", id))
	}
	fd, err := createVCPU(vm.vmFd, int(id))
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: KVM_CREATE_VCPU", err)
	}
	mem, err := unix.Mmap(fd, 0, vm.runSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = unix.Close(fd)
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: mmap kvm_run", err)
	}
	cpu := &virtualCPU{
		vm:  vm,
		id:  id,
		fd:  fd,
		run: mem,
	}
	vm.vcpus[id] = cpu
	runtime.SetFinalizer(cpu, (*virtualCPU).finalize)
	return cpu, nil
}

func (vm *virtualMachine) AllocatePhysicalMemory(gpa uint64, size uintptr, prot hvcore.Protection) (hvcore.MappingImpl, error) {
	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, hvcore.New(hvcore.KindOutOfMemory, "kvm: allocate_physical_memory", err)
	}
	if err := vm.mapPhysicalMemory(gpa, mem, size, prot); err != nil {
		_ = unix.Munmap(mem)
		return nil, err
	}
	return &kvmMapping{mem: mem}, nil
}

func (vm *virtualMachine) MapPhysicalMemory(gpa uint64, hostPtr unsafe.Pointer, size uintptr, prot hvcore.Protection) error {
	mem := unsafe.Slice((*byte)(hostPtr), size)
	return vm.mapPhysicalMemory(gpa, mem, size, prot)
}

func (vm *virtualMachine) mapPhysicalMemory(gpa uint64, mem []byte, size uintptr, prot hvcore.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	slot := vm.slots.Acquire()
	vm.logger.Debug("kvm: slot acquired", "slot", slot, "gpa", gpa)
	seg := &segment{slot: slot, mem: mem, size: size, prot: prot}
	if err := vm.segments.Insert(rangemap.Range{Start: gpa, End: gpa + uint64(size)}, seg); err != nil {
		vm.slots.Release(slot)
		return hvcore.New(hvcore.KindBackendError, "kvm: map_physical_memory", err)
	}

	region := kvmUserspaceMemoryRegion{
		Slot:          slot,
		GuestPhysAddr: gpa,
		MemorySize:    uint64(size),
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
	}
	if !prot.Has(hvcore.ProtWrite) {
		region.Flags = kvmMemReadonly
	}
	if err := setUserMemoryRegion(vm.vmFd, &region); err != nil {
		vm.segments.Remove(gpa)
		vm.slots.Release(slot)
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: KVM_SET_USER_MEMORY_REGION", err)
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
	region := kvmUserspaceMemoryRegion{Slot: seg.slot, GuestPhysAddr: gpa, MemorySize: 0}
	if err := setUserMemoryRegion(vm.vmFd, &region); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: KVM_SET_USER_MEMORY_REGION (unmap)", err)
	}
	vm.segments.Remove(gpa)
	vm.slots.Release(seg.slot)
	vm.logger.Debug("kvm: slot released", "slot", seg.slot, "gpa", gpa)
	return nil
}

func (vm *virtualMachine) ProtectPhysicalMemory(gpa uint64, prot hvcore.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	seg, ok := vm.segments.GetExact(gpa)
	if !ok {
		return hvcore.ErrInvalidGuestAddress
	}
	region := kvmUserspaceMemoryRegion{
		Slot:          seg.slot,
		GuestPhysAddr: gpa,
		MemorySize:    uint64(seg.size),
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&seg.mem[0]))),
	}
	if !prot.Has(hvcore.ProtWrite) {
		region.Flags = kvmMemReadonly
	}
	if err := setUserMemoryRegion(vm.vmFd, &region); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: protect_physical_memory", err)
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
	vm.logger.Info("kvm: vm closed", "fd", vm.vmFd)
	return unix.Close(vm.vmFd)
}

type kvmMapping struct {
	mem []byte
}

func (m *kvmMapping) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}
