//go:build freebsd

// Package bhyve implements the hvcore contract against FreeBSD's vmm(4)
// driver. Grounded on the sysctl-create/ioctl-register surface of the
// source's freebsd os_impl (hw.vmm.create/destroy plus the VM_RUN and
// VM_{GET,SET}_REGISTER/VM_{GET,SET}_SEGMENT_DESCRIPTOR ioctls against
// /dev/vmm/<name>), narrowed the same way the other ports are: no device
// model, no snapshotting.
package bhyve

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/hv/internal/hvcore"
	"github.com/tinyrange/hv/internal/rangemap"
)

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	logger *slog.Logger
}

// WithLogger attaches a structured logger; construction, teardown, and
// memory-segment bookkeeping are logged through it. Host-API failures are
// returned, not logged. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// Hypervisor is the process-level bhyve capability. bhyve has no
// process-wide handle; every VM is its own named /dev/vmm/<name> device,
// created and destroyed independently.
type Hypervisor struct {
	logger *slog.Logger
}

func Open(opts ...Option) (*Hypervisor, error) {
	cfg := openConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Hypervisor{logger: cfg.logger}, nil
}

func (h *Hypervisor) BuildVm() (hvcore.VmImpl, error) {
	return &virtualMachine{segments: rangemap.New[*segment](), logger: h.logger}, nil
}

func (h *Hypervisor) Close() error { return nil }

type segment struct {
	segid int32
	mem   []byte
	prot  hvcore.Protection
}

type virtualMachine struct {
	mu        sync.Mutex
	name      string
	file      *os.File
	closed    bool
	nextSegID int32
	vcpus     map[uint32]*virtualCPU
	segments  *rangemap.Map[*segment]
	logger    *slog.Logger
}

func (vm *virtualMachine) finalize() { _ = vm.Close() }

// WithVcpuCount is a no-op: bhyve has no partition-level vCPU count
// property, only per-VM_RUN cpuid values chosen by the caller at
// CreateVcpu time.
func (vm *virtualMachine) WithVcpuCount(n uint32) error { return nil }

// Build creates the named VM via the hw.vmm.create sysctl and opens its
// /dev/vmm/<name> device. Unlike the other backends, name is load-bearing
// here: bhyve identifies VMs textually, not by an opaque handle, so an
// empty name is given a process-unique default.
func (vm *virtualMachine) Build(name string) error {
	if name == "" {
		name = fmt.Sprintf("hv-%d", os.Getpid())
	}
	if err := sysctlSetString("hw.vmm.create", name); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "bhyve: hw.vmm.create", err)
	}
	f, err := os.OpenFile("/dev/vmm/"+name, os.O_RDWR, 0)
	if err != nil {
		_ = sysctlSetString("hw.vmm.destroy", name)
		return hvcore.New(hvcore.KindHostUnavailable, "bhyve: open /dev/vmm/"+name, err)
	}
	vm.name = name
	vm.file = f
	vm.vcpus = make(map[uint32]*virtualCPU)
	runtime.SetFinalizer(vm, (*virtualMachine).finalize)
	vm.logger.Info("bhyve: vm built", "name", name)
	return nil
}

func (vm *virtualMachine) CreateVcpu(id uint32) (hvcore.VcpuImpl, error) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, exists := vm.vcpus[id]; exists {
		return nil, hvcore.New(hvcore.KindBackendError, "bhyve: create_vcpu",
			fmt.Errorf("vcpu id %d already exists", id))
	}
	cpu := &virtualCPU{vm: vm, id: int32(id)}
	vm.vcpus[id] = cpu
	runtime.SetFinalizer(cpu, (*virtualCPU).finalize)
	return cpu, nil
}

func protBits(prot hvcore.Protection) int32 {
	var bits int32
	if prot.Has(hvcore.ProtRead) {
		bits |= vmProtRead
	}
	if prot.Has(hvcore.ProtWrite) {
		bits |= vmProtWrite
	}
	if prot.Has(hvcore.ProtExecute) {
		bits |= vmProtExec
	}
	return bits
}

// AllocatePhysicalMemory registers a new vmm memory segment
// (VM_ALLOC_MEMSEG), binds it at gpa (VM_MMAP_MEMSEG), then mmaps
// /dev/vmm/<name> at file offset gpa to obtain the host pointer backing it
// — the vmm char device services page faults against whatever segment the
// MMAP_MEMSEG call bound at that offset.
func (vm *virtualMachine) AllocatePhysicalMemory(gpa uint64, size uintptr, prot hvcore.Protection) (hvcore.MappingImpl, error) {
	vm.mu.Lock()
	segid := vm.nextSegID
	vm.nextSegID++
	fd := int(vm.file.Fd())
	vm.mu.Unlock()

	mseg := vmMemseg{Segid: segid, Len: uint64(size)}
	if err := vmAllocMemseg(fd, &mseg); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "bhyve: VM_ALLOC_MEMSEG", err)
	}
	mm := vmMemmap{Gpa: gpa, Segid: segid, Len: uint64(size), Prot: protBits(prot), Flags: vmMemmapFWired}
	if err := vmMmapMemseg(fd, &mm); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "bhyve: VM_MMAP_MEMSEG", err)
	}
	mem, err := unix.Mmap(fd, int64(gpa), int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, hvcore.New(hvcore.KindOutOfMemory, "bhyve: mmap /dev/vmm", err)
	}

	vm.mu.Lock()
	seg := &segment{segid: segid, mem: mem, prot: prot}
	insErr := vm.segments.Insert(rangemap.Range{Start: gpa, End: gpa + uint64(size)}, seg)
	vm.mu.Unlock()
	if insErr != nil {
		_ = unix.Munmap(mem)
		return nil, hvcore.New(hvcore.KindBackendError, "bhyve: allocate_physical_memory", insErr)
	}
	vm.logger.Debug("bhyve: memseg allocated", "segid", segid, "gpa", gpa, "size", size)
	return &bhyveMapping{mem: mem}, nil
}

// MapPhysicalMemory has no bhyve equivalent: the vmm device owns guest
// backing memory exclusively through VM_ALLOC_MEMSEG/VM_MMAP_MEMSEG, so an
// externally-supplied host pointer cannot be bound as guest RAM.
func (vm *virtualMachine) MapPhysicalMemory(gpa uint64, hostPtr unsafe.Pointer, size uintptr, prot hvcore.Protection) error {
	return hvcore.New(hvcore.KindNotImplemented, "bhyve: map_physical_memory",
		fmt.Errorf("bhyve does not support mapping caller-owned host memory"))
}

func (vm *virtualMachine) UnmapPhysicalMemory(gpa uint64) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	seg, ok := vm.segments.GetExact(gpa)
	if !ok {
		return hvcore.ErrInvalidGuestAddress
	}
	if err := unix.Munmap(seg.mem); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "bhyve: munmap", err)
	}
	vm.segments.Remove(gpa)
	vm.logger.Debug("bhyve: memseg unmapped", "gpa", gpa)
	return nil
}

// ProtectPhysicalMemory is silently accepted without an ioctl: bhyve has
// no call to change an already-bound memmap's protection, and the vmm_dev
// surface this port is grounded on never exposed one.
func (vm *virtualMachine) ProtectPhysicalMemory(gpa uint64, prot hvcore.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	seg, ok := vm.segments.GetExact(gpa)
	if !ok {
		return hvcore.ErrInvalidGuestAddress
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
	if vm.file != nil {
		_ = vm.file.Close()
	}
	if vm.name != "" {
		vm.logger.Info("bhyve: vm closed", "name", vm.name)
		return sysctlSetString("hw.vmm.destroy", vm.name)
	}
	return nil
}

// bhyveMapping is returned by AllocatePhysicalMemory; Close unmaps the
// host view but leaves the underlying vmm segment and its guest-physical
// binding alone, matching UnmapPhysicalMemory's own split between the host
// mmap and the kernel-resident segment.
type bhyveMapping struct {
	mem []byte
}

func (m *bhyveMapping) Close() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	if err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "bhyve: munmap", err)
	}
	return nil
}
