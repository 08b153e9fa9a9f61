//go:build darwin && amd64

// Package hvf implements the hvcore contract against the x86_64 side of
// macOS's Hypervisor.framework. HVF only brings up a VMX host; it is the
// caller's job to bring the VMCS to a sane guest state, so CreateVcpu here
// does the canonical power-on bring-up described in the teacher's HVF
// port's register/VMCS handling, adapted from the Rust
// original_source/src/os_impl/macos/{hypervisor.rs,vm.rs,vcpu.rs} reference
// for the exact field values (segment ARs, EFER/CR0/CR4 at reset, RIP/RFLAGS
// power-on values).
package hvf

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"unsafe"

	"github.com/tinyrange/hv/internal/hv/hvf/bindings"
	"github.com/tinyrange/hv/internal/hvcore"
	"github.com/tinyrange/hv/internal/rangemap"
)

const (
	vmcsExitQualification  uint32 = 0x6400
	vmcsExitInstructionLen uint32 = 0x440C
)

// Option configures Open.
type Option func(*openConfig)

type openConfig struct {
	logger *slog.Logger
}

// WithLogger attaches a structured logger; framework load and VM creation
// are logged through it. Host-API failures are returned, not logged.
// Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *openConfig) { c.logger = l }
}

// Hypervisor is the process-level HVF handle. macOS allows only one VM per
// process, matching hv_vm_create's singleton semantics.
type Hypervisor struct {
	logger *slog.Logger
}

func Open(opts ...Option) (*Hypervisor, error) {
	cfg := openConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := bindings.Load(); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: load Hypervisor.framework", err)
	}
	cfg.logger.Info("hvf: Hypervisor.framework loaded")
	return &Hypervisor{logger: cfg.logger}, nil
}

func (h *Hypervisor) BuildVm() (hvcore.VmImpl, error) {
	if err := bindings.VMCreate(); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vm_create", err)
	}
	h.logger.Info("hvf: vm created")
	vm := &virtualMachine{segments: rangemap.New[*segment](), logger: h.logger}
	runtime.SetFinalizer(vm, (*virtualMachine).finalize)
	return vm, nil
}

func (h *Hypervisor) Close() error {
	return nil
}

// MaxVcpuCount reports the maximum number of vCPUs the host allows in a
// single VM (hv_vm_get_max_vcpu_count). VmBuilder.WithVcpuCount does not
// validate against this itself; callers that need the cap call this first.
func (h *Hypervisor) MaxVcpuCount() (uint32, error) {
	max, err := bindings.VMGetMaxVcpuCount()
	if err != nil {
		return 0, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vm_get_max_vcpu_count", err)
	}
	return max, nil
}

type segment struct {
	mem  []byte
	size uintptr
	prot hvcore.Protection
}

type virtualMachine struct {
	mu       sync.Mutex
	closed   bool
	segments *rangemap.Map[*segment]
	logger   *slog.Logger
}

func (vm *virtualMachine) finalize() { _ = vm.Close() }

func (vm *virtualMachine) WithVcpuCount(n uint32) error { return nil }

func (vm *virtualMachine) Build(name string) error { return nil }

func (vm *virtualMachine) CreateVcpu(id uint32) (hvcore.VcpuImpl, error) {
	vcpu, err := bindings.VCPUCreate()
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_create", err)
	}
	cpu := &virtualCPU{vcpu: vcpu}
	if err := cpu.bringUp(); err != nil {
		_ = bindings.VCPUDestroy(vcpu)
		return nil, err
	}
	runtime.SetFinalizer(cpu, (*virtualCPU).finalize)
	return cpu, nil
}

func protectionFlags(prot hvcore.Protection) bindings.MemoryFlags {
	var flags bindings.MemoryFlags
	if prot.Has(hvcore.ProtRead) {
		flags |= bindings.MemoryRead
	}
	if prot.Has(hvcore.ProtWrite) {
		flags |= bindings.MemoryWrite
	}
	if prot.Has(hvcore.ProtExecute) {
		flags |= bindings.MemoryExecute
	}
	return flags
}

func (vm *virtualMachine) AllocatePhysicalMemory(gpa uint64, size uintptr, prot hvcore.Protection) (hvcore.MappingImpl, error) {
	mem := make([]byte, size)
	if err := vm.mapPhysicalMemory(gpa, mem, size, prot); err != nil {
		return nil, err
	}
	return &hvfMapping{mem: mem}, nil
}

func (vm *virtualMachine) MapPhysicalMemory(gpa uint64, hostPtr unsafe.Pointer, size uintptr, prot hvcore.Protection) error {
	mem := unsafe.Slice((*byte)(hostPtr), size)
	return vm.mapPhysicalMemory(gpa, mem, size, prot)
}

func (vm *virtualMachine) mapPhysicalMemory(gpa uint64, mem []byte, size uintptr, prot hvcore.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	seg := &segment{mem: mem, size: size, prot: prot}
	if err := vm.segments.Insert(rangemap.Range{Start: gpa, End: gpa + uint64(size)}, seg); err != nil {
		return hvcore.New(hvcore.KindBackendError, "hvf: map_physical_memory", err)
	}
	if err := bindings.VMMap(unsafe.Pointer(&mem[0]), gpa, size, protectionFlags(prot)); err != nil {
		vm.segments.Remove(gpa)
		return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vm_map", err)
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
	if err := bindings.VMUnmap(gpa, seg.size); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vm_unmap", err)
	}
	vm.segments.Remove(gpa)
	return nil
}

// ProtectPhysicalMemory calls hv_vm_protect directly; HVF (unlike KVM's
// readonly-flag-only slots) supports changing R/W/X in place without an
// unmap/remap cycle.
func (vm *virtualMachine) ProtectPhysicalMemory(gpa uint64, prot hvcore.Protection) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	seg, ok := vm.segments.GetExact(gpa)
	if !ok {
		return hvcore.ErrInvalidGuestAddress
	}
	if err := bindings.VMProtect(gpa, seg.size, protectionFlags(prot)); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vm_protect", err)
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
	return bindings.VMDestroy()
}

type hvfMapping struct{ mem []byte }

func (m *hvfMapping) Close() error { m.mem = nil; return nil }

type virtualCPU struct {
	vcpu    bindings.VCPU
	closed  bool
	efer    uint64 // shadow copy; hv_vcpu_write_msr(EFER) also needs the matching VM-entry control bit
}

func (v *virtualCPU) finalize() { _ = v.Close() }

var nativeMSRs = []uint32{
	hvcore.MsrSysenterCS, hvcore.MsrSysenterESP, hvcore.MsrSysenterEIP,
	hvcore.MsrSTAR, hvcore.MsrLSTAR, hvcore.MsrCSTAR, hvcore.MsrSyscallMask, hvcore.MsrKernelGsBase,
}

func flatSegment() hvcore.Segment {
	return hvcore.Segment{Limit: 0xFFFF, Type: 0x3, NonSystem: true, DPL: 0, Present: true, DefaultSize: false}
}

// bringUp sets the VMCS and registers to the canonical x86 power-on state:
// real-mode CS=F000:FFFF0000, flat data segments, RIP=0xFFF0, RFLAGS=0x2,
// CR0=0, CR4 with VMXE forced (but reported as clear), EFER=0. CPU-based
// HLT-exiting and the secondary unrestricted-guest control are enabled so a
// guest OS without paging set up yet can still run.
func (v *virtualCPU) bringUp() error {
	for _, msr := range nativeMSRs {
		if err := bindings.VCPUEnableNativeMSR(v.vcpu, msr, true); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_enable_native_msr", err)
		}
	}

	cpuBased, err := bindings.VCPUReadVMCS(v.vcpu, uint32(hvcore.VmcsCtrlCPUBased))
	if err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs(cpu_based)", err)
	}
	cpuBased2, err := bindings.VCPUReadVMCS(v.vcpu, uint32(hvcore.VmcsCtrlCPUBased2))
	if err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs(cpu_based2)", err)
	}
	writes := []struct {
		field uint32
		value uint64
	}{
		{uint32(hvcore.VmcsCtrlCPUBased), cpuBased | uint64(hvcore.CpuBasedHLT|hvcore.CpuBasedSecondaryControl)},
		{uint32(hvcore.VmcsCtrlCPUBased2), cpuBased2 | uint64(hvcore.CpuBased2UnrestrictedGuest)},
		{uint32(hvcore.VmcsGuestCSSelector), 0xF000},
		{uint32(hvcore.VmcsGuestCSBase), 0xFFFF0000},
		{uint32(hvcore.VmcsGuestCSLimit), 0xFFFFF},
		{uint32(hvcore.VmcsGuestCSAccessRights), uint64(realModeCodeSegment().AccessRights())},
		{uint32(hvcore.VmcsGuestDSSelector), 0},
		{uint32(hvcore.VmcsGuestDSBase), 0},
		{uint32(hvcore.VmcsGuestDSLimit), 0xFFFFF},
		{uint32(hvcore.VmcsGuestDSAccessRights), uint64(flatSegment().AccessRights())},
		{uint32(hvcore.VmcsGuestESSelector), 0},
		{uint32(hvcore.VmcsGuestESBase), 0},
		{uint32(hvcore.VmcsGuestESLimit), 0xFFFFF},
		{uint32(hvcore.VmcsGuestESAccessRights), uint64(flatSegment().AccessRights())},
		{uint32(hvcore.VmcsGuestFSSelector), 0},
		{uint32(hvcore.VmcsGuestFSBase), 0},
		{uint32(hvcore.VmcsGuestFSLimit), 0xFFFFF},
		{uint32(hvcore.VmcsGuestFSAccessRights), uint64(flatSegment().AccessRights())},
		{uint32(hvcore.VmcsGuestGSSelector), 0},
		{uint32(hvcore.VmcsGuestGSBase), 0},
		{uint32(hvcore.VmcsGuestGSLimit), 0xFFFFF},
		{uint32(hvcore.VmcsGuestGSAccessRights), uint64(flatSegment().AccessRights())},
		{uint32(hvcore.VmcsGuestSSSelector), 0},
		{uint32(hvcore.VmcsGuestSSBase), 0},
		{uint32(hvcore.VmcsGuestSSLimit), 0xFFFFF},
		{uint32(hvcore.VmcsGuestSSAccessRights), uint64(flatSegment().AccessRights())},
		{uint32(hvcore.VmcsGuestLDTRAccessRights), uint64(hvcore.ARUnusable)},
		{uint32(hvcore.VmcsGuestTRAccessRights), 0x8B},
		{uint32(hvcore.VmcsGuestRIP), 0xFFF0},
		{uint32(hvcore.VmcsGuestRFLAGS), 0x2},
		{uint32(hvcore.VmcsGuestCR0), 0},
		{uint32(hvcore.VmcsGuestCR4), hvcore.CR4VMXE},
	}
	for _, w := range writes {
		if err := bindings.VCPUWriteVMCS(v.vcpu, w.field, w.value); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, fmt.Sprintf("hvf: hv_vcpu_write_vmcs(%#x)", w.field), err)
		}
	}
	if err := bindings.VCPUWriteMSR(v.vcpu, hvcore.MsrEFER, 0); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_msr(EFER)", err)
	}
	v.efer = 0
	return nil
}

func realModeCodeSegment() hvcore.Segment {
	return hvcore.Segment{Limit: 0xFFFF, Type: 0xB, NonSystem: true, DPL: 0, Present: true}
}

func (v *virtualCPU) Reset() error {
	return v.bringUp()
}

func (v *virtualCPU) Run() (hvcore.ExitReason, error) {
run:
	if err := bindings.VCPURun(v.vcpu); err != nil {
		return hvcore.ExitReason{}, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_run", err)
	}
	raw, err := bindings.VCPUReadVMCS(v.vcpu, uint32(hvcore.VmcsROExitReason))
	if err != nil {
		return hvcore.ExitReason{}, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs(exit_reason)", err)
	}
	reason := hvcore.VmxReason(uint32(raw) & hvcore.VmxReasonMask)
	switch reason {
	case hvcore.VmxReasonIrq:
		goto run
	case hvcore.VmxReasonHLT:
		rip, err := bindings.VCPUReadRegister(v.vcpu, bindings.RegRIP)
		if err != nil {
			return hvcore.ExitReason{}, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_register(RIP)", err)
		}
		if err := bindings.VCPUWriteRegister(v.vcpu, bindings.RegRIP, rip+1); err != nil {
			return hvcore.ExitReason{}, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_register(RIP)", err)
		}
		return hvcore.ExitReason{Kind: hvcore.ExitHalted}, nil
	case hvcore.VmxReasonEptViolation:
		gpa, _ := bindings.VCPUReadVMCS(v.vcpu, uint32(hvcore.VmcsROGuestPhysicalAddress))
		gva, _ := bindings.VCPUReadVMCS(v.vcpu, uint32(hvcore.VmcsROGuestLinearAddress))
		return hvcore.ExitReason{Kind: hvcore.ExitInvalidMemoryAccess, Gpa: gpa, Gva: gva}, nil
	case hvcore.VmxReasonIO:
		qual, _ := bindings.VCPUReadVMCS(v.vcpu, vmcsExitQualification)
		rax, _ := bindings.VCPUReadRegister(v.vcpu, bindings.RegRAX)
		return decodeIOExit(qual, rax), nil
	case hvcore.VmxReasonException, hvcore.VmxReasonTripleFault:
		return hvcore.ExitReason{Kind: hvcore.ExitUnhandledException}, nil
	default:
		return hvcore.ExitReason{Kind: hvcore.ExitUnknown}, nil
	}
}

// decodeIOExit interprets the VM-exit qualification for an I/O instruction
// exit per the Intel SDM's table 27-5: bits 0-2 size, bit 3 direction
// (0=out,1=in), bits 16-31 port number. For an OUT, Bytes carries the low
// size bytes of rax.
func decodeIOExit(qual, rax uint64) hvcore.ExitReason {
	size := int(qual&0x7) + 1
	in := qual&(1<<3) != 0
	port := uint16(qual >> 16)
	if in {
		return hvcore.ExitReason{Kind: hvcore.ExitIoIn, Port: port, Bytes: make([]byte, size)}
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(rax >> (8 * i))
	}
	return hvcore.ExitReason{Kind: hvcore.ExitIoOut, Port: port, Bytes: data}
}

func (v *virtualCPU) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	runtime.SetFinalizer(v, nil)
	return bindings.VCPUDestroy(v.vcpu)
}

func registerToBinding(r hvcore.Register) (bindings.Register, bool) {
	switch r {
	case hvcore.RAX:
		return bindings.RegRAX, true
	case hvcore.RBX:
		return bindings.RegRBX, true
	case hvcore.RCX:
		return bindings.RegRCX, true
	case hvcore.RDX:
		return bindings.RegRDX, true
	case hvcore.RSI:
		return bindings.RegRSI, true
	case hvcore.RDI:
		return bindings.RegRDI, true
	case hvcore.RSP:
		return bindings.RegRSP, true
	case hvcore.RBP:
		return bindings.RegRBP, true
	case hvcore.R8:
		return bindings.RegR8, true
	case hvcore.R9:
		return bindings.RegR9, true
	case hvcore.R10:
		return bindings.RegR10, true
	case hvcore.R11:
		return bindings.RegR11, true
	case hvcore.R12:
		return bindings.RegR12, true
	case hvcore.R13:
		return bindings.RegR13, true
	case hvcore.R14:
		return bindings.RegR14, true
	case hvcore.R15:
		return bindings.RegR15, true
	case hvcore.RIP:
		return bindings.RegRIP, true
	case hvcore.RFLAGS:
		return bindings.RegRFLAGS, true
	}
	return 0, false
}

func (v *virtualCPU) GetRegisters(regs []hvcore.Register) ([]uint64, error) {
	out := make([]uint64, len(regs))
	for i, r := range regs {
		breg, ok := registerToBinding(r)
		if !ok {
			return nil, hvcore.New(hvcore.KindNotImplemented, "hvf: get_registers", fmt.Errorf("unsupported register %v", r))
		}
		value, err := bindings.VCPUReadRegister(v.vcpu, breg)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_register", err)
		}
		out[i] = value
	}
	return out, nil
}

func (v *virtualCPU) SetRegisters(regs []hvcore.Register, values []uint64) error {
	for i, r := range regs {
		breg, ok := registerToBinding(r)
		if !ok {
			return hvcore.New(hvcore.KindNotImplemented, "hvf: set_registers", fmt.Errorf("unsupported register %v", r))
		}
		if err := bindings.VCPUWriteRegister(v.vcpu, breg, values[i]); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_register", err)
		}
	}
	return nil
}

func controlRegisterVMCSField(r hvcore.ControlRegister) (uint32, bool) {
	switch r {
	case hvcore.CR0:
		return uint32(hvcore.VmcsGuestCR0), true
	case hvcore.CR3:
		return uint32(hvcore.VmcsGuestCR3), true
	case hvcore.CR4:
		return uint32(hvcore.VmcsGuestCR4), true
	}
	return 0, false
}

// GetControlRegisters returns 0 for CR1 (reserved), CR2 (not modeled by the
// VMCS guest-state area) and CR8 (no TPR shadow wired up by this port).
func (v *virtualCPU) GetControlRegisters(regs []hvcore.ControlRegister) ([]uint64, error) {
	out := make([]uint64, len(regs))
	for i, r := range regs {
		field, ok := controlRegisterVMCSField(r)
		if !ok {
			continue
		}
		value, err := bindings.VCPUReadVMCS(v.vcpu, field)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs", err)
		}
		if r == hvcore.CR4 {
			value &^= hvcore.CR4VMXE
		}
		out[i] = value
	}
	return out, nil
}

func (v *virtualCPU) SetControlRegisters(regs []hvcore.ControlRegister, values []uint64) error {
	for i, r := range regs {
		field, ok := controlRegisterVMCSField(r)
		if !ok {
			continue
		}
		value := values[i]
		if r == hvcore.CR4 {
			value |= hvcore.CR4VMXE
		}
		if err := bindings.VCPUWriteVMCS(v.vcpu, field, value); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_vmcs", err)
		}
	}
	return nil
}

// GetMsrs reads through hv_vcpu_read_msr except EFER, which is tracked as a
// shadow copy so SetMsrs can fold the corresponding VM-entry control bit.
func (v *virtualCPU) GetMsrs(msrs []uint32) ([]uint64, error) {
	out := make([]uint64, len(msrs))
	for i, msr := range msrs {
		if msr == hvcore.MsrEFER {
			out[i] = v.efer
			continue
		}
		value, err := bindings.VCPUReadMSR(v.vcpu, msr)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_msr", err)
		}
		out[i] = value
	}
	return out, nil
}

// SetMsrs writes EFER through hv_vcpu_write_msr and, when the LME bit is
// set, also sets LMA and ORs GUEST_IA32E into VM-entry controls so the VMCS
// agrees the guest is entering 64-bit mode.
func (v *virtualCPU) SetMsrs(msrs []uint32, values []uint64) error {
	for i, msr := range msrs {
		if msr != hvcore.MsrEFER {
			if err := bindings.VCPUWriteMSR(v.vcpu, msr, values[i]); err != nil {
				return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_msr", err)
			}
			continue
		}
		efer := values[i]
		if efer&hvcore.EFERLME != 0 {
			efer |= hvcore.EFERLMA
			entry, err := bindings.VCPUReadVMCS(v.vcpu, uint32(hvcore.VmcsCtrlVMEntryControls))
			if err != nil {
				return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs(entry_controls)", err)
			}
			entry |= uint64(hvcore.VmEntryIA32E)
			if err := bindings.VCPUWriteVMCS(v.vcpu, uint32(hvcore.VmcsCtrlVMEntryControls), entry); err != nil {
				return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_vmcs(entry_controls)", err)
			}
		}
		if err := bindings.VCPUWriteMSR(v.vcpu, hvcore.MsrEFER, efer); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_msr(EFER)", err)
		}
		v.efer = efer
	}
	return nil
}

type segmentVMCSFields struct {
	selector, limit, ar, base uint32
}

func segmentFields(r hvcore.SegmentRegister) (segmentVMCSFields, bool) {
	switch r {
	case hvcore.SegCS:
		return segmentVMCSFields{uint32(hvcore.VmcsGuestCSSelector), uint32(hvcore.VmcsGuestCSLimit), uint32(hvcore.VmcsGuestCSAccessRights), uint32(hvcore.VmcsGuestCSBase)}, true
	case hvcore.SegDS:
		return segmentVMCSFields{uint32(hvcore.VmcsGuestDSSelector), uint32(hvcore.VmcsGuestDSLimit), uint32(hvcore.VmcsGuestDSAccessRights), uint32(hvcore.VmcsGuestDSBase)}, true
	case hvcore.SegES:
		return segmentVMCSFields{uint32(hvcore.VmcsGuestESSelector), uint32(hvcore.VmcsGuestESLimit), uint32(hvcore.VmcsGuestESAccessRights), uint32(hvcore.VmcsGuestESBase)}, true
	case hvcore.SegFS:
		return segmentVMCSFields{uint32(hvcore.VmcsGuestFSSelector), uint32(hvcore.VmcsGuestFSLimit), uint32(hvcore.VmcsGuestFSAccessRights), uint32(hvcore.VmcsGuestFSBase)}, true
	case hvcore.SegGS:
		return segmentVMCSFields{uint32(hvcore.VmcsGuestGSSelector), uint32(hvcore.VmcsGuestGSLimit), uint32(hvcore.VmcsGuestGSAccessRights), uint32(hvcore.VmcsGuestGSBase)}, true
	case hvcore.SegSS:
		return segmentVMCSFields{uint32(hvcore.VmcsGuestSSSelector), uint32(hvcore.VmcsGuestSSLimit), uint32(hvcore.VmcsGuestSSAccessRights), uint32(hvcore.VmcsGuestSSBase)}, true
	case hvcore.SegTR:
		return segmentVMCSFields{uint32(hvcore.VmcsGuestTRSelector), uint32(hvcore.VmcsGuestTRLimit), uint32(hvcore.VmcsGuestTRAccessRights), uint32(hvcore.VmcsGuestTRBase)}, true
	case hvcore.SegLDT:
		return segmentVMCSFields{uint32(hvcore.VmcsGuestLDTRSelector), uint32(hvcore.VmcsGuestLDTRLimit), uint32(hvcore.VmcsGuestLDTRAccessRights), uint32(hvcore.VmcsGuestLDTRBase)}, true
	}
	return segmentVMCSFields{}, false
}

func (v *virtualCPU) GetSegmentRegisters(regs []hvcore.SegmentRegister) ([]hvcore.Segment, error) {
	out := make([]hvcore.Segment, len(regs))
	for i, r := range regs {
		fields, ok := segmentFields(r)
		if !ok {
			return nil, hvcore.New(hvcore.KindNotImplemented, "hvf: get_segment_registers", fmt.Errorf("unsupported segment register %v", r))
		}
		selector, err := bindings.VCPUReadVMCS(v.vcpu, fields.selector)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs", err)
		}
		limit, err := bindings.VCPUReadVMCS(v.vcpu, fields.limit)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs", err)
		}
		ar, err := bindings.VCPUReadVMCS(v.vcpu, fields.ar)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs", err)
		}
		base, err := bindings.VCPUReadVMCS(v.vcpu, fields.base)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs", err)
		}
		out[i] = hvcore.SegmentFromAccessRights(base, uint32(limit), uint16(selector), uint32(ar))
	}
	return out, nil
}

func (v *virtualCPU) SetSegmentRegisters(regs []hvcore.SegmentRegister, values []hvcore.Segment) error {
	for i, r := range regs {
		fields, ok := segmentFields(r)
		if !ok {
			return hvcore.New(hvcore.KindNotImplemented, "hvf: set_segment_registers", fmt.Errorf("unsupported segment register %v", r))
		}
		s := values[i]
		writes := []struct {
			field uint32
			value uint64
		}{
			{fields.selector, uint64(s.Selector)},
			{fields.limit, uint64(s.Limit)},
			{fields.ar, uint64(s.AccessRights())},
			{fields.base, s.Base},
		}
		for _, w := range writes {
			if err := bindings.VCPUWriteVMCS(v.vcpu, w.field, w.value); err != nil {
				return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_vmcs", err)
			}
		}
	}
	return nil
}

func (v *virtualCPU) GetDescriptorTables(regs []hvcore.DescriptorTableRegister) ([]hvcore.DescriptorTable, error) {
	out := make([]hvcore.DescriptorTable, len(regs))
	for i, r := range regs {
		var baseField, limitField uint32
		switch r {
		case hvcore.DescGDT:
			baseField, limitField = uint32(hvcore.VmcsGuestGDTRBase), uint32(hvcore.VmcsGuestGDTRLimit)
		case hvcore.DescIDT:
			baseField, limitField = uint32(hvcore.VmcsGuestIDTRBase), uint32(hvcore.VmcsGuestIDTRLimit)
		default:
			return nil, hvcore.New(hvcore.KindNotImplemented, "hvf: get_descriptor_tables", fmt.Errorf("unsupported descriptor table %v", r))
		}
		base, err := bindings.VCPUReadVMCS(v.vcpu, baseField)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs", err)
		}
		limit, err := bindings.VCPUReadVMCS(v.vcpu, limitField)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_read_vmcs", err)
		}
		out[i] = hvcore.DescriptorTable{Base: base, Limit: uint16(limit)}
	}
	return out, nil
}

func (v *virtualCPU) SetDescriptorTables(regs []hvcore.DescriptorTableRegister, values []hvcore.DescriptorTable) error {
	for i, r := range regs {
		var baseField, limitField uint32
		switch r {
		case hvcore.DescGDT:
			baseField, limitField = uint32(hvcore.VmcsGuestGDTRBase), uint32(hvcore.VmcsGuestGDTRLimit)
		case hvcore.DescIDT:
			baseField, limitField = uint32(hvcore.VmcsGuestIDTRBase), uint32(hvcore.VmcsGuestIDTRLimit)
		default:
			return hvcore.New(hvcore.KindNotImplemented, "hvf: set_descriptor_tables", fmt.Errorf("unsupported descriptor table %v", r))
		}
		if err := bindings.VCPUWriteVMCS(v.vcpu, baseField, values[i].Base); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_vmcs", err)
		}
		if err := bindings.VCPUWriteVMCS(v.vcpu, limitField, uint64(values[i].Limit)); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "hvf: hv_vcpu_write_vmcs", err)
		}
	}
	return nil
}
