//go:build linux && amd64

package kvm

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/hv/internal/hvcore"
)

// virtualCPU is a single KVM vCPU fd plus its mmap'd kvm_run page. Per the
// KVM uAPI, Run must always be invoked from the same OS thread that issued
// KVM_CREATE_VCPU; callers are expected to pin their own goroutine with
// runtime.LockOSThread before calling Vcpu.Run, mirroring the one-vCPU-per-
// thread model throughout this package.
type virtualCPU struct {
	vm  *virtualMachine
	id  uint32
	fd  int
	run []byte
}

func (v *virtualCPU) finalize() { _ = v.Close() }

func (v *virtualCPU) runData() *kvmRunData {
	return (*kvmRunData)(unsafePointerOf(v.run))
}

func (v *virtualCPU) Reset() error {
	regs := kvmRegs{Rip: 0xFFF0, Rflags: 0x2}
	if err := setRegisters(v.fd, &regs); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: reset (KVM_SET_REGS)", err)
	}

	sregs, err := getSRegs(v.fd)
	if err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: reset (KVM_GET_SREGS)", err)
	}
	realMode := kvmSegment{Base: 0, Limit: 0xFFFFF, Selector: 0, Type: 3, Present: 1, S: 1, Db: 0, G: 0}
	sregs.Cs = kvmSegment{Base: 0xFFFF0000, Limit: 0xFFFFF, Selector: 0xF000, Type: 0xB, Present: 1, S: 1}
	sregs.Ds, sregs.Es, sregs.Fs, sregs.Gs, sregs.Ss = realMode, realMode, realMode, realMode, realMode
	sregs.Tr = kvmSegment{Limit: 0xFFFF, Type: 0xB, Present: 1}
	sregs.Ldt = kvmSegment{Limit: 0xFFFF, Type: 0x2}
	sregs.Cr0 = 0
	sregs.Cr4 = 0
	sregs.Efer = 0
	if err := setSRegs(v.fd, &sregs); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: reset (KVM_SET_SREGS)", err)
	}
	return nil
}

func (v *virtualCPU) Run() (hvcore.ExitReason, error) {
	if _, err := ioctlWithRetry(uintptr(v.fd), uint64(kvmRun), 0); err != nil {
		return hvcore.ExitReason{}, hvcore.New(hvcore.KindHostUnavailable, "kvm: KVM_RUN", err)
	}
	data := v.runData()
	return translateExit(data), nil
}

func translateExit(data *kvmRunData) hvcore.ExitReason {
	switch kvmExitReason(data.exitReason) {
	case kvmExitHlt:
		return hvcore.ExitReason{Kind: hvcore.ExitHalted}
	case kvmExitIo:
		io := (*kvmExitIoData)(unsafePointerOf(data.anon0[:]))
		payload := unsafeBytesAt(data, uintptr(io.dataOffset), int(io.size)*int(io.count))
		port := io.port
		if io.direction == 1 {
			return hvcore.ExitReason{Kind: hvcore.ExitIoOut, Port: port, Bytes: payload}
		}
		return hvcore.ExitReason{Kind: hvcore.ExitIoIn, Port: port, Bytes: payload}
	case kvmExitMmio:
		mmio := (*kvmExitMMIOData)(unsafePointerOf(data.anon0[:]))
		if mmio.isWrite != 0 {
			return hvcore.ExitReason{Kind: hvcore.ExitMmioWrite, Address: mmio.physAddr, Bytes: mmio.data[:mmio.len]}
		}
		return hvcore.ExitReason{Kind: hvcore.ExitMmioRead, Address: mmio.physAddr, Bytes: mmio.data[:mmio.len]}
	case kvmExitShutdown, kvmExitException, kvmExitFailEntry, kvmExitInternalError:
		return hvcore.ExitReason{Kind: hvcore.ExitUnhandledException}
	default:
		return hvcore.ExitReason{Kind: hvcore.ExitUnknown}
	}
}

func (v *virtualCPU) Close() error {
	runtime.SetFinalizer(v, nil)
	if v.run != nil {
		_ = unix.Munmap(v.run)
		v.run = nil
	}
	if v.fd >= 0 {
		err := unix.Close(v.fd)
		v.fd = -1
		return err
	}
	return nil
}

func registerIndex(r hvcore.Register) int {
	switch r {
	case hvcore.RAX:
		return 0
	case hvcore.RBX:
		return 1
	case hvcore.RCX:
		return 2
	case hvcore.RDX:
		return 3
	case hvcore.RSI:
		return 4
	case hvcore.RDI:
		return 5
	case hvcore.RSP:
		return 6
	case hvcore.RBP:
		return 7
	case hvcore.R8:
		return 8
	case hvcore.R9:
		return 9
	case hvcore.R10:
		return 10
	case hvcore.R11:
		return 11
	case hvcore.R12:
		return 12
	case hvcore.R13:
		return 13
	case hvcore.R14:
		return 14
	case hvcore.R15:
		return 15
	case hvcore.RIP:
		return 16
	case hvcore.RFLAGS:
		return 17
	}
	return -1
}

func regsArray(r *kvmRegs) [18]uint64 {
	return [18]uint64{
		r.Rax, r.Rbx, r.Rcx, r.Rdx, r.Rsi, r.Rdi, r.Rsp, r.Rbp,
		r.R8, r.R9, r.R10, r.R11, r.R12, r.R13, r.R14, r.R15,
		r.Rip, r.Rflags,
	}
}

func setRegsFromArray(r *kvmRegs, a [18]uint64) {
	r.Rax, r.Rbx, r.Rcx, r.Rdx = a[0], a[1], a[2], a[3]
	r.Rsi, r.Rdi, r.Rsp, r.Rbp = a[4], a[5], a[6], a[7]
	r.R8, r.R9, r.R10, r.R11 = a[8], a[9], a[10], a[11]
	r.R12, r.R13, r.R14, r.R15 = a[12], a[13], a[14], a[15]
	r.Rip, r.Rflags = a[16], a[17]
}

func (v *virtualCPU) GetRegisters(regs []hvcore.Register) ([]uint64, error) {
	raw, err := getRegisters(v.fd)
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: get_registers", err)
	}
	arr := regsArray(&raw)
	out := make([]uint64, len(regs))
	for i, r := range regs {
		idx := registerIndex(r)
		if idx < 0 {
			return nil, hvcore.New(hvcore.KindNotImplemented, "kvm: get_registers", fmt.Errorf("unsupported register %v", r))
		}
		out[i] = arr[idx]
	}
	return out, nil
}

func (v *virtualCPU) SetRegisters(regs []hvcore.Register, values []uint64) error {
	raw, err := getRegisters(v.fd)
	if err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_registers", err)
	}
	arr := regsArray(&raw)
	for i, r := range regs {
		idx := registerIndex(r)
		if idx < 0 {
			return hvcore.New(hvcore.KindNotImplemented, "kvm: set_registers", fmt.Errorf("unsupported register %v", r))
		}
		arr[idx] = values[i]
	}
	setRegsFromArray(&raw, arr)
	if err := setRegisters(v.fd, &raw); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_registers", err)
	}
	return nil
}

func controlRegisterValue(s *kvmSRegs, r hvcore.ControlRegister) uint64 {
	switch r {
	case hvcore.CR0:
		return s.Cr0
	case hvcore.CR1:
		return 0
	case hvcore.CR2:
		return s.Cr2
	case hvcore.CR3:
		return s.Cr3
	case hvcore.CR4:
		return s.Cr4
	case hvcore.CR8:
		return s.Cr8
	}
	return 0
}

func setControlRegisterValue(s *kvmSRegs, r hvcore.ControlRegister, value uint64) {
	switch r {
	case hvcore.CR0:
		s.Cr0 = value
	case hvcore.CR1:
		// CR1 is architecturally reserved; writes are discarded.
	case hvcore.CR2:
		s.Cr2 = value
	case hvcore.CR3:
		s.Cr3 = value
	case hvcore.CR4:
		s.Cr4 = value
	case hvcore.CR8:
		s.Cr8 = value
	}
}

func (v *virtualCPU) GetControlRegisters(regs []hvcore.ControlRegister) ([]uint64, error) {
	sregs, err := getSRegs(v.fd)
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: get_control_registers", err)
	}
	out := make([]uint64, len(regs))
	for i, r := range regs {
		out[i] = controlRegisterValue(&sregs, r)
	}
	return out, nil
}

func (v *virtualCPU) SetControlRegisters(regs []hvcore.ControlRegister, values []uint64) error {
	sregs, err := getSRegs(v.fd)
	if err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_control_registers", err)
	}
	for i, r := range regs {
		setControlRegisterValue(&sregs, r, values[i])
	}
	if err := setSRegs(v.fd, &sregs); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_control_registers", err)
	}
	return nil
}

// GetMsrs reads arbitrary MSRs through KVM_GET_MSRS, except EFER which KVM
// surfaces only via KVM_GET_SREGS; that case is served from sregs.Efer so
// callers can read/write EFER alongside other MSRs in one batch.
func (v *virtualCPU) GetMsrs(msrs []uint32) ([]uint64, error) {
	var batch []uint32
	eferIndex := -1
	for i, m := range msrs {
		if m == hvcore.MsrEFER {
			eferIndex = i
			continue
		}
		batch = append(batch, m)
	}
	entries, err := getMsrs(v.fd, batch)
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: get_msrs", err)
	}
	out := make([]uint64, len(msrs))
	bi := 0
	for i := range msrs {
		if i == eferIndex {
			continue
		}
		out[i] = entries[bi].Data
		bi++
	}
	if eferIndex >= 0 {
		sregs, err := getSRegs(v.fd)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: get_msrs (EFER)", err)
		}
		out[eferIndex] = sregs.Efer
	}
	return out, nil
}

func (v *virtualCPU) SetMsrs(msrs []uint32, values []uint64) error {
	var batch []kvmMsrEntry
	eferIndex := -1
	for i, m := range msrs {
		if m == hvcore.MsrEFER {
			eferIndex = i
			continue
		}
		batch = append(batch, kvmMsrEntry{Index: m, Data: values[i]})
	}
	if len(batch) > 0 {
		if err := setMsrs(v.fd, batch); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_msrs", err)
		}
	}
	if eferIndex >= 0 {
		sregs, err := getSRegs(v.fd)
		if err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_msrs (EFER)", err)
		}
		sregs.Efer = values[eferIndex]
		if err := setSRegs(v.fd, &sregs); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_msrs (EFER)", err)
		}
	}
	return nil
}

func segmentField(s *kvmSRegs, r hvcore.SegmentRegister) *kvmSegment {
	switch r {
	case hvcore.SegCS:
		return &s.Cs
	case hvcore.SegDS:
		return &s.Ds
	case hvcore.SegES:
		return &s.Es
	case hvcore.SegFS:
		return &s.Fs
	case hvcore.SegGS:
		return &s.Gs
	case hvcore.SegSS:
		return &s.Ss
	case hvcore.SegTR:
		return &s.Tr
	case hvcore.SegLDT:
		return &s.Ldt
	}
	return nil
}

func toHvcoreSegment(s kvmSegment) hvcore.Segment {
	return hvcore.Segment{
		Base:        s.Base,
		Limit:       s.Limit,
		Selector:    s.Selector,
		Type:        s.Type & 0xF,
		NonSystem:   s.S != 0,
		DPL:         s.Dpl & 0x3,
		Present:     s.Present != 0,
		Available:   s.Avl != 0,
		Long:        s.L != 0,
		DefaultSize: s.Db != 0,
		Granularity: s.G != 0,
	}
}

func fromHvcoreSegment(s hvcore.Segment) kvmSegment {
	seg := kvmSegment{
		Base:     s.Base,
		Limit:    s.Limit,
		Selector: s.Selector,
		Type:     s.Type,
		Present:  boolToU8(s.Present),
		Dpl:      s.DPL,
		Db:       boolToU8(s.DefaultSize),
		S:        boolToU8(s.NonSystem),
		L:        boolToU8(s.Long),
		G:        boolToU8(s.Granularity),
		Avl:      boolToU8(s.Available),
	}
	return seg
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func (v *virtualCPU) GetSegmentRegisters(regs []hvcore.SegmentRegister) ([]hvcore.Segment, error) {
	sregs, err := getSRegs(v.fd)
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: get_segment_registers", err)
	}
	out := make([]hvcore.Segment, len(regs))
	for i, r := range regs {
		field := segmentField(&sregs, r)
		if field == nil {
			return nil, hvcore.New(hvcore.KindNotImplemented, "kvm: get_segment_registers", fmt.Errorf("unsupported segment register %v", r))
		}
		out[i] = toHvcoreSegment(*field)
	}
	return out, nil
}

func (v *virtualCPU) SetSegmentRegisters(regs []hvcore.SegmentRegister, values []hvcore.Segment) error {
	sregs, err := getSRegs(v.fd)
	if err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_segment_registers", err)
	}
	for i, r := range regs {
		field := segmentField(&sregs, r)
		if field == nil {
			return hvcore.New(hvcore.KindNotImplemented, "kvm: set_segment_registers", fmt.Errorf("unsupported segment register %v", r))
		}
		*field = fromHvcoreSegment(values[i])
	}
	if err := setSRegs(v.fd, &sregs); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_segment_registers", err)
	}
	return nil
}

func (v *virtualCPU) GetDescriptorTables(regs []hvcore.DescriptorTableRegister) ([]hvcore.DescriptorTable, error) {
	sregs, err := getSRegs(v.fd)
	if err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "kvm: get_descriptor_tables", err)
	}
	out := make([]hvcore.DescriptorTable, len(regs))
	for i, r := range regs {
		switch r {
		case hvcore.DescGDT:
			out[i] = hvcore.DescriptorTable{Base: sregs.Gdt.Base, Limit: sregs.Gdt.Limit}
		case hvcore.DescIDT:
			out[i] = hvcore.DescriptorTable{Base: sregs.Idt.Base, Limit: sregs.Idt.Limit}
		default:
			return nil, hvcore.New(hvcore.KindNotImplemented, "kvm: get_descriptor_tables", fmt.Errorf("unsupported descriptor table %v", r))
		}
	}
	return out, nil
}

func (v *virtualCPU) SetDescriptorTables(regs []hvcore.DescriptorTableRegister, values []hvcore.DescriptorTable) error {
	sregs, err := getSRegs(v.fd)
	if err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_descriptor_tables", err)
	}
	for i, r := range regs {
		switch r {
		case hvcore.DescGDT:
			sregs.Gdt = kvmDTable{Base: values[i].Base, Limit: values[i].Limit}
		case hvcore.DescIDT:
			sregs.Idt = kvmDTable{Base: values[i].Base, Limit: values[i].Limit}
		default:
			return hvcore.New(hvcore.KindNotImplemented, "kvm: set_descriptor_tables", fmt.Errorf("unsupported descriptor table %v", r))
		}
	}
	if err := setSRegs(v.fd, &sregs); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "kvm: set_descriptor_tables", err)
	}
	return nil
}
