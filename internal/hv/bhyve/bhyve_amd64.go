//go:build freebsd && amd64

package bhyve

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/hv/internal/hvcore"
)

// virtualCPU is a cpuid plus a reference to the VM's shared /dev/vmm/<name>
// file descriptor; bhyve's ioctls are demultiplexed by the cpuid field
// inside the argument struct rather than by a per-vCPU fd.
type virtualCPU struct {
	vm  *virtualMachine
	id  int32
	rip uint64
}

func (v *virtualCPU) finalize() { _ = v.Close() }

func (v *virtualCPU) fd() int { return int(v.vm.file.Fd()) }

func (v *virtualCPU) getRegister(reg int32) (uint64, error) {
	args := vmRegister{Cpuid: v.id, Regnum: reg}
	if err := vmGetRegister(v.fd(), &args); err != nil {
		return 0, err
	}
	return args.Value, nil
}

func (v *virtualCPU) setRegister(reg int32, value uint64) error {
	args := vmRegister{Cpuid: v.id, Regnum: reg, Value: value}
	return vmSetRegister(v.fd(), &args)
}

func (v *virtualCPU) getSegmentDescriptor(reg int32) (segDesc, error) {
	args := vmSegDesc{Cpuid: v.id, Regnum: reg}
	if err := vmGetSegmentDescriptor(v.fd(), &args); err != nil {
		return segDesc{}, err
	}
	return args.Desc, nil
}

func (v *virtualCPU) setSegmentDescriptor(reg int32, desc segDesc) error {
	args := vmSegDesc{Cpuid: v.id, Regnum: reg, Desc: desc}
	return vmSetSegmentDescriptor(v.fd(), &args)
}

// Reset sets RFLAGS to 0x2, zeroes CR0/CR4/EFER, points RIP at the reset
// vector (0xFFF0) and brings CS/DS/ES/FS/GS/SS/TR/LDT up in
// the same real-mode shape the KVM and WHP ports use, encoding each
// descriptor's access-rights field the way vm_seg_desc expects.
func (v *virtualCPU) Reset() error {
	if err := v.setRegister(vmRegGuestRflags, 0x2); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "bhyve: reset (RFLAGS)", err)
	}
	if err := v.setRegister(vmRegGuestCr0, 0); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "bhyve: reset (CR0)", err)
	}
	if err := v.setRegister(vmRegGuestCr4, 0); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "bhyve: reset (CR4)", err)
	}
	if err := v.setRegister(vmRegGuestEfer, 0); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "bhyve: reset (EFER)", err)
	}

	type realSeg struct {
		reg      int32
		selector uint64
		desc     segDesc
	}
	segs := []realSeg{
		{vmRegGuestCs, 0xF000, segDesc{Base: 0xFFFF0000, Limit: 0xFFFFF, Access: 0x9B}},
		{vmRegGuestDs, 0, segDesc{Base: 0, Limit: 0xFFFFF, Access: 0x93}},
		{vmRegGuestEs, 0, segDesc{Base: 0, Limit: 0xFFFFF, Access: 0x93}},
		{vmRegGuestFs, 0, segDesc{Base: 0, Limit: 0xFFFFF, Access: 0x93}},
		{vmRegGuestGs, 0, segDesc{Base: 0, Limit: 0xFFFFF, Access: 0x93}},
		{vmRegGuestSs, 0, segDesc{Base: 0, Limit: 0xFFFFF, Access: 0x93}},
		{vmRegGuestTr, 0, segDesc{Base: 0, Limit: 0xFFFF, Access: 0x8B}},
		{vmRegGuestLdtr, 0, segDesc{Base: 0, Limit: 0xFFFF, Access: 0x02}},
	}
	for _, s := range segs {
		if err := v.setSegmentDescriptor(s.reg, s.desc); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "bhyve: reset (segment descriptor)", err)
		}
		if err := v.setRegister(s.reg, s.selector); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "bhyve: reset (segment selector)", err)
		}
	}
	v.rip = 0xFFF0
	return nil
}

func (v *virtualCPU) Run() (hvcore.ExitReason, error) {
	var run vmRun
	run.Cpuid = v.id
	run.Rip = v.rip
	if err := vmRunCall(v.fd(), &run); err != nil {
		return hvcore.ExitReason{}, hvcore.New(hvcore.KindHostUnavailable, "bhyve: VM_RUN", err)
	}
	return translateExit(&run.Exit), nil
}

// translateExit only recognizes VM_EXITCODE_HLT, matching the source's
// exit-reason match arm; every other exitcode (INOUT, RDMSR/WRMSR, PAGING,
// INST_EMUL, ...) falls through to Unknown, since nothing in this port
// decodes them.
func translateExit(exit *vmExit) hvcore.ExitReason {
	switch exit.ExitCode {
	case vmExitcodeHlt:
		return hvcore.ExitReason{Kind: hvcore.ExitHalted}
	default:
		return hvcore.ExitReason{Kind: hvcore.ExitUnknown}
	}
}

func (v *virtualCPU) Close() error {
	runtime.SetFinalizer(v, nil)
	return nil
}

func registerName(r hvcore.Register) (int32, bool) {
	switch r {
	case hvcore.RAX:
		return vmRegGuestRax, true
	case hvcore.RBX:
		return vmRegGuestRbx, true
	case hvcore.RCX:
		return vmRegGuestRcx, true
	case hvcore.RDX:
		return vmRegGuestRdx, true
	case hvcore.RSI:
		return vmRegGuestRsi, true
	case hvcore.RDI:
		return vmRegGuestRdi, true
	case hvcore.RSP:
		return vmRegGuestRsp, true
	case hvcore.RBP:
		return vmRegGuestRbp, true
	case hvcore.R8:
		return vmRegGuestR8, true
	case hvcore.R9:
		return vmRegGuestR9, true
	case hvcore.R10:
		return vmRegGuestR10, true
	case hvcore.R11:
		return vmRegGuestR11, true
	case hvcore.R12:
		return vmRegGuestR12, true
	case hvcore.R13:
		return vmRegGuestR13, true
	case hvcore.R14:
		return vmRegGuestR14, true
	case hvcore.R15:
		return vmRegGuestR15, true
	case hvcore.RIP:
		return vmRegGuestRip, true
	case hvcore.RFLAGS:
		return vmRegGuestRflags, true
	}
	return 0, false
}

func (v *virtualCPU) GetRegisters(regs []hvcore.Register) ([]uint64, error) {
	out := make([]uint64, len(regs))
	for i, r := range regs {
		regnum, ok := registerName(r)
		if !ok {
			return nil, hvcore.New(hvcore.KindNotImplemented, "bhyve: get_registers", fmt.Errorf("unsupported register %v", r))
		}
		value, err := v.getRegister(regnum)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "bhyve: VM_GET_REGISTER", err)
		}
		out[i] = value
	}
	return out, nil
}

func (v *virtualCPU) SetRegisters(regs []hvcore.Register, values []uint64) error {
	for i, r := range regs {
		regnum, ok := registerName(r)
		if !ok {
			return hvcore.New(hvcore.KindNotImplemented, "bhyve: set_registers", fmt.Errorf("unsupported register %v", r))
		}
		if r == hvcore.RIP {
			v.rip = values[i]
		}
		if err := v.setRegister(regnum, values[i]); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "bhyve: VM_SET_REGISTER", err)
		}
	}
	return nil
}

// controlRegisterName maps CR0/CR3/CR4 only: bhyve's vm_reg_name has no
// entry for CR1, CR2, or CR8, matching vcpu.rs's get/set_control_registers.
func controlRegisterName(r hvcore.ControlRegister) (int32, bool) {
	switch r {
	case hvcore.CR0:
		return vmRegGuestCr0, true
	case hvcore.CR3:
		return vmRegGuestCr3, true
	case hvcore.CR4:
		return vmRegGuestCr4, true
	}
	return 0, false
}

func (v *virtualCPU) GetControlRegisters(regs []hvcore.ControlRegister) ([]uint64, error) {
	out := make([]uint64, len(regs))
	for i, r := range regs {
		regnum, ok := controlRegisterName(r)
		if !ok {
			continue
		}
		value, err := v.getRegister(regnum)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "bhyve: get_control_registers", err)
		}
		out[i] = value
	}
	return out, nil
}

func (v *virtualCPU) SetControlRegisters(regs []hvcore.ControlRegister, values []uint64) error {
	for i, r := range regs {
		regnum, ok := controlRegisterName(r)
		if !ok {
			continue
		}
		if err := v.setRegister(regnum, values[i]); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "bhyve: set_control_registers", err)
		}
	}
	return nil
}

// GetMsrs/SetMsrs only address MSR_IA32_EFER, surfaced through
// VM_REG_GUEST_EFER; every other MSR reads 0 / discards writes, matching
// vcpu.rs.
func (v *virtualCPU) GetMsrs(msrs []uint32) ([]uint64, error) {
	out := make([]uint64, len(msrs))
	for i, m := range msrs {
		if m != hvcore.MsrEFER {
			continue
		}
		value, err := v.getRegister(vmRegGuestEfer)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "bhyve: get_msrs", err)
		}
		out[i] = value
	}
	return out, nil
}

func (v *virtualCPU) SetMsrs(msrs []uint32, values []uint64) error {
	for i, m := range msrs {
		if m != hvcore.MsrEFER {
			continue
		}
		if err := v.setRegister(vmRegGuestEfer, values[i]); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "bhyve: set_msrs", err)
		}
	}
	return nil
}

func segmentRegisterName(r hvcore.SegmentRegister) (int32, bool) {
	switch r {
	case hvcore.SegCS:
		return vmRegGuestCs, true
	case hvcore.SegDS:
		return vmRegGuestDs, true
	case hvcore.SegES:
		return vmRegGuestEs, true
	case hvcore.SegFS:
		return vmRegGuestFs, true
	case hvcore.SegGS:
		return vmRegGuestGs, true
	case hvcore.SegSS:
		return vmRegGuestSs, true
	case hvcore.SegTR:
		return vmRegGuestTr, true
	case hvcore.SegLDT:
		return vmRegGuestLdtr, true
	}
	return 0, false
}

func (v *virtualCPU) GetSegmentRegisters(regs []hvcore.SegmentRegister) ([]hvcore.Segment, error) {
	out := make([]hvcore.Segment, len(regs))
	for i, r := range regs {
		regnum, ok := segmentRegisterName(r)
		if !ok {
			return nil, hvcore.New(hvcore.KindNotImplemented, "bhyve: get_segment_registers", fmt.Errorf("unsupported segment register %v", r))
		}
		selector, err := v.getRegister(regnum)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "bhyve: get_segment_registers", err)
		}
		desc, err := v.getSegmentDescriptor(regnum)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "bhyve: get_segment_registers", err)
		}
		out[i] = hvcore.SegmentFromAccessRights(desc.Base, desc.Limit, uint16(selector), desc.Access)
	}
	return out, nil
}

func (v *virtualCPU) SetSegmentRegisters(regs []hvcore.SegmentRegister, values []hvcore.Segment) error {
	for i, r := range regs {
		regnum, ok := segmentRegisterName(r)
		if !ok {
			return hvcore.New(hvcore.KindNotImplemented, "bhyve: set_segment_registers", fmt.Errorf("unsupported segment register %v", r))
		}
		seg := values[i]
		desc := segDesc{Base: seg.Base, Limit: seg.Limit, Access: seg.AccessRights()}
		if err := v.setSegmentDescriptor(regnum, desc); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "bhyve: set_segment_registers", err)
		}
		if err := v.setRegister(regnum, uint64(seg.Selector)); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "bhyve: set_segment_registers", err)
		}
	}
	return nil
}

func descriptorTableRegisterName(r hvcore.DescriptorTableRegister) (int32, bool) {
	switch r {
	case hvcore.DescGDT:
		return vmRegGuestGdtr, true
	case hvcore.DescIDT:
		return vmRegGuestIdtr, true
	}
	return 0, false
}

func (v *virtualCPU) GetDescriptorTables(regs []hvcore.DescriptorTableRegister) ([]hvcore.DescriptorTable, error) {
	out := make([]hvcore.DescriptorTable, len(regs))
	for i, r := range regs {
		regnum, ok := descriptorTableRegisterName(r)
		if !ok {
			return nil, hvcore.New(hvcore.KindNotImplemented, "bhyve: get_descriptor_tables", fmt.Errorf("unsupported descriptor table %v", r))
		}
		desc, err := v.getSegmentDescriptor(regnum)
		if err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "bhyve: get_descriptor_tables", err)
		}
		out[i] = hvcore.DescriptorTable{Base: desc.Base, Limit: uint16(desc.Limit)}
	}
	return out, nil
}

func (v *virtualCPU) SetDescriptorTables(regs []hvcore.DescriptorTableRegister, values []hvcore.DescriptorTable) error {
	for i, r := range regs {
		regnum, ok := descriptorTableRegisterName(r)
		if !ok {
			return hvcore.New(hvcore.KindNotImplemented, "bhyve: set_descriptor_tables", fmt.Errorf("unsupported descriptor table %v", r))
		}
		desc := segDesc{Base: values[i].Base, Limit: uint32(values[i].Limit)}
		if err := v.setSegmentDescriptor(regnum, desc); err != nil {
			return hvcore.New(hvcore.KindHostUnavailable, "bhyve: set_descriptor_tables", err)
		}
	}
	return nil
}
