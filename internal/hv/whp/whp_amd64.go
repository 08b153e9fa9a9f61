//go:build windows && amd64

package whp

import (
	"fmt"
	"runtime"

	"github.com/tinyrange/hv/internal/hv/whp/bindings"
	"github.com/tinyrange/hv/internal/hvcore"
)

// virtualCPU is a single WHP virtual processor. Unlike the teacher's
// original implementation this does not drive the WinHvEmulation
// instruction emulator: WHV_X64_IO_PORT_ACCESS_CONTEXT already carries a
// decoded port, size, and direction, so Run can translate exits straight
// into hvcore.ExitReason the same way the KVM and HVF ports do.
type virtualCPU struct {
	vm *virtualMachine
	id uint32
}

func (v *virtualCPU) finalize() { _ = v.Close() }

func (v *virtualCPU) Reset() error {
	names := []bindings.RegisterName{bindings.RegisterRip, bindings.RegisterRflags, bindings.RegisterCr0, bindings.RegisterCr4, bindings.RegisterEfer}
	values := make([]bindings.RegisterValue, len(names))
	values[0].SetUint64(0xFFF0)
	values[1].SetUint64(0x2)
	values[2].SetUint64(0)
	values[3].SetUint64(0)
	values[4].SetUint64(0)
	if err := bindings.SetVirtualProcessorRegisters(v.vm.part, v.id, names, values); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: reset", err)
	}

	realMode := hvcore.Segment{Limit: 0xFFFFF, Type: 3, NonSystem: true, Present: true}
	cs := hvcore.Segment{Base: 0xFFFF0000, Limit: 0xFFFFF, Selector: 0xF000, Type: 0xB, NonSystem: true, Present: true}
	tr := hvcore.Segment{Limit: 0xFFFF, Type: 0xB, Present: true}
	ldt := hvcore.Segment{Limit: 0xFFFF, Type: 0x2}
	return v.SetSegmentRegisters(
		[]hvcore.SegmentRegister{hvcore.SegCS, hvcore.SegDS, hvcore.SegES, hvcore.SegFS, hvcore.SegGS, hvcore.SegSS, hvcore.SegTR, hvcore.SegLDT},
		[]hvcore.Segment{cs, realMode, realMode, realMode, realMode, realMode, tr, ldt},
	)
}

func (v *virtualCPU) Run() (hvcore.ExitReason, error) {
	var exit bindings.RunVPExitContext
	if err := bindings.RunVirtualProcessorContext(v.vm.part, v.id, &exit); err != nil {
		return hvcore.ExitReason{}, hvcore.New(hvcore.KindHostUnavailable, "whp: WHvRunVirtualProcessor", err)
	}
	return translateExit(&exit), nil
}

func translateExit(exit *bindings.RunVPExitContext) hvcore.ExitReason {
	switch exit.ExitReason {
	case bindings.RunVPExitReasonX64Halt:
		return hvcore.ExitReason{Kind: hvcore.ExitHalted}
	case bindings.RunVPExitReasonX64IoPortAccess:
		io := exit.IoPortAccess()
		isWrite := io.AccessInfo.AsUINT32&0x1 != 0
		size := int((io.AccessInfo.AsUINT32 >> 1) & 0x7)
		var payload [8]byte
		switch size {
		case 1:
			payload[0] = byte(io.Rax)
		case 2:
			payload[0], payload[1] = byte(io.Rax), byte(io.Rax>>8)
		case 4:
			for i := 0; i < 4; i++ {
				payload[i] = byte(io.Rax >> (8 * i))
			}
		}
		bytes := payload[:size]
		if isWrite {
			return hvcore.ExitReason{Kind: hvcore.ExitIoOut, Port: io.Port, Bytes: bytes}
		}
		return hvcore.ExitReason{Kind: hvcore.ExitIoIn, Port: io.Port, Bytes: bytes}
	case bindings.RunVPExitReasonMemoryAccess:
		// Without the WinHvEmulation instruction emulator there is no access
		// size to report, so an access to an unmapped GPA surfaces the same
		// way HVF's EPT violations do.
		mem := exit.MemoryAccess()
		return hvcore.ExitReason{Kind: hvcore.ExitInvalidMemoryAccess, Gpa: uint64(mem.Gpa), Gva: uint64(mem.Gva)}
	case bindings.RunVPExitReasonUnrecoverableException, bindings.RunVPExitReasonException:
		return hvcore.ExitReason{Kind: hvcore.ExitUnhandledException}
	default:
		return hvcore.ExitReason{Kind: hvcore.ExitUnknown}
	}
}

func (v *virtualCPU) Close() error {
	runtime.SetFinalizer(v, nil)
	return bindings.DeleteVirtualProcessor(v.vm.part, v.id)
}

func registerName(r hvcore.Register) bindings.RegisterName {
	switch r {
	case hvcore.RAX:
		return bindings.RegisterRax
	case hvcore.RBX:
		return bindings.RegisterRbx
	case hvcore.RCX:
		return bindings.RegisterRcx
	case hvcore.RDX:
		return bindings.RegisterRdx
	case hvcore.RSI:
		return bindings.RegisterRsi
	case hvcore.RDI:
		return bindings.RegisterRdi
	case hvcore.RSP:
		return bindings.RegisterRsp
	case hvcore.RBP:
		return bindings.RegisterRbp
	case hvcore.R8:
		return bindings.RegisterR8
	case hvcore.R9:
		return bindings.RegisterR9
	case hvcore.R10:
		return bindings.RegisterR10
	case hvcore.R11:
		return bindings.RegisterR11
	case hvcore.R12:
		return bindings.RegisterR12
	case hvcore.R13:
		return bindings.RegisterR13
	case hvcore.R14:
		return bindings.RegisterR14
	case hvcore.R15:
		return bindings.RegisterR15
	case hvcore.RIP:
		return bindings.RegisterRip
	case hvcore.RFLAGS:
		return bindings.RegisterRflags
	}
	return 0xFFFFFFFF
}

func (v *virtualCPU) GetRegisters(regs []hvcore.Register) ([]uint64, error) {
	names := make([]bindings.RegisterName, len(regs))
	for i, r := range regs {
		names[i] = registerName(r)
		if names[i] == 0xFFFFFFFF {
			return nil, hvcore.New(hvcore.KindNotImplemented, "whp: get_registers", fmt.Errorf("unsupported register %v", r))
		}
	}
	values := make([]bindings.RegisterValue, len(names))
	if err := bindings.GetVirtualProcessorRegisters(v.vm.part, v.id, names, values); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: get_registers", err)
	}
	out := make([]uint64, len(regs))
	for i := range values {
		out[i] = *values[i].AsUint64()
	}
	return out, nil
}

func (v *virtualCPU) SetRegisters(regs []hvcore.Register, values []uint64) error {
	names := make([]bindings.RegisterName, len(regs))
	rv := make([]bindings.RegisterValue, len(regs))
	for i, r := range regs {
		names[i] = registerName(r)
		if names[i] == 0xFFFFFFFF {
			return hvcore.New(hvcore.KindNotImplemented, "whp: set_registers", fmt.Errorf("unsupported register %v", r))
		}
		rv[i].SetUint64(values[i])
	}
	if err := bindings.SetVirtualProcessorRegisters(v.vm.part, v.id, names, rv); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: set_registers", err)
	}
	return nil
}

func controlRegisterName(r hvcore.ControlRegister) (bindings.RegisterName, bool) {
	switch r {
	case hvcore.CR0:
		return bindings.RegisterCr0, true
	case hvcore.CR1:
		return 0, false
	case hvcore.CR2:
		return bindings.RegisterCr2, true
	case hvcore.CR3:
		return bindings.RegisterCr3, true
	case hvcore.CR4:
		return bindings.RegisterCr4, true
	case hvcore.CR8:
		return bindings.RegisterCr8, true
	}
	return 0, false
}

func (v *virtualCPU) GetControlRegisters(regs []hvcore.ControlRegister) ([]uint64, error) {
	out := make([]uint64, len(regs))
	var names []bindings.RegisterName
	var idx []int
	for i, r := range regs {
		if name, ok := controlRegisterName(r); ok {
			names = append(names, name)
			idx = append(idx, i)
		}
	}
	if len(names) > 0 {
		values := make([]bindings.RegisterValue, len(names))
		if err := bindings.GetVirtualProcessorRegisters(v.vm.part, v.id, names, values); err != nil {
			return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: get_control_registers", err)
		}
		for j, i := range idx {
			out[i] = *values[j].AsUint64()
		}
	}
	return out, nil
}

// SetControlRegisters writes CR0..CR4/CR8. CR1 is architecturally
// reserved; per the hvcore.ControlRegister contract, writes to it are
// silently discarded rather than forwarded to WHP.
func (v *virtualCPU) SetControlRegisters(regs []hvcore.ControlRegister, values []uint64) error {
	var names []bindings.RegisterName
	var rv []bindings.RegisterValue
	for i, r := range regs {
		name, ok := controlRegisterName(r)
		if !ok {
			continue
		}
		var val bindings.RegisterValue
		val.SetUint64(values[i])
		names = append(names, name)
		rv = append(rv, val)
	}
	if len(names) == 0 {
		return nil
	}
	if err := bindings.SetVirtualProcessorRegisters(v.vm.part, v.id, names, rv); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: set_control_registers", err)
	}
	return nil
}

func msrRegisterName(msr uint32) (bindings.RegisterName, bool) {
	switch msr {
	case hvcore.MsrEFER:
		return bindings.RegisterEfer, true
	case hvcore.MsrSTAR:
		return bindings.RegisterStar, true
	case hvcore.MsrLSTAR:
		return bindings.RegisterLstar, true
	case hvcore.MsrCSTAR:
		return bindings.RegisterCstar, true
	case hvcore.MsrSyscallMask:
		return bindings.RegisterSfmask, true
	case hvcore.MsrKernelGsBase:
		return bindings.RegisterKernelGsBase, true
	case hvcore.MsrSysenterCS:
		return bindings.RegisterSysenterCs, true
	case hvcore.MsrSysenterESP:
		return bindings.RegisterSysenterEsp, true
	case hvcore.MsrSysenterEIP:
		return bindings.RegisterSysenterEip, true
	}
	return 0, false
}

func (v *virtualCPU) GetMsrs(msrs []uint32) ([]uint64, error) {
	names := make([]bindings.RegisterName, len(msrs))
	for i, m := range msrs {
		name, ok := msrRegisterName(m)
		if !ok {
			return nil, hvcore.New(hvcore.KindNotImplemented, "whp: get_msrs", fmt.Errorf("unsupported msr %#x", m))
		}
		names[i] = name
	}
	values := make([]bindings.RegisterValue, len(names))
	if err := bindings.GetVirtualProcessorRegisters(v.vm.part, v.id, names, values); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: get_msrs", err)
	}
	out := make([]uint64, len(msrs))
	for i := range values {
		out[i] = *values[i].AsUint64()
	}
	return out, nil
}

func (v *virtualCPU) SetMsrs(msrs []uint32, values []uint64) error {
	names := make([]bindings.RegisterName, len(msrs))
	rv := make([]bindings.RegisterValue, len(msrs))
	for i, m := range msrs {
		name, ok := msrRegisterName(m)
		if !ok {
			return hvcore.New(hvcore.KindNotImplemented, "whp: set_msrs", fmt.Errorf("unsupported msr %#x", m))
		}
		names[i] = name
		rv[i].SetUint64(values[i])
	}
	if err := bindings.SetVirtualProcessorRegisters(v.vm.part, v.id, names, rv); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: set_msrs", err)
	}
	return nil
}

func segmentRegisterName(r hvcore.SegmentRegister) (bindings.RegisterName, bool) {
	switch r {
	case hvcore.SegCS:
		return bindings.RegisterCs, true
	case hvcore.SegDS:
		return bindings.RegisterDs, true
	case hvcore.SegES:
		return bindings.RegisterEs, true
	case hvcore.SegFS:
		return bindings.RegisterFs, true
	case hvcore.SegGS:
		return bindings.RegisterGs, true
	case hvcore.SegSS:
		return bindings.RegisterSs, true
	case hvcore.SegTR:
		return bindings.RegisterTr, true
	case hvcore.SegLDT:
		return bindings.RegisterLdtr, true
	}
	return 0, false
}

func (v *virtualCPU) GetSegmentRegisters(regs []hvcore.SegmentRegister) ([]hvcore.Segment, error) {
	names := make([]bindings.RegisterName, len(regs))
	for i, r := range regs {
		name, ok := segmentRegisterName(r)
		if !ok {
			return nil, hvcore.New(hvcore.KindNotImplemented, "whp: get_segment_registers", fmt.Errorf("unsupported segment register %v", r))
		}
		names[i] = name
	}
	values := make([]bindings.RegisterValue, len(names))
	if err := bindings.GetVirtualProcessorRegisters(v.vm.part, v.id, names, values); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: get_segment_registers", err)
	}
	out := make([]hvcore.Segment, len(regs))
	for i := range values {
		seg := values[i].AsSegment()
		out[i] = hvcore.SegmentFromAccessRights(seg.Base, seg.Limit, seg.Selector, uint32(seg.Attributes))
	}
	return out, nil
}

func (v *virtualCPU) SetSegmentRegisters(regs []hvcore.SegmentRegister, values []hvcore.Segment) error {
	names := make([]bindings.RegisterName, len(regs))
	rv := make([]bindings.RegisterValue, len(regs))
	for i, r := range regs {
		name, ok := segmentRegisterName(r)
		if !ok {
			return hvcore.New(hvcore.KindNotImplemented, "whp: set_segment_registers", fmt.Errorf("unsupported segment register %v", r))
		}
		names[i] = name
		seg := rv[i].AsSegment()
		seg.Base = values[i].Base
		seg.Limit = values[i].Limit
		seg.Selector = values[i].Selector
		seg.Attributes = uint16(values[i].AccessRights())
	}
	if err := bindings.SetVirtualProcessorRegisters(v.vm.part, v.id, names, rv); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: set_segment_registers", err)
	}
	return nil
}

func (v *virtualCPU) GetDescriptorTables(regs []hvcore.DescriptorTableRegister) ([]hvcore.DescriptorTable, error) {
	names := make([]bindings.RegisterName, len(regs))
	for i, r := range regs {
		switch r {
		case hvcore.DescGDT:
			names[i] = bindings.RegisterGdtr
		case hvcore.DescIDT:
			names[i] = bindings.RegisterIdtr
		default:
			return nil, hvcore.New(hvcore.KindNotImplemented, "whp: get_descriptor_tables", fmt.Errorf("unsupported descriptor table %v", r))
		}
	}
	values := make([]bindings.RegisterValue, len(names))
	if err := bindings.GetVirtualProcessorRegisters(v.vm.part, v.id, names, values); err != nil {
		return nil, hvcore.New(hvcore.KindHostUnavailable, "whp: get_descriptor_tables", err)
	}
	out := make([]hvcore.DescriptorTable, len(regs))
	for i := range values {
		table := values[i].AsTable()
		out[i] = hvcore.DescriptorTable{Base: table.Base, Limit: table.Limit}
	}
	return out, nil
}

func (v *virtualCPU) SetDescriptorTables(regs []hvcore.DescriptorTableRegister, values []hvcore.DescriptorTable) error {
	names := make([]bindings.RegisterName, len(regs))
	rv := make([]bindings.RegisterValue, len(regs))
	for i, r := range regs {
		switch r {
		case hvcore.DescGDT:
			names[i] = bindings.RegisterGdtr
		case hvcore.DescIDT:
			names[i] = bindings.RegisterIdtr
		default:
			return hvcore.New(hvcore.KindNotImplemented, "whp: set_descriptor_tables", fmt.Errorf("unsupported descriptor table %v", r))
		}
		table := rv[i].AsTable()
		table.Base = values[i].Base
		table.Limit = values[i].Limit
	}
	if err := bindings.SetVirtualProcessorRegisters(v.vm.part, v.id, names, rv); err != nil {
		return hvcore.New(hvcore.KindHostUnavailable, "whp: set_descriptor_tables", err)
	}
	return nil
}
