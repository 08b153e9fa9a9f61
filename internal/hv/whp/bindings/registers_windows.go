//go:build windows

package bindings

import "fmt"

// RegisterName mirrors WHV_REGISTER_NAME. Only the x86-64 general purpose,
// segment, table, control, and syscall/sysenter MSR names this port actually
// reads or writes are kept; the platform header also defines floating point,
// debug, APIC, Synic, and ARM64 register names that have no caller here.
type RegisterName uint32

// X64 General Purpose Registers
const (
	RegisterRax    RegisterName = 0x00000000
	RegisterRcx    RegisterName = 0x00000001
	RegisterRdx    RegisterName = 0x00000002
	RegisterRbx    RegisterName = 0x00000003
	RegisterRsp    RegisterName = 0x00000004
	RegisterRbp    RegisterName = 0x00000005
	RegisterRsi    RegisterName = 0x00000006
	RegisterRdi    RegisterName = 0x00000007
	RegisterR8     RegisterName = 0x00000008
	RegisterR9     RegisterName = 0x00000009
	RegisterR10    RegisterName = 0x0000000A
	RegisterR11    RegisterName = 0x0000000B
	RegisterR12    RegisterName = 0x0000000C
	RegisterR13    RegisterName = 0x0000000D
	RegisterR14    RegisterName = 0x0000000E
	RegisterR15    RegisterName = 0x0000000F
	RegisterRip    RegisterName = 0x00000010
	RegisterRflags RegisterName = 0x00000011
)

// X64 Segment Registers
const (
	RegisterEs   RegisterName = 0x00000012
	RegisterCs   RegisterName = 0x00000013
	RegisterSs   RegisterName = 0x00000014
	RegisterDs   RegisterName = 0x00000015
	RegisterFs   RegisterName = 0x00000016
	RegisterGs   RegisterName = 0x00000017
	RegisterLdtr RegisterName = 0x00000018
	RegisterTr   RegisterName = 0x00000019
)

// X64 Table Registers
const (
	RegisterIdtr RegisterName = 0x0000001A
	RegisterGdtr RegisterName = 0x0000001B
)

// X64 Control Registers
const (
	RegisterCr0 RegisterName = 0x0000001C
	RegisterCr2 RegisterName = 0x0000001D
	RegisterCr3 RegisterName = 0x0000001E
	RegisterCr4 RegisterName = 0x0000001F
	RegisterCr8 RegisterName = 0x00000020
)

// X64 MSRs this port reads or writes for syscall/sysenter fast-path state.
const (
	RegisterEfer         RegisterName = 0x00002001
	RegisterKernelGsBase RegisterName = 0x00002002
	RegisterSysenterCs   RegisterName = 0x00002005
	RegisterSysenterEip  RegisterName = 0x00002006
	RegisterSysenterEsp  RegisterName = 0x00002007
	RegisterStar         RegisterName = 0x00002008
	RegisterLstar        RegisterName = 0x00002009
	RegisterCstar        RegisterName = 0x0000200A
	RegisterSfmask       RegisterName = 0x0000200B
)

func (r RegisterName) String() string {
	switch r {
	case RegisterRax:
		return "RAX"
	case RegisterRcx:
		return "RCX"
	case RegisterRdx:
		return "RDX"
	case RegisterRbx:
		return "RBX"
	case RegisterRsp:
		return "RSP"
	case RegisterRbp:
		return "RBP"
	case RegisterRsi:
		return "RSI"
	case RegisterRdi:
		return "RDI"
	case RegisterR8:
		return "R8"
	case RegisterR9:
		return "R9"
	case RegisterR10:
		return "R10"
	case RegisterR11:
		return "R11"
	case RegisterR12:
		return "R12"
	case RegisterR13:
		return "R13"
	case RegisterR14:
		return "R14"
	case RegisterR15:
		return "R15"
	case RegisterRip:
		return "RIP"
	case RegisterRflags:
		return "RFLAGS"
	case RegisterEs:
		return "ES"
	case RegisterCs:
		return "CS"
	case RegisterSs:
		return "SS"
	case RegisterDs:
		return "DS"
	case RegisterFs:
		return "FS"
	case RegisterGs:
		return "GS"
	case RegisterLdtr:
		return "LDTR"
	case RegisterTr:
		return "TR"
	case RegisterIdtr:
		return "IDTR"
	case RegisterGdtr:
		return "GDTR"
	case RegisterCr0:
		return "CR0"
	case RegisterCr2:
		return "CR2"
	case RegisterCr3:
		return "CR3"
	case RegisterCr4:
		return "CR4"
	case RegisterCr8:
		return "CR8"
	case RegisterEfer:
		return "EFER"
	case RegisterKernelGsBase:
		return "KernelGsBase"
	case RegisterSysenterCs:
		return "SysenterCs"
	case RegisterSysenterEip:
		return "SysenterEip"
	case RegisterSysenterEsp:
		return "SysenterEsp"
	case RegisterStar:
		return "Star"
	case RegisterLstar:
		return "Lstar"
	case RegisterCstar:
		return "Cstar"
	case RegisterSfmask:
		return "Sfmask"
	default:
		return fmt.Sprintf("RegisterName(0x%X)", uint32(r))
	}
}
