//go:build windows && amd64

package bindings

import (
	"fmt"
	"unsafe"
)

// RunVPExitReason mirrors WHV_RUN_VP_EXIT_REASON. Only the exit reasons this
// port translates into an hvcore.ExitReason are defined; WinHvPlatform
// reports many more (MSR/CPUID intercepts, APIC traps, hypercalls, Synic
// events) that only matter to callers driving the WinHvEmulation instruction
// emulator or a synthetic interrupt controller, neither of which this port
// implements.
type RunVPExitReason uint32

const (
	RunVPExitReasonNone                   RunVPExitReason = 0x00000000
	RunVPExitReasonMemoryAccess           RunVPExitReason = 0x00000001
	RunVPExitReasonX64IoPortAccess        RunVPExitReason = 0x00000002
	RunVPExitReasonUnrecoverableException RunVPExitReason = 0x00000004
	RunVPExitReasonX64Halt                RunVPExitReason = 0x00000008
	RunVPExitReasonException              RunVPExitReason = 0x00001002
)

func (r RunVPExitReason) String() string {
	switch r {
	case RunVPExitReasonNone:
		return "None"
	case RunVPExitReasonMemoryAccess:
		return "MemoryAccess"
	case RunVPExitReasonX64IoPortAccess:
		return "X64IoPortAccess"
	case RunVPExitReasonUnrecoverableException:
		return "UnrecoverableException"
	case RunVPExitReasonX64Halt:
		return "X64Halt"
	case RunVPExitReasonException:
		return "Exception"
	default:
		return fmt.Sprintf("Unknown(%d)", r)
	}
}

// RunVPExitContext mirrors WHV_RUN_VP_EXIT_CONTEXT. Size is exactly 224
// bytes on AMD64: a 48-byte header followed by a 176-byte union whose
// members are reached through the accessors below.
type RunVPExitContext struct {
	ExitReason   RunVPExitReason
	Reserved     uint32
	VpContext    VPExitContext
	unionPayload [176]byte
}

// MemoryAccessInfo mirrors WHV_MEMORY_ACCESS_INFO.
type MemoryAccessInfo struct {
	AsUINT32 uint32
}

// MemoryAccessContext mirrors WHV_MEMORY_ACCESS_CONTEXT (40 bytes).
type MemoryAccessContext struct {
	InstructionByteCount uint8
	Reserved             [3]uint8
	InstructionBytes     [16]uint8
	AccessInfo           MemoryAccessInfo
	Gpa                  GuestPhysicalAddress
	Gva                  GuestVirtualAddress
}

func (c *RunVPExitContext) MemoryAccess() *MemoryAccessContext {
	return (*MemoryAccessContext)(unsafe.Pointer(&c.unionPayload[0]))
}

func (c *RunVPExitContext) IoPortAccess() *X64IOPortAccessContext {
	return (*X64IOPortAccessContext)(unsafe.Pointer(&c.unionPayload[0]))
}

func (c *RunVPExitContext) VpException() *VPExceptionContext {
	return (*VPExceptionContext)(unsafe.Pointer(&c.unionPayload[0]))
}
