//go:build windows

package bindings

import (
	"unsafe"
)

// Uint128 mirrors WHV_UINT128.
type Uint128 struct {
	Low64  uint64
	High64 uint64
}

// X64SegmentRegister mirrors WHV_X64_SEGMENT_REGISTER.
type X64SegmentRegister struct {
	Base       uint64
	Limit      uint32
	Selector   uint16
	Attributes uint16 // Bitfield: SegmentType:4, NonSystem:1, DPL:2, Present:1, Reserved:4, Avail:1, Long:1, Default:1, Gran:1
}

// X64TableRegister mirrors WHV_X64_TABLE_REGISTER.
type X64TableRegister struct {
	Pad   [3]uint16
	Limit uint16
	Base  uint64
}

// RegisterValue mirrors WHV_REGISTER_VALUE.
type RegisterValue struct {
	Raw Uint128
}

// SetUint64 sets the union to a 64-bit register.
func (v *RegisterValue) SetUint64(val uint64) {
	*v = RegisterValue{}
	*(*uint64)(unsafe.Pointer(v)) = val
}

// AsUint64 interprets the union as a 64-bit register.
func (v *RegisterValue) AsUint64() *uint64 {
	return (*uint64)(unsafe.Pointer(v))
}

// AsSegment interprets the union as a segment register.
func (v *RegisterValue) AsSegment() *X64SegmentRegister {
	return (*X64SegmentRegister)(unsafe.Pointer(v))
}

// AsTable interprets the union as a table register.
func (v *RegisterValue) AsTable() *X64TableRegister {
	return (*X64TableRegister)(unsafe.Pointer(v))
}

// X64VPExecutionState mirrors WHV_X64_VP_EXECUTION_STATE.
type X64VPExecutionState struct {
	AsUINT16 uint16 // Bitfield: Cpl:2, Cr0Pe:1, Cr0Am:1, EferLma:1, DebugActive:1, IntPending:1, Res:5, IntShadow:1, Res:3
}

// VPExitContext mirrors WHV_VP_EXIT_CONTEXT (WHV_X64_VP_EXIT_CONTEXT).
type VPExitContext struct {
	ExecutionState       X64VPExecutionState
	InstructionLengthCr8 uint8 // Bitfield: InstructionLength:4, Cr8:4
	Reserved             uint8
	Reserved2            uint32
	Cs                   X64SegmentRegister
	Rip                  uint64
	Rflags               uint64
}

// X64IOPortAccessInfo mirrors WHV_X64_IO_PORT_ACCESS_INFO.
type X64IOPortAccessInfo struct {
	AsUINT32 uint32 // Bitfield: IsWrite:1, AccessSize:3, StringOp:1, RepPrefix:1, Reserved:26
}

// X64IOPortAccessContext mirrors WHV_X64_IO_PORT_ACCESS_CONTEXT.
type X64IOPortAccessContext struct {
	InstructionByteCount uint8
	Reserved             [3]uint8
	InstructionBytes     [16]uint8
	AccessInfo           X64IOPortAccessInfo
	Port                 uint16
	Reserved2            [3]uint16
	Rax                  uint64
	Rcx                  uint64
	Rsi                  uint64
	Rdi                  uint64
	Ds                   X64SegmentRegister
	Es                   X64SegmentRegister
}

// VPExceptionInfo mirrors WHV_VP_EXCEPTION_INFO.
type VPExceptionInfo struct {
	AsUINT32 uint32 // Bitfield: ErrorCodeValid:1, SoftwareException:1, Reserved:30
}

// VPExceptionContext mirrors WHV_VP_EXCEPTION_CONTEXT.
type VPExceptionContext struct {
	InstructionByteCount uint8
	Reserved             [3]uint8
	InstructionBytes     [16]uint8
	ExceptionInfo        VPExceptionInfo
	ExceptionType        uint8 // WHV_EXCEPTION_TYPE
	Reserved2            [3]uint8
	ErrorCode            uint32
	ExceptionParameter   uint64
}

// MemoryAccessType mirrors WHV_MEMORY_ACCESS_TYPE.
type MemoryAccessType uint8

const (
	MemoryAccessRead    MemoryAccessType = 0
	MemoryAccessWrite   MemoryAccessType = 1
	MemoryAccessExecute MemoryAccessType = 2
)
