package hv

import "github.com/tinyrange/hv/internal/hvcore"

// Register identifies a general-purpose or instruction/flags register.
type Register = hvcore.Register

const (
	RAX    = hvcore.RAX
	RBX    = hvcore.RBX
	RCX    = hvcore.RCX
	RDX    = hvcore.RDX
	RSI    = hvcore.RSI
	RDI    = hvcore.RDI
	RSP    = hvcore.RSP
	RBP    = hvcore.RBP
	R8     = hvcore.R8
	R9     = hvcore.R9
	R10    = hvcore.R10
	R11    = hvcore.R11
	R12    = hvcore.R12
	R13    = hvcore.R13
	R14    = hvcore.R14
	R15    = hvcore.R15
	RIP    = hvcore.RIP
	RFLAGS = hvcore.RFLAGS
)

// ControlRegister identifies CR0..CR4 and CR8.
type ControlRegister = hvcore.ControlRegister

const (
	CR0 = hvcore.CR0
	CR1 = hvcore.CR1
	CR2 = hvcore.CR2
	CR3 = hvcore.CR3
	CR4 = hvcore.CR4
	CR8 = hvcore.CR8
)

// SegmentRegister identifies a segment register.
type SegmentRegister = hvcore.SegmentRegister

const (
	SegCS  = hvcore.SegCS
	SegDS  = hvcore.SegDS
	SegES  = hvcore.SegES
	SegFS  = hvcore.SegFS
	SegGS  = hvcore.SegGS
	SegSS  = hvcore.SegSS
	SegTR  = hvcore.SegTR
	SegLDT = hvcore.SegLDT
)

// DescriptorTableRegister identifies GDTR/IDTR.
type DescriptorTableRegister = hvcore.DescriptorTableRegister

const (
	DescGDT = hvcore.DescGDT
	DescIDT = hvcore.DescIDT
)

// Segment is the canonical cross-backend x86 segment-register shape.
type Segment = hvcore.Segment

// DescriptorTable is the GDTR/IDTR shape: base and a 16-bit limit.
type DescriptorTable = hvcore.DescriptorTable

// Protection is a READ|WRITE|EXECUTE bitfield.
type Protection = hvcore.Protection

const (
	ProtRead    = hvcore.ProtRead
	ProtWrite   = hvcore.ProtWrite
	ProtExecute = hvcore.ProtExecute
)

// ExitKind tags the variant carried by an ExitReason.
type ExitKind = hvcore.ExitKind

const (
	ExitHalted              = hvcore.ExitHalted
	ExitIoOut               = hvcore.ExitIoOut
	ExitIoIn                = hvcore.ExitIoIn
	ExitMmioRead            = hvcore.ExitMmioRead
	ExitMmioWrite           = hvcore.ExitMmioWrite
	ExitInvalidMemoryAccess = hvcore.ExitInvalidMemoryAccess
	ExitUnhandledException  = hvcore.ExitUnhandledException
	ExitUnknown             = hvcore.ExitUnknown
)

// ExitReason is the normalized, backend-independent reason a vCPU's Run
// call returned.
type ExitReason = hvcore.ExitReason

// VmxReason is the VMX exit-reason code, numeric identity preserved for
// interop with raw VMCS dumps.
type VmxReason = hvcore.VmxReason
