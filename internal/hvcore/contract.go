package hvcore

import "unsafe"

// HypervisorImpl is the narrow capability a backend exposes at the
// process-handle level. One concrete type per host (kvm.Hypervisor,
// hvf.Hypervisor, whp.Hypervisor, bhyve.Hypervisor) satisfies this,
// selected at build time by GOOS/GOARCH (see the root package's
// backend_*.go files).
type HypervisorImpl interface {
	BuildVm() (VmImpl, error)
	Close() error
}

// VmImpl is the narrow capability a backend VM handle exposes. The facade
// Vm type forwards to one of these under its own exclusive lock.
type VmImpl interface {
	WithVcpuCount(n uint32) error
	Build(name string) error

	CreateVcpu(id uint32) (VcpuImpl, error)

	AllocatePhysicalMemory(gpa uint64, size uintptr, prot Protection) (MappingImpl, error)
	MapPhysicalMemory(gpa uint64, hostPtr unsafe.Pointer, size uintptr, prot Protection) error
	UnmapPhysicalMemory(gpa uint64) error
	ProtectPhysicalMemory(gpa uint64, prot Protection) error

	ReadPhysicalMemory(out []byte, gpa uint64) (int, error)
	WritePhysicalMemory(gpa uint64, in []byte) (int, error)

	Close() error
}

// MappingImpl is the host-memory-region handle a VmImpl.AllocatePhysicalMemory
// returns; Close releases the host region (the facade Mapping has already
// unmapped it from the VM by the time it calls this).
type MappingImpl interface {
	Close() error
}

// VcpuImpl is the narrow capability a backend vCPU handle exposes.
type VcpuImpl interface {
	Reset() error
	Run() (ExitReason, error)
	Close() error

	GetRegisters(regs []Register) ([]uint64, error)
	SetRegisters(regs []Register, values []uint64) error

	GetControlRegisters(regs []ControlRegister) ([]uint64, error)
	SetControlRegisters(regs []ControlRegister, values []uint64) error

	GetMsrs(msrs []uint32) ([]uint64, error)
	SetMsrs(msrs []uint32, values []uint64) error

	GetSegmentRegisters(regs []SegmentRegister) ([]Segment, error)
	SetSegmentRegisters(regs []SegmentRegister, values []Segment) error

	GetDescriptorTables(regs []DescriptorTableRegister) ([]DescriptorTable, error)
	SetDescriptorTables(regs []DescriptorTableRegister, values []DescriptorTable) error
}
