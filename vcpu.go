package hv

import (
	"context"
	"runtime"

	"github.com/tinyrange/hv/internal/hvcore"
)

// Vcpu is one virtual CPU bound to a Vm. Register access and Run are not
// safe to call concurrently from multiple goroutines on the same Vcpu —
// per spec §5 the caller must either confine a Vcpu to one goroutine
// locked to its OS thread, or otherwise serialize access itself.
type Vcpu struct {
	impl   hvcore.VcpuImpl
	closed bool
}

func (v *Vcpu) finalize() {
	_ = v.Close()
}

// Reset restores architectural power-on state: CS=F000:FFFF_0000 limit
// FFFFF, RIP=0xFFF0, RFLAGS=0x0002, flat data segments, CR0=0, EFER=0.
// A vCPU that has surfaced ExitUnhandledException must not be re-run
// without calling Reset first.
func (v *Vcpu) Reset() error {
	return v.impl.Reset()
}

// Run runs the vCPU on the caller's goroutine until the next exit.
// Benign IRQ exits are absorbed by the backend and never surface here.
// ctx is checked once, before the backend run starts; runs resumed after an
// absorbed exit do not consult it, and a single in-progress host run is never
// interrupted from Go, per spec §5's cancellation note — there is no way to forcibly
// unblock a call that has already entered the host API.
func (v *Vcpu) Run(ctx context.Context) (ExitReason, error) {
	if err := ctx.Err(); err != nil {
		return ExitReason{}, err
	}
	return v.impl.Run()
}

// GetRegisters reads the listed general registers.
func (v *Vcpu) GetRegisters(regs []Register) ([]uint64, error) {
	return v.impl.GetRegisters(regs)
}

// SetRegisters writes the listed general registers. len(regs) must equal
// len(values).
func (v *Vcpu) SetRegisters(regs []Register, values []uint64) error {
	return v.impl.SetRegisters(regs, values)
}

// GetControlRegisters reads the listed control registers. Identifiers not
// representable on the backend read as 0 (e.g. CR1 everywhere, CR8 on HVF
// and bhyve).
func (v *Vcpu) GetControlRegisters(regs []ControlRegister) ([]uint64, error) {
	return v.impl.GetControlRegisters(regs)
}

// SetControlRegisters writes the listed control registers. Writes to
// identifiers the backend does not store are silently ignored.
func (v *Vcpu) SetControlRegisters(regs []ControlRegister, values []uint64) error {
	return v.impl.SetControlRegisters(regs, values)
}

// GetMsrs reads the listed model-specific registers by 32-bit MSR number.
func (v *Vcpu) GetMsrs(msrs []uint32) ([]uint64, error) {
	return v.impl.GetMsrs(msrs)
}

// SetMsrs writes the listed model-specific registers.
func (v *Vcpu) SetMsrs(msrs []uint32, values []uint64) error {
	return v.impl.SetMsrs(msrs, values)
}

// GetSegmentRegisters reads the listed segment registers.
func (v *Vcpu) GetSegmentRegisters(regs []SegmentRegister) ([]Segment, error) {
	return v.impl.GetSegmentRegisters(regs)
}

// SetSegmentRegisters writes the listed segment registers.
func (v *Vcpu) SetSegmentRegisters(regs []SegmentRegister, values []Segment) error {
	return v.impl.SetSegmentRegisters(regs, values)
}

// GetDescriptorTables reads the listed descriptor-table registers (GDT/IDT).
func (v *Vcpu) GetDescriptorTables(regs []DescriptorTableRegister) ([]DescriptorTable, error) {
	return v.impl.GetDescriptorTables(regs)
}

// SetDescriptorTables writes the listed descriptor-table registers.
func (v *Vcpu) SetDescriptorTables(regs []DescriptorTableRegister, values []DescriptorTable) error {
	return v.impl.SetDescriptorTables(regs, values)
}

// Close destroys the vCPU. Safe to call more than once.
func (v *Vcpu) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true
	runtime.SetFinalizer(v, nil)
	return v.impl.Close()
}
