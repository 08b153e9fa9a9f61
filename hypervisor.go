package hv

import "github.com/tinyrange/hv/internal/hvcore"

// Hypervisor is the process-level handle to the host hypervisor API.
// Construct one with New. It is safe for concurrent use: past
// construction it holds no mutable state of its own, only whatever
// backend handle is needed to start a VM build.
type Hypervisor struct {
	impl hvcore.HypervisorImpl
}

// New opens the host hypervisor API for the current platform and returns
// the process-wide handle. It fails with ErrHostUnavailable if the host
// API cannot be opened (missing device, access denied, not supported).
func New() (*Hypervisor, error) {
	impl, err := newBackendHypervisor()
	if err != nil {
		return nil, err
	}
	return &Hypervisor{impl: impl}, nil
}

// BuildVm acquires a fresh VmBuilder. On WHP and KVM this also creates the
// partition or VM file descriptor, and on HVF it calls hv_vm_create; only
// bhyve defers VM creation to VmBuilder.Build.
func (h *Hypervisor) BuildVm() (*VmBuilder, error) {
	impl, err := h.impl.BuildVm()
	if err != nil {
		return nil, err
	}
	return &VmBuilder{impl: impl}, nil
}

// Close releases the process-level handle. Any Vm still open continues to
// own its own backend resources independently.
func (h *Hypervisor) Close() error {
	return h.impl.Close()
}

// maxVcpuCounter is implemented only by backends whose host API exposes a
// vCPU cap (HVF's hv_vm_get_max_vcpu_count); KVM, WHP, and bhyve do not.
type maxVcpuCounter interface {
	MaxVcpuCount() (uint32, error)
}

// MaxVcpuCount reports the maximum number of vCPUs the host allows in a
// single VM, where the backend exposes such a cap. Backends without one
// fail with ErrNotImplemented.
func (h *Hypervisor) MaxVcpuCount() (uint32, error) {
	c, ok := h.impl.(maxVcpuCounter)
	if !ok {
		return 0, hvcore.New(hvcore.KindNotImplemented, "hv: max_vcpu_count", nil)
	}
	return c.MaxVcpuCount()
}
