package hv

import (
	"runtime"

	"github.com/tinyrange/hv/internal/hvcore"
)

// Mapping is an owning handle to a guest-physical memory region: a host
// memory region plus the guest-physical base address it was mapped at. It
// holds a non-owning back-reference to its Vm (used only to perform the
// unmap on Close) so that a live Mapping never keeps its Vm alive — the
// inverse would create a reference cycle, since the Vm's own bookkeeping
// already tracks the segment.
type Mapping struct {
	vm     *Vm
	impl   hvcore.MappingImpl
	gpa    uint64
	prot   Protection
	closed bool
}

func (m *Mapping) finalize() {
	_ = m.Close()
}

// GuestAddress returns the guest-physical base address this mapping was
// installed at.
func (m *Mapping) GuestAddress() uint64 { return m.gpa }

// Protection returns the mapping's current protection state.
func (m *Mapping) Protection() Protection { return m.prot }

// Close unmaps the region from its Vm, then releases the host memory
// region. Safe to call more than once.
func (m *Mapping) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	runtime.SetFinalizer(m, nil)
	if err := m.vm.UnmapPhysicalMemory(m.gpa); err != nil {
		return err
	}
	return m.impl.Close()
}
