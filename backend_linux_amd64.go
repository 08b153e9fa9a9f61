package hv

import (
	"github.com/tinyrange/hv/internal/hv/kvm"
	"github.com/tinyrange/hv/internal/hvcore"
)

func newBackendHypervisor() (hvcore.HypervisorImpl, error) {
	return kvm.Open()
}
