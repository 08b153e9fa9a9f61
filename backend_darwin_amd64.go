package hv

import (
	"github.com/tinyrange/hv/internal/hv/hvf"
	"github.com/tinyrange/hv/internal/hvcore"
)

func newBackendHypervisor() (hvcore.HypervisorImpl, error) {
	return hvf.Open()
}
