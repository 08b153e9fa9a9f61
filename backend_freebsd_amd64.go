package hv

import (
	"github.com/tinyrange/hv/internal/hv/bhyve"
	"github.com/tinyrange/hv/internal/hvcore"
)

func newBackendHypervisor() (hvcore.HypervisorImpl, error) {
	return bhyve.Open()
}
