package hv

import (
	"github.com/tinyrange/hv/internal/hv/whp"
	"github.com/tinyrange/hv/internal/hvcore"
)

func newBackendHypervisor() (hvcore.HypervisorImpl, error) {
	return whp.Open()
}
