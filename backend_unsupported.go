//go:build !(linux && amd64) && !(darwin && amd64) && !(windows && amd64) && !(freebsd && amd64)

package hv

import "github.com/tinyrange/hv/internal/hvcore"

func newBackendHypervisor() (hvcore.HypervisorImpl, error) {
	return nil, hvcore.New(hvcore.KindHostUnavailable, "hv: new", errUnsupportedPlatform)
}

var errUnsupportedPlatform = errUnsupported{}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "no hypervisor backend for this platform" }
