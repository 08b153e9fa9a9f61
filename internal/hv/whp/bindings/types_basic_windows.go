//go:build windows

package bindings

import (
	"fmt"
	"syscall"
)

// HRESULT represents a Windows error/success code returned from WinHv APIs.
type HRESULT int32

// Failed reports whether the HRESULT indicates failure.
func (hr HRESULT) Failed() bool { return hr < 0 }

// Succeeded reports whether the HRESULT indicates success.
func (hr HRESULT) Succeeded() bool { return hr >= 0 }

// Err converts the HRESULT into a Go error. It returns nil when the code
// represents success.
func (hr HRESULT) Err() error {
	if hr.Succeeded() {
		return nil
	}
	return HRESULTError(hr)
}

var (
	// HRESULTS
	HRESULTSuccess = HRESULT(0x00000000)
	HRESULTFail    = HRESULT(-0x7FFFBFFB)
)

// HRESULTError wraps a failing HRESULT value and implements the error interface.
type HRESULTError HRESULT

func (e HRESULTError) Error() string {
	return fmt.Sprintf("ERRNO %s", syscall.Errno(e).Error())
}

// CapabilityCode mirrors WHV_CAPABILITY_CODE. This port only ever queries
// hypervisor presence at open time; the platform header defines many more
// capability codes (processor features, VMX reporting, extended exits) that
// nothing here reads.
type CapabilityCode uint32

const (
	CapabilityCodeHypervisorPresent CapabilityCode = 0x00000000
)

// PartitionHandle mirrors WHV_PARTITION_HANDLE.
type PartitionHandle syscall.Handle

// GuestPhysicalAddress mirrors WHV_GUEST_PHYSICAL_ADDRESS.
type GuestPhysicalAddress uint64

// GuestVirtualAddress mirrors WHV_GUEST_VIRTUAL_ADDRESS.
type GuestVirtualAddress uint64

// MapGPARangeFlags mirrors WHV_MAP_GPA_RANGE_FLAGS.
type MapGPARangeFlags uint32

const (
	MapGPARangeFlagRead    MapGPARangeFlags = 0x00000001
	MapGPARangeFlagWrite   MapGPARangeFlags = 0x00000002
	MapGPARangeFlagExecute MapGPARangeFlags = 0x00000004
)

// PartitionPropertyCode mirrors WHV_PARTITION_PROPERTY_CODE. Only the vCPU
// count property is set by this port; the full WHV surface has properties
// for CPUID filtering, NUMA pinning, and APIC emulation mode that this
// no-device-model backend never touches.
type PartitionPropertyCode uint32

const (
	PartitionPropertyCodeProcessorCount PartitionPropertyCode = 0x00001fff
)
