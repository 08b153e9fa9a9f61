//go:build linux && amd64

package kvm

import "unsafe"

func unsafePointerOf(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// unsafeBytesAt returns an n-byte slice starting offset bytes into the
// kvm_run page that data was decoded from, used to reach the IO/MMIO data
// payload attached past the fixed kvm_run header.
func unsafeBytesAt(data *kvmRunData, offset uintptr, n int) []byte {
	base := unsafe.Pointer(data)
	ptr := unsafe.Add(base, offset)
	return unsafe.Slice((*byte)(ptr), n)
}
