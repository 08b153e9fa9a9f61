//go:build linux && amd64

package kvm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func getRegisters(vcpuFd int) (kvmRegs, error) {
	var regs kvmRegs
	if _, err := ioctlWithRetry(uintptr(vcpuFd), uint64(kvmGetRegs), uintptr(unsafe.Pointer(&regs))); err != nil {
		return kvmRegs{}, err
	}
	return regs, nil
}

func setRegisters(vcpuFd int, regs *kvmRegs) error {
	_, err := ioctlWithRetry(uintptr(vcpuFd), uint64(kvmSetRegs), uintptr(unsafe.Pointer(regs)))
	return err
}

func getSRegs(vcpuFd int) (kvmSRegs, error) {
	var sregs kvmSRegs
	if _, err := ioctlWithRetry(uintptr(vcpuFd), uint64(kvmGetSregs), uintptr(unsafe.Pointer(&sregs))); err != nil {
		return kvmSRegs{}, err
	}
	return sregs, nil
}

func setSRegs(vcpuFd int, sregs *kvmSRegs) error {
	_, err := ioctlWithRetry(uintptr(vcpuFd), uint64(kvmSetSregs), uintptr(unsafe.Pointer(sregs)))
	return err
}

func setTSSAddr(vmFd int, addr uint64) error {
	_, err := ioctlWithRetry(uintptr(vmFd), uint64(kvmSetTssAddr), uintptr(addr))
	return err
}

func getMsrIndexList(fd int) ([]uint32, error) {
	baseSize := unsafe.Sizeof(kvmMsrList{})
	buf := make([]byte, baseSize)
	list := (*kvmMsrList)(unsafe.Pointer(&buf[0]))

	if _, err := ioctlWithRetry(uintptr(fd), uint64(kvmGetMsrIndexList), uintptr(unsafe.Pointer(list))); err == nil {
		return nil, fmt.Errorf("KVM_GET_MSR_INDEX_LIST: unexpected success without space for indices")
	} else if !errors.Is(err, unix.E2BIG) {
		return nil, fmt.Errorf("KVM_GET_MSR_INDEX_LIST: %w", err)
	}

	count := list.Nmsrs
	if count == 0 {
		return nil, fmt.Errorf("KVM_GET_MSR_INDEX_LIST: kernel reported zero MSRs")
	}

	size := baseSize + uintptr(count)*unsafe.Sizeof(uint32(0))
	buf = make([]byte, size)
	list = (*kvmMsrList)(unsafe.Pointer(&buf[0]))
	list.Nmsrs = count

	if _, err := ioctlWithRetry(uintptr(fd), uint64(kvmGetMsrIndexList), uintptr(unsafe.Pointer(list))); err != nil {
		return nil, fmt.Errorf("KVM_GET_MSR_INDEX_LIST: %w", err)
	}

	firstIndex := (*uint32)(unsafe.Pointer(uintptr(unsafe.Pointer(list)) + unsafe.Sizeof(kvmMsrList{})))
	rawIndices := unsafe.Slice(firstIndex, count)

	indices := make([]uint32, count)
	copy(indices, rawIndices)

	return indices, nil
}

func makeMsrsBuffer(count int) ([]byte, *kvmMsrs, []kvmMsrEntry) {
	size := unsafe.Sizeof(kvmMsrs{}) + uintptr(count)*unsafe.Sizeof(kvmMsrEntry{})
	buf := make([]byte, size)
	msrsHdr := (*kvmMsrs)(unsafe.Pointer(&buf[0]))
	msrsHdr.Nmsrs = uint32(count)

	if count == 0 {
		return buf, msrsHdr, nil
	}

	first := (*kvmMsrEntry)(unsafe.Pointer(uintptr(unsafe.Pointer(msrsHdr)) + unsafe.Sizeof(kvmMsrs{})))
	entries := unsafe.Slice(first, count)

	return buf, msrsHdr, entries
}

func getMsrs(vcpuFd int, indices []uint32) ([]kvmMsrEntry, error) {
	if len(indices) == 0 {
		return nil, nil
	}

	buf, msrsHdr, entries := makeMsrsBuffer(len(indices))
	for i, idx := range indices {
		entries[i].Index = idx
	}

	n, err := ioctlWithRetry(uintptr(vcpuFd), uint64(kvmGetMsrs), uintptr(unsafe.Pointer(msrsHdr)))
	if err != nil {
		return nil, fmt.Errorf("KVM_GET_MSRS: %w", err)
	}
	if int(n) != len(indices) {
		return nil, fmt.Errorf("KVM_GET_MSRS: read %d entries, expected %d", n, len(indices))
	}

	result := make([]kvmMsrEntry, len(indices))
	copy(result, entries)
	_ = buf
	return result, nil
}

func setMsrs(vcpuFd int, entriesToSet []kvmMsrEntry) error {
	if len(entriesToSet) == 0 {
		return nil
	}

	buf, msrsHdr, entries := makeMsrsBuffer(len(entriesToSet))
	copy(entries, entriesToSet)

	n, err := ioctlWithRetry(uintptr(vcpuFd), uint64(kvmSetMsrs), uintptr(unsafe.Pointer(msrsHdr)))
	if err != nil {
		return fmt.Errorf("KVM_SET_MSRS: %w", err)
	}
	if int(n) != len(entriesToSet) {
		return fmt.Errorf("KVM_SET_MSRS: wrote %d entries, expected %d", n, len(entriesToSet))
	}
	_ = buf
	return nil
}
