//go:build freebsd

package bhyve

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func ioctl(fd uintptr, request uint64, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(request), arg)
	if errno != 0 {
		return errno
	}
	return nil
}

func vmRunCall(fd int, run *vmRun) error {
	return ioctl(uintptr(fd), vmRunIoctl, uintptr(unsafe.Pointer(run)))
}

func vmSetRegister(fd int, reg *vmRegister) error {
	return ioctl(uintptr(fd), vmSetRegisterIoctl, uintptr(unsafe.Pointer(reg)))
}

func vmGetRegister(fd int, reg *vmRegister) error {
	return ioctl(uintptr(fd), vmGetRegisterIoctl, uintptr(unsafe.Pointer(reg)))
}

func vmSetSegmentDescriptor(fd int, desc *vmSegDesc) error {
	return ioctl(uintptr(fd), vmSetSegDescIoctl, uintptr(unsafe.Pointer(desc)))
}

func vmGetSegmentDescriptor(fd int, desc *vmSegDesc) error {
	return ioctl(uintptr(fd), vmGetSegDescIoctl, uintptr(unsafe.Pointer(desc)))
}

func vmAllocMemseg(fd int, seg *vmMemseg) error {
	return ioctl(uintptr(fd), vmAllocMemsegIoctl, uintptr(unsafe.Pointer(seg)))
}

func vmMmapMemseg(fd int, mm *vmMemmap) error {
	return ioctl(uintptr(fd), vmMmapMemsegIoctl, uintptr(unsafe.Pointer(mm)))
}

// sysctl(3) CTL_SYSCTL namespace, used to resolve a dotted sysctl name to
// its MIB before reading or writing it. x/sys/unix's generated Sysctl
// helpers only cover reads; hw.vmm.create/destroy need a write, so this
// talks to __sysctl directly the way the source's sysctl crate does.
const (
	ctlSysctl       int32 = 0
	ctlSysctlName2Mib int32 = 3
)

func sysctlNameToMib(name string) ([]int32, error) {
	oid := [2]int32{ctlSysctl, ctlSysctlName2Mib}
	nameBytes := append([]byte(name), 0)
	mib := make([]int32, 32)
	miblen := uintptr(len(mib)) * 4
	_, _, errno := unix.Syscall6(unix.SYS___SYSCTL,
		uintptr(unsafe.Pointer(&oid[0])), 2,
		uintptr(unsafe.Pointer(&mib[0])), uintptr(unsafe.Pointer(&miblen)),
		uintptr(unsafe.Pointer(&nameBytes[0])), uintptr(len(nameBytes)))
	if errno != 0 {
		return nil, errno
	}
	return mib[:miblen/4], nil
}

// sysctlSetString writes value as a NUL-terminated string sysctl, the
// write-path equivalent of hw.vmm.create/hw.vmm.destroy in the source's
// Ctl::new(name).set_value_string(value) calls.
func sysctlSetString(name string, value string) error {
	mib, err := sysctlNameToMib(name)
	if err != nil {
		return err
	}
	valueBytes := append([]byte(value), 0)
	_, _, errno := unix.Syscall6(unix.SYS___SYSCTL,
		uintptr(unsafe.Pointer(&mib[0])), uintptr(len(mib)),
		0, 0,
		uintptr(unsafe.Pointer(&valueBytes[0])), uintptr(len(valueBytes)))
	if errno != 0 {
		return errno
	}
	return nil
}
