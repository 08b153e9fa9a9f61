//go:build darwin && amd64

// Package bindings loads Hypervisor.framework's x86_64 VMX API with purego,
// avoiding cgo. The loading idiom (Dlopen under sync.Once, RegisterLibFunc
// per symbol) is grounded on the ARM64 Hypervisor.framework bindings in the
// teacher project's internal/hv/hvf/bindings package; the symbol set itself
// is the x86_64 half of the framework (hv_vcpu_read/write_register, VMCS,
// MSR, native-MSR enable) rather than the Apple-Silicon VMM API.
package bindings

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	loadOnce sync.Once
	loadErr  error

	hypervisorLib uintptr
)

// Load loads Hypervisor.framework and binds the x86_64 VMX entry points.
func Load() error {
	loadOnce.Do(func() {
		var err error
		hypervisorLib, err = purego.Dlopen(
			"/System/Library/Frameworks/Hypervisor.framework/Hypervisor",
			purego.RTLD_GLOBAL|purego.RTLD_LAZY,
		)
		if err != nil {
			loadErr = fmt.Errorf("purego dlopen Hypervisor.framework: %w", err)
			return
		}

		purego.RegisterLibFunc(&hv_vm_create, hypervisorLib, "hv_vm_create")
		purego.RegisterLibFunc(&hv_vm_destroy, hypervisorLib, "hv_vm_destroy")
		purego.RegisterLibFunc(&hv_vm_map, hypervisorLib, "hv_vm_map")
		purego.RegisterLibFunc(&hv_vm_unmap, hypervisorLib, "hv_vm_unmap")
		purego.RegisterLibFunc(&hv_vm_protect, hypervisorLib, "hv_vm_protect")
		purego.RegisterLibFunc(&hv_vm_get_max_vcpu_count, hypervisorLib, "hv_vm_get_max_vcpu_count")

		purego.RegisterLibFunc(&hv_vcpu_create, hypervisorLib, "hv_vcpu_create")
		purego.RegisterLibFunc(&hv_vcpu_destroy, hypervisorLib, "hv_vcpu_destroy")
		purego.RegisterLibFunc(&hv_vcpu_run, hypervisorLib, "hv_vcpu_run")
		purego.RegisterLibFunc(&hv_vcpu_interrupt, hypervisorLib, "hv_vcpu_interrupt")
		purego.RegisterLibFunc(&hv_vcpu_read_register, hypervisorLib, "hv_vcpu_read_register")
		purego.RegisterLibFunc(&hv_vcpu_write_register, hypervisorLib, "hv_vcpu_write_register")
		purego.RegisterLibFunc(&hv_vcpu_read_vmcs, hypervisorLib, "hv_vmx_vcpu_read_vmcs")
		purego.RegisterLibFunc(&hv_vcpu_write_vmcs, hypervisorLib, "hv_vmx_vcpu_write_vmcs")
		purego.RegisterLibFunc(&hv_vcpu_read_msr, hypervisorLib, "hv_vcpu_read_msr")
		purego.RegisterLibFunc(&hv_vcpu_write_msr, hypervisorLib, "hv_vcpu_write_msr")
		purego.RegisterLibFunc(&hv_vcpu_enable_native_msr, hypervisorLib, "hv_vcpu_enable_native_msr")
	})
	return loadErr
}

func MustLoad() {
	if err := Load(); err != nil {
		panic(err)
	}
}

// Return is the hv_return_t result code; zero is HV_SUCCESS.
type Return int32

func (r Return) Error() string {
	switch r {
	case 0:
		return "HV_SUCCESS"
	case 0xfae94001:
		return "HV_ERROR"
	case 0xfae94002:
		return "HV_BUSY"
	case 0xfae94003:
		return "HV_BAD_ARGUMENT"
	case 0xfae94005:
		return "HV_NO_RESOURCES"
	case 0xfae94006:
		return "HV_NO_DEVICE"
	case 0xfae94008:
		return "HV_UNSUPPORTED"
	default:
		return fmt.Sprintf("hv_return_t(%#x)", uint32(r))
	}
}

// Ok reports whether the code is HV_SUCCESS.
func (r Return) Ok() bool { return r == 0 }

// VCPU is an hv_vcpuid_t.
type VCPU uint32

// Register identifies an hv_x86_reg_t general register.
type Register uint32

const (
	RegRIP Register = iota
	RegRFLAGS
	RegRAX
	RegRCX
	RegRDX
	RegRBX
	RegRSI
	RegRDI
	RegRSP
	RegRBP
	RegR8
	RegR9
	RegR10
	RegR11
	RegR12
	RegR13
	RegR14
	RegR15
)

// MemoryFlags mirrors hv_memory_flags_t.
type MemoryFlags uint64

const (
	MemoryRead MemoryFlags = 1 << iota
	MemoryWrite
	MemoryExecute
)

var (
	hv_vm_create  func(flags uint64) Return
	hv_vm_destroy func() Return
	hv_vm_map     func(addr unsafe.Pointer, gpa uint64, size uintptr, flags MemoryFlags) Return
	hv_vm_unmap   func(gpa uint64, size uintptr) Return
	hv_vm_protect func(gpa uint64, size uintptr, flags MemoryFlags) Return

	hv_vm_get_max_vcpu_count func(max *uint32) Return

	hv_vcpu_create            func(vcpu *VCPU, flags uint64) Return
	hv_vcpu_destroy           func(vcpu VCPU) Return
	hv_vcpu_run               func(vcpu VCPU) Return
	hv_vcpu_interrupt         func(vcpus *VCPU, count uint32) Return
	hv_vcpu_read_register     func(vcpu VCPU, reg Register, value *uint64) Return
	hv_vcpu_write_register    func(vcpu VCPU, reg Register, value uint64) Return
	hv_vcpu_read_vmcs         func(vcpu VCPU, field uint32, value *uint64) Return
	hv_vcpu_write_vmcs        func(vcpu VCPU, field uint32, value uint64) Return
	hv_vcpu_read_msr          func(vcpu VCPU, msr uint32, value *uint64) Return
	hv_vcpu_write_msr         func(vcpu VCPU, msr uint32, value uint64) Return
	hv_vcpu_enable_native_msr func(vcpu VCPU, msr uint32, enable bool) Return
)

func VMCreate() error {
	if r := hv_vm_create(0); !r.Ok() {
		return r
	}
	return nil
}

func VMDestroy() error {
	if r := hv_vm_destroy(); !r.Ok() {
		return r
	}
	return nil
}

func VMMap(addr unsafe.Pointer, gpa uint64, size uintptr, flags MemoryFlags) error {
	if r := hv_vm_map(addr, gpa, size, flags); !r.Ok() {
		return r
	}
	return nil
}

func VMUnmap(gpa uint64, size uintptr) error {
	if r := hv_vm_unmap(gpa, size); !r.Ok() {
		return r
	}
	return nil
}

func VMProtect(gpa uint64, size uintptr, flags MemoryFlags) error {
	if r := hv_vm_protect(gpa, size, flags); !r.Ok() {
		return r
	}
	return nil
}

// VMGetMaxVcpuCount returns the maximum number of vCPUs the host will allow
// in a single VM (hv_vm_get_max_vcpu_count).
func VMGetMaxVcpuCount() (uint32, error) {
	var max uint32
	if r := hv_vm_get_max_vcpu_count(&max); !r.Ok() {
		return 0, r
	}
	return max, nil
}

func VCPUCreate() (VCPU, error) {
	var vcpu VCPU
	if r := hv_vcpu_create(&vcpu, 0); !r.Ok() {
		return 0, r
	}
	return vcpu, nil
}

func VCPUDestroy(vcpu VCPU) error {
	if r := hv_vcpu_destroy(vcpu); !r.Ok() {
		return r
	}
	return nil
}

func VCPURun(vcpu VCPU) error {
	if r := hv_vcpu_run(vcpu); !r.Ok() {
		return r
	}
	return nil
}

func VCPUReadRegister(vcpu VCPU, reg Register) (uint64, error) {
	var v uint64
	if r := hv_vcpu_read_register(vcpu, reg, &v); !r.Ok() {
		return 0, r
	}
	return v, nil
}

func VCPUWriteRegister(vcpu VCPU, reg Register, value uint64) error {
	if r := hv_vcpu_write_register(vcpu, reg, value); !r.Ok() {
		return r
	}
	return nil
}

func VCPUReadVMCS(vcpu VCPU, field uint32) (uint64, error) {
	var v uint64
	if r := hv_vcpu_read_vmcs(vcpu, field, &v); !r.Ok() {
		return 0, r
	}
	return v, nil
}

func VCPUWriteVMCS(vcpu VCPU, field uint32, value uint64) error {
	if r := hv_vcpu_write_vmcs(vcpu, field, value); !r.Ok() {
		return r
	}
	return nil
}

func VCPUReadMSR(vcpu VCPU, msr uint32) (uint64, error) {
	var v uint64
	if r := hv_vcpu_read_msr(vcpu, msr, &v); !r.Ok() {
		return 0, r
	}
	return v, nil
}

func VCPUWriteMSR(vcpu VCPU, msr uint32, value uint64) error {
	if r := hv_vcpu_write_msr(vcpu, msr, value); !r.Ok() {
		return r
	}
	return nil
}

func VCPUEnableNativeMSR(vcpu VCPU, msr uint32, enable bool) error {
	if r := hv_vcpu_enable_native_msr(vcpu, msr, enable); !r.Ok() {
		return r
	}
	return nil
}
