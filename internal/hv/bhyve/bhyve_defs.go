//go:build freebsd

package bhyve

// vm_reg_name values, preserved bit-for-bit from sys/amd64/include/vmm.h.
const (
	vmRegGuestRax int32 = iota
	vmRegGuestRbx
	vmRegGuestRcx
	vmRegGuestRdx
	vmRegGuestRsi
	vmRegGuestRdi
	vmRegGuestRbp
	vmRegGuestR8
	vmRegGuestR9
	vmRegGuestR10
	vmRegGuestR11
	vmRegGuestR12
	vmRegGuestR13
	vmRegGuestR14
	vmRegGuestR15
	vmRegGuestCr0
	vmRegGuestCr3
	vmRegGuestCr4
	vmRegGuestDr7
	vmRegGuestRsp
	vmRegGuestRip
	vmRegGuestRflags
	vmRegGuestEs
	vmRegGuestCs
	vmRegGuestSs
	vmRegGuestDs
	vmRegGuestFs
	vmRegGuestGs
	vmRegGuestLdtr
	vmRegGuestTr
	vmRegGuestIdtr
	vmRegGuestGdtr
	vmRegGuestEfer
)

// vm_exitcode values.
const (
	vmExitcodeInout int32 = iota
	vmExitcodeVmx
	vmExitcodeBogus
	vmExitcodeRdmsr
	vmExitcodeWrmsr
	vmExitcodeHlt
	vmExitcodeMtrap
	vmExitcodePause
	vmExitcodePaging
	vmExitcodeInstEmul
	vmExitcodeSpinupAp
)

// vmExit mirrors struct vm_exit (vmm_dev.h): the fixed header vm_run
// reports on every ioctl, regardless of exitcode.
type vmExit struct {
	ExitCode   int32
	InstLength int32
	Rip        uint64
}

// vmRun mirrors struct vm_run, the VM_RUN ioctl argument.
type vmRun struct {
	Cpuid int32
	_     [4]byte
	Rip   uint64
	Exit  vmExit
}

// vmRegister mirrors struct vm_register, the VM_{GET,SET}_REGISTER argument.
type vmRegister struct {
	Cpuid  int32
	Regnum int32
	Value  uint64
}

// segDesc mirrors struct seg_desc: a raw base/limit/access-rights triple,
// access encoded in the same type[3:0]|S<<4|DPL<<5|P<<7|AVL<<12|L<<13|DB<<14|G<<15
// layout as hvcore.Segment.AccessRights.
type segDesc struct {
	Base   uint64
	Limit  uint32
	Access uint32
}

// vmSegDesc mirrors struct vm_seg_desc, the
// VM_{GET,SET}_SEGMENT_DESCRIPTOR argument.
type vmSegDesc struct {
	Cpuid  int32
	Regnum int32
	Desc   segDesc
}

// specNameLen mirrors SPECNAMELEN (sys/sys/param.h), the fixed device-name
// buffer size vm_memseg embeds.
const specNameLen = 63

// vmMemseg mirrors struct vm_memseg, the VM_ALLOC_MEMSEG argument: it
// registers a guest-memory segment of Len bytes under Segid without yet
// placing it at a guest-physical address.
type vmMemseg struct {
	Segid int32
	_     [4]byte
	Len   uint64
	Name  [specNameLen + 1]byte
}

// vmMemmap mirrors struct vm_memmap, the VM_MMAP_MEMSEG argument: it binds
// [Segoff, Segoff+Len) of segment Segid at guest-physical address Gpa with
// the given VM_PROT_* bits.
type vmMemmap struct {
	Gpa    uint64
	Segid  int32
	_      [4]byte
	Segoff uint64
	Len    uint64
	Prot   int32
	Flags  int32
}

// VM_PROT_* bits for vm_memmap.Prot, the same encoding as mmap(2)'s PROT_*.
const (
	vmProtRead  int32 = 0x01
	vmProtWrite int32 = 0x02
	vmProtExec  int32 = 0x04
)

// vmMemmapFWired marks the mapping as wired (vmm_dev.h VM_MEMMAP_F_WIRED),
// matching how bhyve's own userland maps guest RAM.
const vmMemmapFWired int32 = 0x01

// Ioctl request numbers, computed from FreeBSD's _IOWR/_IOW encoding
// (dir<<30 | len<<16 | 'v'<<8 | num) against the struct sizes above:
// vm_run=32B, vm_register=16B, vm_seg_desc=24B, vm_memseg=80B, vm_memmap=40B.
// ALLOC_MEMSEG/MMAP_MEMSEG carry the vmm_dev.h IOCNUM values (12, 14); the
// register/segment-descriptor ioctls (20-23) are shared with the distilled
// source's own bindings.rs, which never bound the memory ioctls at all.
const (
	vmRunIoctl         = 0xC0207601 // _IOWR('v', 1,  struct vm_run)
	vmSetRegisterIoctl = 0x80107714 // _IOW ('v', 20, struct vm_register)
	vmGetRegisterIoctl = 0xC0107715 // _IOWR('v', 21, struct vm_register)
	vmSetSegDescIoctl  = 0x80187716 // _IOW ('v', 22, struct vm_seg_desc)
	vmGetSegDescIoctl  = 0xC0187717 // _IOWR('v', 23, struct vm_seg_desc)
	vmAllocMemsegIoctl = 0x8050760C // _IOW ('v', 12, struct vm_memseg)
	vmMmapMemsegIoctl  = 0x8028760E // _IOW ('v', 14, struct vm_memmap)
)
