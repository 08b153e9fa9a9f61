// Package hv is a portable, thin abstraction over four host hypervisor
// interfaces — Linux KVM, Apple's Hypervisor Framework, the Windows
// Hypervisor Platform, and FreeBSD bhyve — behind one Go API for creating
// virtual machines, mapping guest physical memory, creating virtual CPUs,
// controlling x86-64 architectural state, and running a vCPU to its next
// exit.
//
// A minimal session looks like:
//
//	hv_, err := hv.New()
//	vm, err := hv_.BuildVm()
//	vm, err = vm.WithVcpuCount(1)
//	machine, err := vm.Build("example")
//	mapping, err := machine.AllocatePhysicalMemory(0xffff_f000, 4096, hv.ProtRead|hv.ProtWrite|hv.ProtExecute)
//	machine.WritePhysicalMemory(0xffff_fff0, []byte{0xf4}) // HLT
//	cpu, err := machine.CreateVcpu(0)
//	cpu.Reset()
//	reason, err := cpu.Run(context.Background())
//	// reason.Kind == hv.ExitHalted
//
// The backend is chosen at build time by GOOS/GOARCH: linux/amd64 selects
// KVM, darwin/amd64 selects the Hypervisor Framework, windows/amd64
// selects WHP, freebsd/amd64 selects bhyve. Every other platform gets a
// stub that returns ErrHostUnavailable from New, darwin/arm64 included.
//
// This package does not emulate device I/O or MMIO: Run only reports
// IoOut/IoIn/MmioRead/MmioWrite exits, it never services them. Scheduling
// multiple vCPUs onto OS threads is the caller's responsibility — Run
// blocks the calling goroutine, which must be pinned to its OS thread with
// runtime.LockOSThread before the first Run call on a multi-vCPU VM.
package hv
