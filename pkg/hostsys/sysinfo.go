package hostsys

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// PhysicalMemory returns the installed physical memory in bytes, or 0 if unknown.
func PhysicalMemory() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debugf("physical memory query failed: %v", err)
		return 0
	}
	return vm.Total
}

// AvailablePhysicalMemory returns the memory available to new allocations
// without swapping, or 0 if unknown.
func AvailablePhysicalMemory() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Debugf("available memory query failed: %v", err)
		return 0
	}
	return vm.Available
}

var osVersion = sync.OnceValue(func() string {
	platform, _, version, err := host.PlatformInformation()
	if err != nil || platform == "" {
		platform = runtime.GOOS
	}
	parts := []string{platform}
	if version != "" {
		parts = append(parts, version)
	}
	if kernel, err := host.KernelVersion(); err == nil && kernel != "" {
		parts = append(parts, fmt.Sprintf("(kernel %s)", kernel))
	}
	parts = append(parts, runtime.GOARCH)
	return strings.Join(parts, " ")
})

// OSVersionString describes the host operating system, e.g. "ubuntu 22.04 (kernel 6.5.0) amd64".
func OSVersionString() string {
	return osVersion()
}
