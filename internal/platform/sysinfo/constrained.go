// Package sysinfo decides whether the process runs in a resource-constrained
// context, where audio is never decoded in full.
package sysinfo

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
)

const (
	ModeAuto = "auto"
	ModeOn   = "on"
	ModeOff  = "off"

	DefaultMinMemoryMB = 2048
)

// MemoryProbe reports total physical memory in bytes.
type MemoryProbe func(ctx context.Context) (uint64, error)

// HostMemory reads total memory through gopsutil.
func HostMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// Constrained resolves mode. In auto mode a host with less than minMemoryMB
// of memory is constrained; a failing probe counts as unconstrained.
func Constrained(ctx context.Context, mode string, minMemoryMB int, probe MemoryProbe) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeOn:
		return true
	case ModeOff:
		return false
	}

	if probe == nil {
		probe = HostMemory
	}
	if minMemoryMB <= 0 {
		minMemoryMB = DefaultMinMemoryMB
	}
	total, err := probe(ctx)
	if err != nil || total == 0 {
		return false
	}
	return total < uint64(minMemoryMB)*1024*1024
}
