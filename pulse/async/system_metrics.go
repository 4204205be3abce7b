package async

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

const gib = 1024 * 1024 * 1024

// Each trace worker holds an isolated network copy plus a SQLite page cache.
const (
	memoryPerTraceWorkerGB = 0.5
	memoryBufferGB         = 1.0
	minScratchFreeGB       = 1.0
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active" yaml:"workers_active"`   // Number of workers currently executing jobs
	WorkersTotal  int     `json:"workers_total" yaml:"workers_total"`     // Total configured workers
	LogicalCPUs   int     `json:"logical_cpus" yaml:"logical_cpus"`       // CPUs visible to the process
	MemoryUsedGB  float64 `json:"memory_used_gb" yaml:"memory_used_gb"`   // Current memory usage in GB
	MemoryTotalGB float64 `json:"memory_total_gb" yaml:"memory_total_gb"` // Total system memory in GB
	MemoryPercent float64 `json:"memory_percent" yaml:"memory_percent"`   // Memory utilization percentage
}

// calculateSafeWorkerCount recommends a worker count for the available memory
func calculateSafeWorkerCount(availableGB float64) int {
	if availableGB < memoryBufferGB {
		return 1 // Always allow at least 1 worker
	}
	recommended := int((availableGB - memoryBufferGB) / memoryPerTraceWorkerGB)
	if recommended < 1 {
		return 1
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	m := SystemMetrics{
		WorkersActive: wp.ActiveWorkers(),
		WorkersTotal:  wp.cfg.Workers,
	}
	if n, err := cpu.Counts(true); err == nil {
		m.LogicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm.Total > 0 {
		m.MemoryTotalGB = float64(vm.Total) / gib
		m.MemoryUsedGB = float64(vm.Total-vm.Available) / gib
		m.MemoryPercent = vm.UsedPercent
	}
	return m
}

// CheckCapacity compares the configured worker count against the host.
// It returns one warning per resource that looks short; an empty result
// means nothing to report. scratchRoot may be empty.
func (wp *WorkerPool) CheckCapacity(scratchRoot string) []string {
	var warnings []string
	if w := ValidateWorkers(wp.cfg.Workers); w != "" {
		warnings = append(warnings, w)
	}
	if w := checkMemoryPressure(wp.cfg.Workers); w != "" {
		warnings = append(warnings, w)
	}
	if scratchRoot != "" {
		if w := checkScratchSpace(scratchRoot); w != "" {
			warnings = append(warnings, w)
		}
	}
	return warnings
}

// ValidateWorkers compares a worker count with the host's logical CPUs and
// returns a warning when it is higher. It never fails.
func ValidateWorkers(workers int) string {
	n, err := cpu.Counts(true)
	if err != nil || n == 0 {
		return "" // Can't check, assume OK
	}
	if workers > n {
		return fmt.Sprintf("Worker count (%d) exceeds logical CPUs (%d); traces will contend for CPU", workers, n)
	}
	return ""
}

// checkMemoryPressure validates worker count against available memory
func checkMemoryPressure(workers int) string {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return ""
	}
	availableGB := float64(vm.Available) / gib
	totalGB := float64(vm.Total) / gib
	recommended := calculateSafeWorkerCount(availableGB)
	if workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing workers to prevent memory pressure.",
			workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}

func checkScratchSpace(root string) string {
	usage, err := disk.Usage(root)
	if err != nil {
		return ""
	}
	freeGB := float64(usage.Free) / gib
	if freeGB < minScratchFreeGB {
		return fmt.Sprintf("Scratch root %s has %.2fGB free; isolated network copies may not fit", root, freeGB)
	}
	return ""
}
