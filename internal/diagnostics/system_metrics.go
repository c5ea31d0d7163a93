// Package diagnostics collects host resource metrics surfaced by the
// health endpoint.
package diagnostics

import (
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemMetrics holds system-wide resource usage. Fields that could not
// be read stay zero; collection is best-effort.
type SystemMetrics struct {
	CPUModel   string  `json:"cpu_model"`
	CPUCores   int     `json:"cpu_cores"`
	CPUPercent float64 `json:"cpu_percent"`

	MemTotalMB float64 `json:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent"`

	DiskTotalGB float64 `json:"disk_total_gb"`
	DiskUsedGB  float64 `json:"disk_used_gb"`
	DiskPercent float64 `json:"disk_percent"`

	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`

	Goroutines int `json:"goroutines"`
}

// SystemMetricsCollector collects system-wide statistics. Static hardware
// info is read once and cached.
type SystemMetricsCollector struct {
	mu            sync.Mutex
	infoCollected bool
	cpuModel      string
	cpuCores      int
}

// NewSystemMetricsCollector creates a collector.
func NewSystemMetricsCollector() *SystemMetricsCollector {
	return &SystemMetricsCollector{}
}

// Collect gathers current system statistics.
func (c *SystemMetricsCollector) Collect() SystemMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := SystemMetrics{Goroutines: runtime.NumGoroutine()}

	c.collectHardwareInfo(&stats)
	c.collectMemoryInfo(&stats)
	c.collectCPUInfo(&stats)
	c.collectDiskInfo(&stats)
	c.collectLoadAvg(&stats)

	return stats
}

func (c *SystemMetricsCollector) collectHardwareInfo(stats *SystemMetrics) {
	if !c.infoCollected {
		c.cpuCores = runtime.NumCPU()
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			c.cpuModel = infos[0].ModelName
		}
		c.infoCollected = true
	}
	stats.CPUModel = c.cpuModel
	stats.CPUCores = c.cpuCores
}

func (c *SystemMetricsCollector) collectMemoryInfo(stats *SystemMetrics) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	stats.MemTotalMB = float64(vm.Total) / 1024 / 1024
	stats.MemUsedMB = float64(vm.Used) / 1024 / 1024
	stats.MemPercent = vm.UsedPercent
}

func (c *SystemMetricsCollector) collectCPUInfo(stats *SystemMetrics) {
	// Interval 0 compares against the previous call instead of blocking.
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}
	stats.CPUPercent = percents[0]
}

func (c *SystemMetricsCollector) collectDiskInfo(stats *SystemMetrics) {
	usage, err := disk.Usage("/")
	if err != nil {
		return
	}
	stats.DiskTotalGB = float64(usage.Total) / 1024 / 1024 / 1024
	stats.DiskUsedGB = float64(usage.Used) / 1024 / 1024 / 1024
	stats.DiskPercent = usage.UsedPercent
}

func (c *SystemMetricsCollector) collectLoadAvg(stats *SystemMetrics) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	stats.LoadAvg1 = avg.Load1
	stats.LoadAvg5 = avg.Load5
	stats.LoadAvg15 = avg.Load15
}
