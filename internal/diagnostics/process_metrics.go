package diagnostics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMetrics holds a point-in-time snapshot of the agent process and the
// host resources it competes for.
type ProcessMetrics struct {
	PID           int32     `json:"pid"`
	Hostname      string    `json:"hostname"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`

	// Runtime
	GoVersion    string  `json:"go_version"`
	NumGoroutine int     `json:"num_goroutine"`
	NumCPU       int     `json:"num_cpu"`
	HeapAllocMB  float64 `json:"heap_alloc_mb"`
	HeapSysMB    float64 `json:"heap_sys_mb"`

	// Process (via gopsutil)
	CPUPercent float64 `json:"cpu_percent"`
	RSSMB      float64 `json:"rss_mb"`

	// Host memory (in MB)
	MemTotalMB float64 `json:"mem_total_mb"`
	MemUsedMB  float64 `json:"mem_used_mb"`
	MemPercent float64 `json:"mem_percent"`

	// Load average (Unix)
	LoadAvg1  float64 `json:"load_avg_1"`
	LoadAvg5  float64 `json:"load_avg_5"`
	LoadAvg15 float64 `json:"load_avg_15"`
}

// ProcessMetricsCollector collects process statistics. Individual probes
// fail silently; a snapshot always comes back with whatever was readable.
type ProcessMetricsCollector struct {
	mu      sync.Mutex
	proc    *process.Process
	started time.Time

	infoCollected bool
	hostname      string
}

// NewProcessMetricsCollector creates a collector for the current process.
func NewProcessMetricsCollector() *ProcessMetricsCollector {
	c := &ProcessMetricsCollector{started: time.Now()}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = proc
		if created, err := proc.CreateTime(); err == nil && created > 0 {
			c.started = time.UnixMilli(created)
		}
	}
	return c
}

// Collect gathers the current snapshot.
func (c *ProcessMetricsCollector) Collect() ProcessMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	metrics := ProcessMetrics{
		PID:           int32(os.Getpid()),
		StartedAt:     c.started.UTC(),
		UptimeSeconds: time.Since(c.started).Seconds(),
	}

	c.collectHostInfo(&metrics)
	c.collectRuntimeInfo(&metrics)
	c.collectProcessInfo(&metrics)
	c.collectMemoryInfo(&metrics)
	c.collectLoadAvg(&metrics)

	return metrics
}

func (c *ProcessMetricsCollector) collectHostInfo(metrics *ProcessMetrics) {
	if !c.infoCollected {
		if hostname, err := os.Hostname(); err == nil {
			c.hostname = hostname
		}
		c.infoCollected = true
	}
	metrics.Hostname = c.hostname
}

func (c *ProcessMetricsCollector) collectRuntimeInfo(metrics *ProcessMetrics) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	metrics.GoVersion = runtime.Version()
	metrics.NumGoroutine = runtime.NumGoroutine()
	metrics.NumCPU = runtime.NumCPU()
	metrics.HeapAllocMB = float64(stats.HeapAlloc) / 1024 / 1024
	metrics.HeapSysMB = float64(stats.HeapSys) / 1024 / 1024
}

func (c *ProcessMetricsCollector) collectProcessInfo(metrics *ProcessMetrics) {
	if c.proc == nil {
		return
	}
	if percent, err := c.proc.CPUPercent(); err == nil {
		metrics.CPUPercent = percent
	}
	if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
		metrics.RSSMB = float64(info.RSS) / 1024 / 1024
	}
}

func (c *ProcessMetricsCollector) collectMemoryInfo(metrics *ProcessMetrics) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return
	}
	metrics.MemTotalMB = float64(vm.Total) / 1024 / 1024
	metrics.MemUsedMB = float64(vm.Used) / 1024 / 1024
	metrics.MemPercent = vm.UsedPercent
}

func (c *ProcessMetricsCollector) collectLoadAvg(metrics *ProcessMetrics) {
	avg, err := load.Avg()
	if err != nil {
		return
	}
	metrics.LoadAvg1 = avg.Load1
	metrics.LoadAvg5 = avg.Load5
	metrics.LoadAvg15 = avg.Load15
}
