package diagnostics

import (
	"os"
	"testing"
)

func TestNewProcessMetricsCollector(t *testing.T) {
	t.Parallel()
	c := NewProcessMetricsCollector()
	if c == nil {
		t.Fatal("expected non-nil collector")
	}
}

func TestCollect_ReturnsProcessMetrics(t *testing.T) {
	t.Parallel()
	c := NewProcessMetricsCollector()
	m := c.Collect()

	if m.PID != int32(os.Getpid()) {
		t.Errorf("PID = %d, want %d", m.PID, os.Getpid())
	}
	if m.GoVersion == "" {
		t.Error("expected GoVersion to be set")
	}
	if m.NumGoroutine <= 0 {
		t.Error("expected NumGoroutine > 0")
	}
	if m.NumCPU <= 0 {
		t.Error("expected NumCPU > 0")
	}
	if m.HeapAllocMB <= 0 {
		t.Error("expected HeapAllocMB > 0")
	}
	if m.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds negative: %f", m.UptimeSeconds)
	}

	// Memory should be > 0 on any real system
	if m.MemTotalMB <= 0 {
		t.Error("expected MemTotalMB > 0")
	}
	if m.MemPercent < 0 || m.MemPercent > 100 {
		t.Errorf("MemPercent out of range: %f", m.MemPercent)
	}
}

func TestCollect_HostInfoCached(t *testing.T) {
	t.Parallel()
	c := NewProcessMetricsCollector()

	m1 := c.Collect()
	m2 := c.Collect()

	if m1.Hostname != m2.Hostname {
		t.Errorf("hostname changed between calls: %q vs %q", m1.Hostname, m2.Hostname)
	}
	if m1.StartedAt != m2.StartedAt {
		t.Errorf("start time changed between calls: %v vs %v", m1.StartedAt, m2.StartedAt)
	}
}
