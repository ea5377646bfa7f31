package utils

import (
	"time"

	"github.com/shirou/gopsutil/cpu"
)

// CheckCPUUsage samples overall CPU usage and reports whether it is at or
// below maxCPUUsage. A failed sample is reported as not ok.
func CheckCPUUsage(maxCPUUsage float64) (bool, float64) {
	usage, err := cpu.Percent(0, false)
	if err != nil || len(usage) == 0 {
		return false, 0
	}
	return usage[0] <= maxCPUUsage, usage[0]
}

// CPUGate blocks work while the host is busier than MaxUsage.
type CPUGate struct {
	MaxUsage float64
	Interval time.Duration
	Sample   func(max float64) (bool, float64)
}

func NewCPUGate(maxUsage float64, interval time.Duration) *CPUGate {
	return &CPUGate{MaxUsage: maxUsage, Interval: interval, Sample: CheckCPUUsage}
}

// Enabled reports whether the gate does anything. A zero or >=100 limit disables it.
func (g *CPUGate) Enabled() bool {
	return g != nil && g.MaxUsage > 0 && g.MaxUsage < 100
}
