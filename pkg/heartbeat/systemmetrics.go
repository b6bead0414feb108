package heartbeat

import (
	"time"

	"github.com/cuemby/mctl/pkg/log"
	"github.com/cuemby/mctl/pkg/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// CollectSystemMetrics samples host CPU, memory and root-disk usage for a
// heartbeat payload. Any individual sampler failure logs a warning and
// leaves that field zeroed rather than failing the whole heartbeat.
func CollectSystemMetrics() types.SystemMetrics {
	logger := log.WithComponent("heartbeat")
	var m types.SystemMetrics

	if vm, err := mem.VirtualMemory(); err != nil {
		logger.Warn().Err(err).Msg("read memory stats")
	} else {
		m.MemoryUsedMB = float64(vm.Used) / 1024 / 1024
		m.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}

	if du, err := disk.Usage("/"); err != nil {
		logger.Warn().Err(err).Msg("read disk stats")
	} else {
		m.DiskUsedGB = float64(du.Used) / 1024 / 1024 / 1024
		m.DiskTotalGB = float64(du.Total) / 1024 / 1024 / 1024
	}

	if pct, err := cpu.Percent(100*time.Millisecond, false); err != nil {
		logger.Warn().Err(err).Msg("read cpu stats")
	} else if len(pct) > 0 {
		m.CPUPercent = pct[0]
	}

	return m
}
