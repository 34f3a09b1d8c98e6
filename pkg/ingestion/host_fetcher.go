package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lucid-vigil/secops/pkg/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// Overridable in tests.
var (
	hostInfo      = host.InfoWithContext
	cpuPercent    = cpu.PercentWithContext
	virtualMemory = mem.VirtualMemoryWithContext
	connections   = net.ConnectionsWithContext
	processIDs    = process.PidsWithContext
)

// HostFetcher samples the local host for endpoint sources. It produces a
// single record per tick. Host info and memory are required; CPU, socket and
// process counts are added when the platform reports them.
type HostFetcher struct{}

func (HostFetcher) Fetch(ctx context.Context, source types.DataSource) ([]types.RawRecord, error) {
	info, err := hostInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}
	vm, err := virtualMemory(ctx)
	if err != nil {
		return nil, fmt.Errorf("virtual memory: %w", err)
	}
	data := map[string]interface{}{
		"host":           info.Hostname,
		"os":             info.OS,
		"platform":       info.Platform,
		"uptime_seconds": info.Uptime,
		"mem_used_pct":   vm.UsedPercent,
	}
	if pct, err := cpuPercent(ctx, 0, false); err == nil && len(pct) > 0 {
		data["cpu_used_pct"] = pct[0]
	}
	if conns, err := connections(ctx, "inet"); err == nil {
		established, listening := 0, 0
		for _, c := range conns {
			switch c.Status {
			case "ESTABLISHED":
				if c.Laddr.IP != "127.0.0.1" && c.Laddr.IP != "::1" {
					established++
				}
			case "LISTEN":
				listening++
			}
		}
		data["established_connections"] = established
		data["listening_ports"] = listening
	}
	if pids, err := processIDs(ctx); err == nil {
		data["process_count"] = len(pids)
	}

	return []types.RawRecord{{
		ID:        uuid.New().String(),
		SourceID:  source.ID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}}, nil
}
