package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/shirou/gopsutil/v4/disk"
	"gorm.io/gorm"
)

// HealthHandler serves the liveness endpoint with system metrics.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	registry  *engine.Registry
	layout    *storage.Layout
}

// NewHealthHandler returns a handler reporting the given version.
// Optional probes attach through the With* methods.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB enables ledger connectivity checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithRegistry enables per-engine availability probes.
func (h *HealthHandler) WithRegistry(registry *engine.Registry) *HealthHandler {
	h.registry = registry
	return h
}

// WithLayout enables disk usage reporting for the output tree.
func (h *HealthHandler) WithLayout(layout *storage.Layout) *HealthHandler {
	h.layout = layout
	return h
}

// CPUInfo reports load averages relative to the core count.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// ProcessMemoryInfo reports this process tree's memory footprint.
// Engine subprocesses show up as children while they run.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// MemoryInfo reports system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	FreeMemoryMB      float64           `json:"free_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// DiskInfo reports usage of the volume holding the output tree.
type DiskInfo struct {
	Path        string  `json:"path,omitempty"`
	TotalGB     float64 `json:"total_gb"`
	UsedGB      float64 `json:"used_gb"`
	FreeGB      float64 `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

// DatabaseHealth reports ledger database connectivity and pool state.
type DatabaseHealth struct {
	Status            string  `json:"status"`
	ResponseTimeMS    float64 `json:"response_time_ms"`
	ActiveConnections int     `json:"active_connections"`
	IdleConnections   int     `json:"idle_connections"`
}

// HealthComponents groups per-subsystem checks.
type HealthComponents struct {
	Database DatabaseHealth  `json:"database"`
	Engines  map[string]bool `json:"engines"`
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status        string            `json:"status"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Disk          DiskInfo          `json:"disk"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks"`
}

// HealthOutput wraps the payload for huma.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API. Health lives at the
// root, outside the API prefix, so probes never depend on configuration.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Service liveness with system metrics and engine availability",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth assembles the liveness report. Metric collectors swallow
// their own failures; a probe that cannot read the system still
// answers, just with zeroed sections.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.checkDatabase(ctx)

	engines := map[string]bool{}
	if h.registry != nil {
		for _, meta := range h.registry.Metas() {
			engines[meta.ID] = meta.Available
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        "healthy",
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.sampleCPU(),
			Memory:        h.sampleMemory(),
			Disk:          h.sampleDisk(ctx),
			Components: HealthComponents{
				Database: dbHealth,
				Engines:  engines,
			},
			Checks: map[string]string{
				"database": dbHealth.Status,
			},
		},
	}, nil
}

func toMB(b uint64) float64 { return float64(b) / 1024 / 1024 }
func toGB(b uint64) float64 { return toMB(b) / 1024 }

// sampleCPU reads load averages and scales the 1-minute figure by the
// core count.
func (h *HealthHandler) sampleCPU() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	if avg, err := load.Avg(); err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = avg.Load1 / float64(cores) * 100
		}
	}
	return info
}

// sampleMemory reads system, swap, and process-tree memory.
func (h *HealthHandler) sampleMemory() MemoryInfo {
	info := MemoryInfo{}

	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMemoryMB = toMB(vm.Total)
		info.UsedMemoryMB = toMB(vm.Used)
		info.FreeMemoryMB = toMB(vm.Free)
		info.AvailableMemoryMB = toMB(vm.Available)
	}
	if swap, err := mem.SwapMemory(); err == nil && swap != nil {
		info.SwapTotalMB = toMB(swap.Total)
		info.SwapUsedMB = toMB(swap.Used)
	}

	info.ProcessMemory = h.sampleProcessTree(info.TotalMemoryMB)
	return info
}

// sampleProcessTree sums RSS across this process and its children.
func (h *HealthHandler) sampleProcessTree(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	if main, err := proc.MemoryInfo(); err == nil && main != nil {
		info.MainProcessMB = toMB(main.RSS)
		info.TotalProcessTreeMB = info.MainProcessMB
		if totalSystemMB > 0 {
			info.PercentageOfSystem = info.MainProcessMB / totalSystemMB * 100
		}
	}

	if children, err := proc.Children(); err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			if cm, err := child.MemoryInfo(); err == nil && cm != nil {
				info.ChildProcessesMB += toMB(cm.RSS)
				info.TotalProcessTreeMB += toMB(cm.RSS)
			}
		}
	}
	return info
}

// sampleDisk reads usage of the volume the output tree lives on.
func (h *HealthHandler) sampleDisk(ctx context.Context) DiskInfo {
	info := DiskInfo{}
	if h.layout == nil {
		return info
	}

	info.Path = h.layout.BaseDir()
	if usage, err := disk.UsageWithContext(ctx, h.layout.BaseDir()); err == nil && usage != nil {
		info.TotalGB = toGB(usage.Total)
		info.UsedGB = toGB(usage.Used)
		info.FreeGB = toGB(usage.Free)
		info.UsedPercent = usage.UsedPercent
	}
	return info
}

// checkDatabase pings the ledger and reports pool state. With no ledger
// wired the status is "unknown", not a failure.
func (h *HealthHandler) checkDatabase(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{Status: "ok"}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}
	return health
}
