package api

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ServerMetrics метрики процесса и хоста для /api/stats
type ServerMetrics struct {
	StartTime time.Time
	proc      *process.Process
}

// ProcessStats использование ресурсов процессом сервера
type ProcessStats struct {
	Uptime     string  `json:"uptime"`
	RSSMB      float64 `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	Goroutines int     `json:"goroutines"`
	NumGC      uint32  `json:"num_gc"`
	HeapMB     float64 `json:"heap_mb"`
}

// HostStats загрузка машины
type HostStats struct {
	CPUs          int     `json:"cpus"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedPct float64 `json:"memory_used_percent"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
}

// NewServerMetrics создаёт сборщик метрик текущего процесса
func NewServerMetrics() *ServerMetrics {
	sm := &ServerMetrics{StartTime: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sm.proc = p
	}
	return sm
}

// GetUptime возвращает время работы сервера
func (sm *ServerMetrics) GetUptime() string {
	uptime := time.Since(sm.StartTime)

	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60
	seconds := int(uptime.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dд %dч %dм %dс", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dч %dм %dс", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dм %dс", minutes, seconds)
	default:
		return fmt.Sprintf("%dс", seconds)
	}
}

// Process собирает метрики процесса; недоступные через gopsutil поля остаются нулевыми
func (sm *ServerMetrics) Process() ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	st := ProcessStats{
		Uptime:     sm.GetUptime(),
		Goroutines: runtime.NumGoroutine(),
		NumGC:      m.NumGC,
		HeapMB:     float64(m.HeapAlloc) / 1024 / 1024,
	}
	if sm.proc == nil {
		return st
	}
	if info, err := sm.proc.MemoryInfo(); err == nil {
		st.RSSMB = float64(info.RSS) / 1024 / 1024
	}
	if pct, err := sm.proc.CPUPercent(); err == nil {
		st.CPUPercent = pct
	}
	return st
}

// Host собирает метрики машины без ожидания интервала замера CPU
func (sm *ServerMetrics) Host() HostStats {
	var st HostStats
	if n, err := cpu.Counts(true); err == nil {
		st.CPUs = n
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		st.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemoryUsedPct = vm.UsedPercent
		st.MemoryTotalMB = float64(vm.Total) / 1024 / 1024
	}
	return st
}
