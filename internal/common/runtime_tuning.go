package common

import (
	"os"
	"runtime"
	"runtime/debug"

	"github.com/rs/zerolog/log"
)

// Runtime profiles for different server configurations
const (
	// Small server: 2 vCPU, 4GB RAM (test/dev environment)
	SmallServerGOGC     = 200
	SmallServerMemLimit = 2.5 * 1024 * 1024 * 1024 // 2.5GB

	// Large server: 8+ vCPU, 16GB+ RAM (production)
	LargeServerGOGC     = 400
	LargeServerMemLimit = 8 * 1024 * 1024 * 1024 // 8GB
)

// InitRuntime applies GC and scheduler defaults for the settlement workload.
// Settlement is RPC-bound rather than allocation-heavy, so the defaults are
// mild; GOGC, GOMAXPROCS and GOMEMLIMIT env vars always win.
func InitRuntime() {
	gogc, memLimit := SmallServerGOGC, int64(SmallServerMemLimit)
	if runtime.NumCPU() > 4 {
		gogc, memLimit = LargeServerGOGC, int64(LargeServerMemLimit)
	}

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(gogc)
		log.Info().Int("GOGC", gogc).Msg("[runtime] Set GOGC")
	}
	if os.Getenv("GOMEMLIMIT") == "" {
		debug.SetMemoryLimit(memLimit)
		log.Info().
			Int64("GOMEMLIMIT_bytes", memLimit).
			Msg("[runtime] Set memory limit")
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	log.Info().
		Int("num_cpu", runtime.NumCPU()).
		Int("gomaxprocs", runtime.GOMAXPROCS(0)).
		Uint64("heap_alloc_mb", memStats.HeapAlloc/1024/1024).
		Str("go_version", runtime.Version()).
		Msg("[runtime] Current runtime settings")
}
