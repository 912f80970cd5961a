//go:build linux

package tools

import (
	"golang.org/x/sys/unix"
)

// loadScale converts Sysinfo's fixed-point load averages to floats.
const loadScale = float64(1 << unix.SI_LOAD_SHIFT)

// systemStatus reports memory, disk, load, and uptime from the kernel.
func systemStatus() Result {
	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return errResult("sysinfo: %v", err)
	}

	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	memTotal := uint64(si.Totalram) * unit
	memFree := uint64(si.Freeram) * unit
	memAvailable := memFree + uint64(si.Bufferram)*unit
	memUsed := memTotal - memFree
	memPercent := 0.0
	if memTotal > 0 {
		memPercent = round1(float64(memUsed) / float64(memTotal) * 100)
	}

	status := Result{
		"ok": true,
		"load_avg": map[string]any{
			"1m":  round2(float64(si.Loads[0]) / loadScale),
			"5m":  round2(float64(si.Loads[1]) / loadScale),
			"15m": round2(float64(si.Loads[2]) / loadScale),
		},
		"memory": map[string]any{
			"total":     memTotal,
			"available": memAvailable,
			"used":      memUsed,
			"percent":   memPercent,
		},
		"uptime_seconds": si.Uptime,
	}

	var fs unix.Statfs_t
	if err := unix.Statfs("/", &fs); err == nil {
		bsize := uint64(fs.Bsize)
		total := fs.Blocks * bsize
		free := fs.Bfree * bsize
		used := total - free
		percent := 0.0
		if total > 0 {
			percent = round1(float64(used) / float64(total) * 100)
		}
		status["disk"] = map[string]any{
			"total":   total,
			"used":    used,
			"free":    free,
			"percent": percent,
		}
	}

	return status
}

func round1(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}
