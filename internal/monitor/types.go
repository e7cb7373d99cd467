package monitor

import (
	"fmt"
	"time"
)

// GPURecord is one device row from a single poll.
type GPURecord struct {
	Index       int
	Name        string
	Timestamp   string
	Temperature float64
	// GPUUtil is compute utilization in percent.
	GPUUtil float64
	// MemoryUtil is memory occupancy in percent (used/total*100, two decimals),
	// or the reported utilization.memory value when used/total weren't queried.
	MemoryUtil  float64
	MemoryUsed  int64
	MemoryTotal int64
	MemoryUnit  string
	// Memory is the display form "<used> <unit> / <total> <unit>".
	Memory string
}

// MemoryDisplay builds the "<used> <unit> / <total> <unit>" string.
func MemoryDisplay(used, total int64, unit string) string {
	return fmt.Sprintf("%d %s / %d %s", used, unit, total, unit)
}

// Snapshot is the full set of GPU records for one host from one poll.
// Snapshots are never modified after they're published; each poll builds a new one.
type Snapshot struct {
	Records   []GPURecord
	FetchedAt time.Time
}

// Len returns the number of devices in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Records)
}

// Summary holds the fleet-relevant aggregates computed from a Snapshot.
type Summary struct {
	GPUNames      []string
	AvgGPUUtil    float64
	AvgMemoryUtil float64
	MinGPUUtil    float64
	MaxGPUUtil    float64
	MinMemoryUtil float64
	MaxMemoryUtil float64

	// AllFree is true when every device is under the free threshold.
	AllFree bool
	// HaveFree is true when at least one device is under the free threshold.
	HaveFree bool
	// DeadProcess flags memory held without compute activity, usually an
	// orphaned or hung process.
	DeadProcess bool
}
