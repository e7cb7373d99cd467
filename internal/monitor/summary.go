package monitor

import (
	"github.com/samber/lo"

	"github.com/coco-alen/gpu-usage-view/internal/errors"
)

// DefaultFreeThreshold is the utilization percentage under which a GPU counts as free.
const DefaultFreeThreshold = 1.0

// Summarize reduces a snapshot to a Summary using the given free threshold.
// A threshold <= 0 selects DefaultFreeThreshold.
//
// AllFree and HaveFree compare per-metric extrema: AllFree needs the max GPU
// and the max memory utilization under the threshold, HaveFree needs the min
// of each. A fleet where one device is compute-idle and a different device is
// memory-idle therefore reports HaveFree even though no single device is free.
func Summarize(s *Snapshot, threshold float64) (Summary, error) {
	if s.Len() == 0 {
		return Summary{}, errors.New(errors.ErrEmpty,
			"No GPUs in snapshot",
			"The host returned a header but no device rows.")
	}
	if threshold <= 0 {
		threshold = DefaultFreeThreshold
	}

	gpu := lo.Map(s.Records, func(r GPURecord, _ int) float64 { return r.GPUUtil })
	mem := lo.Map(s.Records, func(r GPURecord, _ int) float64 { return r.MemoryUtil })
	n := float64(len(s.Records))

	sum := Summary{
		GPUNames:      lo.Uniq(lo.Map(s.Records, func(r GPURecord, _ int) string { return r.Name })),
		AvgGPUUtil:    lo.Sum(gpu) / n,
		AvgMemoryUtil: lo.Sum(mem) / n,
		MinGPUUtil:    lo.Min(gpu),
		MaxGPUUtil:    lo.Max(gpu),
		MinMemoryUtil: lo.Min(mem),
		MaxMemoryUtil: lo.Max(mem),
	}

	sum.AllFree = sum.MaxGPUUtil < threshold && sum.MaxMemoryUtil < threshold
	sum.HaveFree = sum.MinGPUUtil < threshold && sum.MinMemoryUtil < threshold
	sum.DeadProcess = sum.MinMemoryUtil > 0 && sum.MaxGPUUtil < threshold

	return sum, nil
}
