package util

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// Stats
// ----------------------------------------------------------------------------

// Stats summarizes a set of values (e.g. the lengths of all queues).
type Stats struct {
	Count        int     `json:"count"`
	Sum          float64 `json:"sum"`
	StdDeviation float64 `json:"std_deviation"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Mean         float64 `json:"mean"`
}

// NewStats computes count, sum, mean, standard deviation, minimum and maximum
// of the given values.
func NewStats(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	minV, maxV := values[0], values[0]
	var sum float64
	for _, v := range values {
		sum += v
		minV = math.Min(minV, v)
		maxV = math.Max(maxV, v)
	}
	mean := sum / float64(len(values))

	// population standard deviation
	var squared float64
	for _, v := range values {
		d := v - mean
		squared += d * d
	}

	return Stats{
		Count:        len(values),
		Sum:          sum,
		StdDeviation: math.Sqrt(squared / float64(len(values))),
		Min:          minV,
		Max:          maxV,
		Mean:         mean,
	}
}

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are the upper bounds of the histogram buckets (16B to 4GB).
var sizeBoundaries = []int{
	16, 64, 256, 1024, 4096,
	16384, 65536, 262144, 1048576,
	4194304, 16777216, 67108864,
	268435456, 1073741824, 4294967296,
}

// SizeHistogram tracks the distribution of payload sizes with exponential
// buckets. Samples are never removed.
//
// Thread-safety: All methods are safe for concurrent use.
type SizeHistogram struct {
	mutex   sync.RWMutex
	buckets [16]int64 // one bucket per boundary plus one for larger values
	count   int64
	sum     int64
}

// NewSizeHistogram creates an empty histogram.
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{}
}

// AddSample records one size sample.
func (h *SizeHistogram) AddSample(size int) {
	idx := len(sizeBoundaries)
	for i, b := range sizeBoundaries {
		if size <= b {
			idx = i
			break
		}
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.buckets[idx]++
	h.count++
	h.sum += int64(size)
}

// Count returns the number of samples.
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// Average returns the mean sample size.
func (h *SizeHistogram) Average() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if h.count == 0 {
		return 0
	}
	return int(h.sum / h.count)
}

// Percentile estimates the given percentile (0-100) from the bucket
// boundaries.
func (h *SizeHistogram) Percentile(p int) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || p < 0 || p > 100 {
		return 0
	}

	target := int64(math.Ceil(float64(h.count) * float64(p) / 100.0))
	var seen int64
	for i, n := range h.buckets {
		seen += n
		if seen < target {
			continue
		}
		switch {
		case i == 0:
			return sizeBoundaries[0] / 2
		case i < len(sizeBoundaries):
			return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
		default:
			return sizeBoundaries[len(sizeBoundaries)-1] * 2
		}
	}
	return int(h.sum / h.count)
}
