package stats

import (
	"math"
	"sync"
)

// ----------------------------------------------------------------------------
// SizeHistogram
// ----------------------------------------------------------------------------

// sizeBoundaries are exponential bucket limits from 16 bytes to 4 GB
var sizeBoundaries = []int64{
	16, 64, 256, 1024, 4096, // Bytes: 16B to 4KB
	16384, 65536, 262144, 1048576, // KB range: 16KB to 1MB
	4194304, 16777216, 67108864, // MB range: 4MB to 64MB
	268435456, 1073741824, 4294967296, // Above 256MB to 4GB
}

// SizeHistogram tracks the distribution of entry sizes in exponential buckets.
// Estimates are bucket midpoints, exact enough for an overview of a listing.
//
// Thread-safe: all methods are safe for concurrent use
type SizeHistogram struct {
	mutex   sync.RWMutex
	buckets []int64 // Count of items per bucket (one more than boundaries)
	count   int64   // Total number of samples
	sum     int64   // Sum of all sampled sizes
}

// NewSizeHistogram creates an empty histogram
func NewSizeHistogram() *SizeHistogram {
	return &SizeHistogram{
		buckets: make([]int64, len(sizeBoundaries)+1),
	}
}

// AddSample adds a size sample
func (h *SizeHistogram) AddSample(size int64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	bucketIndex := len(sizeBoundaries) // Last bucket for all larger values
	for i, boundary := range sizeBoundaries {
		if size <= boundary {
			bucketIndex = i
			break
		}
	}

	h.buckets[bucketIndex]++
	h.count++
	h.sum += size
}

// Count returns the total number of samples
func (h *SizeHistogram) Count() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.count
}

// Total returns the sum of all samples
func (h *SizeHistogram) Total() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.sum
}

// AverageSize returns the average size across all samples
func (h *SizeHistogram) AverageSize() int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 {
		return 0
	}
	return h.sum / h.count
}

// PercentileEstimate returns an estimate for the given percentile (0-100)
func (h *SizeHistogram) PercentileEstimate(percentile int) int64 {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if h.count == 0 || percentile < 0 || percentile > 100 {
		return 0
	}

	targetCount := int64(math.Ceil(float64(h.count) * float64(percentile) / 100.0))
	cumulativeCount := int64(0)

	for i, count := range h.buckets {
		cumulativeCount += count
		if cumulativeCount >= targetCount {
			return bucketEstimate(i)
		}
	}
	return h.sum / h.count
}

// Distribution returns the upper bucket limits and the percentage of samples
// per bucket. The last bucket has no limit and is reported as -1.
func (h *SizeHistogram) Distribution() ([]int64, []float64) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	limits := append(append([]int64(nil), sizeBoundaries...), -1)
	percentages := make([]float64, len(h.buckets))
	if h.count == 0 {
		return limits, percentages
	}

	for i, count := range h.buckets {
		percentages[i] = float64(count) * 100.0 / float64(h.count)
	}
	return limits, percentages
}

// Reset clears all samples
func (h *SizeHistogram) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count = 0
	h.sum = 0
	for i := range h.buckets {
		h.buckets[i] = 0
	}
}

// bucketEstimate returns the representative size of a bucket
func bucketEstimate(i int) int64 {
	switch {
	case i == 0:
		return sizeBoundaries[0] / 2
	case i < len(sizeBoundaries):
		return (sizeBoundaries[i-1] + sizeBoundaries[i]) / 2
	default:
		return sizeBoundaries[len(sizeBoundaries)-1] * 2
	}
}
