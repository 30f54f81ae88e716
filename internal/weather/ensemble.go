package weather

import (
	"math"
	"sort"
)

const bucketWidth = 2.0

// Summarize 由各成员当日最高温计算集合统计与 2°F 区间分布。
// 标准差为总体标准差，分位数取四舍五入后的下标。
func Summarize(highs []float64) (Ensemble, bool) {
	if len(highs) == 0 {
		return Ensemble{}, false
	}

	sorted := make([]float64, len(highs))
	copy(sorted, highs)
	sort.Float64s(sorted)

	n := len(sorted)
	var sum float64
	for _, h := range sorted {
		sum += h
	}
	mean := sum / float64(n)

	var variance float64
	for _, h := range sorted {
		variance += (h - mean) * (h - mean)
	}
	variance /= float64(n)

	percentile := func(p float64) float64 {
		idx := int(math.Round(p / 100 * float64(n-1)))
		if idx >= n {
			idx = n - 1
		}
		return sorted[idx]
	}

	return Ensemble{
		Members:     n,
		MemberHighs: sorted,
		Mean:        mean,
		Min:         sorted[0],
		Max:         sorted[n-1],
		StdDev:      math.Sqrt(variance),
		P10:         percentile(10),
		P25:         percentile(25),
		P75:         percentile(75),
		P90:         percentile(90),
		Buckets:     buildBuckets(sorted),
	}, true
}

func buildBuckets(sorted []float64) []Bucket {
	n := float64(len(sorted))
	low := math.Floor(sorted[0]/bucketWidth)*bucketWidth - bucketWidth
	high := math.Ceil(sorted[len(sorted)-1]/bucketWidth)*bucketWidth + bucketWidth

	buckets := make([]Bucket, 0, int((high-low)/bucketWidth))
	for lower := low; lower < high; lower += bucketWidth {
		upper := lower + bucketWidth
		count := 0
		for _, h := range sorted {
			if h >= lower && h < upper {
				count++
			}
		}
		if count == 0 {
			continue
		}
		buckets = append(buckets, Bucket{
			Lower:       lower,
			Upper:       upper,
			Probability: float64(count) / n,
		})
	}
	return buckets
}
