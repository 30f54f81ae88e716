package brain

import (
	"math"

	"kalshi-weather/internal/weather"
)

// Estimate 为对 YES 成立概率的估计。
type Estimate struct {
	Probability float64
	Confidence  Confidence
	Source      string
}

// EstimateYes 估计合约 YES 成立的概率。
// 有集合预报时累加阈值一侧的区间概率（跨阈值区间按比例插值），置信度由标准差决定；
// 否则以确定性最高温为中心的 logistic 曲线近似，置信度为低。
func EstimateYes(t Threshold, snap weather.Snapshot, scale float64) Estimate {
	if snap.Ensemble != nil && len(snap.Ensemble.Buckets) > 0 {
		return Estimate{
			Probability: clamp01(bucketProbability(t, snap.Ensemble.Buckets)),
			Confidence:  ConfidenceFromStdDev(snap.Ensemble.StdDev),
			Source:      "ensemble",
		}
	}
	return Estimate{
		Probability: clamp01(curveProbability(t, snap.DeterministicHighF, scale)),
		Confidence:  ConfidenceLow,
		Source:      "deterministic",
	}
}

func bucketProbability(t Threshold, buckets []weather.Bucket) float64 {
	var p float64
	for _, b := range buckets {
		width := b.Upper - b.Lower
		if width <= 0 {
			continue
		}
		lo, hi := qualifyingRange(t)
		overlapLow := math.Max(b.Lower, lo)
		overlapHigh := math.Min(b.Upper, hi)
		if overlapHigh <= overlapLow {
			continue
		}
		p += b.Probability * (overlapHigh - overlapLow) / width
	}
	return p
}

func qualifyingRange(t Threshold) (float64, float64) {
	switch t.Direction {
	case DirectionAbove:
		return t.Value, math.Inf(1)
	case DirectionBelow:
		return math.Inf(-1), t.Value
	default:
		return t.Low, t.High
	}
}

// curveProbability 以 logistic 函数近似 P(最高温满足条件)，在阈值处为 0.5。
func curveProbability(t Threshold, high, scale float64) float64 {
	if scale <= 0 {
		scale = 2
	}
	// below(x) 近似 P(最高温 < x)
	below := func(x float64) float64 {
		return sigmoid((x - high) / scale)
	}
	switch t.Direction {
	case DirectionAbove:
		return 1 - below(t.Value)
	case DirectionBelow:
		return below(t.Value)
	default:
		return below(t.High) - below(t.Low)
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
