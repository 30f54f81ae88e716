package weather

import (
	"fmt"
	"math"
	"time"
)

// HourlyPoint 为逐小时预报的一个点。
type HourlyPoint struct {
	Time  time.Time `json:"time"`
	TempF float64   `json:"temp_f"`
}

// Bucket 为 2°F 温度区间及其集合预报概率，区间左闭右开。
type Bucket struct {
	Lower       float64 `json:"lower"`
	Upper       float64 `json:"upper"`
	Probability float64 `json:"probability"`
}

// Label 返回区间标签。
func (b Bucket) Label() string {
	return fmt.Sprintf("%.0f-%.0f°F", b.Lower, b.Upper)
}

// Ensemble 为集合预报的当日最高温汇总。
type Ensemble struct {
	Members     int       `json:"members"`
	MemberHighs []float64 `json:"member_highs"`
	Mean        float64   `json:"mean"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	StdDev      float64   `json:"std_dev"`
	P10         float64   `json:"p10"`
	P25         float64   `json:"p25"`
	P75         float64   `json:"p75"`
	P90         float64   `json:"p90"`
	Buckets     []Bucket  `json:"buckets"`
}

// Deterministic 为确定性模型预报。
type Deterministic struct {
	CurrentTempF float64       `json:"current_temp_f"`
	HighF        float64       `json:"high_f"`
	Hourly       []HourlyPoint `json:"hourly"`
}

// Official 为官方点位预报，高低温均可能缺失。
type Official struct {
	HighF         *float64 `json:"high_f,omitempty"`
	LowF          *float64 `json:"low_f,omitempty"`
	ShortForecast string   `json:"short_forecast,omitempty"`
}

// Snapshot 为一个周期内汇总的天气数据。
// 当前温度与确定性最高温必定存在，其余字段尽力而为。
type Snapshot struct {
	City               string        `json:"city"`
	FetchedAt          time.Time     `json:"fetched_at"`
	CurrentTempF       float64       `json:"current_temp_f"`
	DeterministicHighF float64       `json:"deterministic_high_f"`
	Hourly             []HourlyPoint `json:"hourly"`
	OfficialHighF      *float64      `json:"official_high_f,omitempty"`
	OfficialLowF       *float64      `json:"official_low_f,omitempty"`
	OfficialSummary    string        `json:"official_summary,omitempty"`
	Ensemble           *Ensemble     `json:"ensemble,omitempty"`
	Degraded           []string      `json:"degraded,omitempty"`
}

// Agreement 描述官方预报与确定性模型的一致程度。
func (s Snapshot) Agreement() string {
	if s.OfficialHighF == nil {
		return fmt.Sprintf("官方预报缺失，模型最高温 %.0f°F", s.DeterministicHighF)
	}
	diff := math.Abs(*s.OfficialHighF - s.DeterministicHighF)
	switch {
	case diff <= 1:
		return fmt.Sprintf("高度一致：官方 %.0f°F / 模型 %.0f°F", *s.OfficialHighF, s.DeterministicHighF)
	case diff <= 3:
		return fmt.Sprintf("基本一致：官方 %.0f°F / 模型 %.0f°F，相差 %.0f°F", *s.OfficialHighF, s.DeterministicHighF, diff)
	default:
		return fmt.Sprintf("存在分歧：官方 %.0f°F / 模型 %.0f°F，相差 %.0f°F", *s.OfficialHighF, s.DeterministicHighF, diff)
	}
}
