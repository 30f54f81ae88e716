package brain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/exchange"
)

// ErrUnparsableTicker 表示无法从合约信息得到温度阈值。
var ErrUnparsableTicker = errors.New("brain: 无法解析合约阈值")

// Direction 为阈值方向。
type Direction string

const (
	DirectionAbove   Direction = "above"
	DirectionBelow   Direction = "below"
	DirectionBetween Direction = "between"
)

// Threshold 为合约的温度判定条件。Between 为左闭右开区间 [Low, High)。
type Threshold struct {
	Direction Direction `json:"direction"`
	Value     float64   `json:"value,omitempty"`
	Low       float64   `json:"low,omitempty"`
	High      float64   `json:"high,omitempty"`
}

// String 返回便于阅读的描述。
func (t Threshold) String() string {
	switch t.Direction {
	case DirectionAbove:
		return fmt.Sprintf("最高温 > %.1f°F", t.Value)
	case DirectionBelow:
		return fmt.Sprintf("最高温 < %.1f°F", t.Value)
	default:
		return fmt.Sprintf("最高温 ∈ [%.1f, %.1f)°F", t.Low, t.High)
	}
}

// ParseThreshold 优先依据交易所给出的 strike 字段，缺失时解析 ticker 末段。
// 末段 T<n> 为单边阈值，方向由 strike_type 决定（默认大于）；B<x> 为以 x 为中心的 2°F 区间。
func ParseThreshold(m exchange.Market) (Threshold, error) {
	if t, ok := fromStrikes(m); ok {
		return t, nil
	}

	idx := strings.LastIndex(m.Ticker, "-")
	if idx < 0 || idx == len(m.Ticker)-1 {
		return Threshold{}, unparsable(m.Ticker)
	}
	suffix := m.Ticker[idx+1:]
	value, err := strconv.ParseFloat(suffix[1:], 64)
	if err != nil {
		return Threshold{}, unparsable(m.Ticker)
	}

	switch suffix[0] {
	case 'T', 't':
		if isLess(m.StrikeType) {
			return Threshold{Direction: DirectionBelow, Value: value}, nil
		}
		return Threshold{Direction: DirectionAbove, Value: value}, nil
	case 'B', 'b':
		return Threshold{Direction: DirectionBetween, Low: value - 1, High: value + 1}, nil
	default:
		return Threshold{}, unparsable(m.Ticker)
	}
}

func fromStrikes(m exchange.Market) (Threshold, bool) {
	switch strings.ToLower(m.StrikeType) {
	case "greater", ">":
		if m.FloorStrike != nil {
			return Threshold{Direction: DirectionAbove, Value: *m.FloorStrike}, true
		}
	case "less", "<":
		if m.CapStrike != nil {
			return Threshold{Direction: DirectionBelow, Value: *m.CapStrike}, true
		}
	case "between", "between_inclusive":
		if m.FloorStrike != nil && m.CapStrike != nil {
			// 整数端点均包含在内
			return Threshold{Direction: DirectionBetween, Low: *m.FloorStrike - 0.5, High: *m.CapStrike + 0.5}, true
		}
	}
	return Threshold{}, false
}

func isLess(strikeType string) bool {
	s := strings.ToLower(strikeType)
	return s == "less" || s == "<"
}

func unparsable(ticker string) error {
	return apperr.New(apperr.KindInvalidInput, "brain.parse_threshold", fmt.Errorf("%w: %q", ErrUnparsableTicker, ticker))
}
