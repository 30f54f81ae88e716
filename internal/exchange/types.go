package exchange

import (
	"strings"
	"time"
)

// Side 表示二元合约的方向。
type Side string

const (
	SideYes Side = "yes"
	SideNo  Side = "no"
)

// Valid 判断方向是否合法。
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// ParseSide 解析不区分大小写的方向字符串。
func ParseSide(raw string) (Side, bool) {
	s := Side(strings.ToLower(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// Market 为单个合约在本周期内的不可变快照。价格单位为美分，0 表示无报价。
type Market struct {
	Ticker         string    `json:"ticker"`
	EventTicker    string    `json:"event_ticker"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	StrikeType     string    `json:"strike_type"`
	FloorStrike    *float64  `json:"floor_strike,omitempty"`
	CapStrike      *float64  `json:"cap_strike,omitempty"`
	YesBid         int       `json:"yes_bid"`
	YesAsk         int       `json:"yes_ask"`
	NoBid          int       `json:"no_bid"`
	NoAsk          int       `json:"no_ask"`
	LastPrice      int       `json:"last_price"`
	Volume         int64     `json:"volume"`
	Volume24h      int64     `json:"volume_24h"`
	OpenInterest   int64     `json:"open_interest"`
	CloseTime      time.Time `json:"close_time"`
	ExpirationTime time.Time `json:"expiration_time"`
	Result         string    `json:"result,omitempty"`
}

// Ask 返回指定方向的卖一价。
func (m Market) Ask(side Side) int {
	if side == SideNo {
		return m.NoAsk
	}
	return m.YesAsk
}

// Bid 返回指定方向的买一价。
func (m Market) Bid(side Side) int {
	if side == SideNo {
		return m.NoBid
	}
	return m.YesBid
}

// Deadline 返回停止交易的时间，优先使用 close_time。
func (m Market) Deadline() time.Time {
	if !m.CloseTime.IsZero() {
		return m.CloseTime
	}
	return m.ExpirationTime
}

// TimeToExpiry 返回距停止交易的剩余时间。
func (m Market) TimeToExpiry(now time.Time) time.Duration {
	deadline := m.Deadline()
	if deadline.IsZero() {
		return 0
	}
	return deadline.Sub(now)
}

// Open 判断市场是否可交易。
func (m Market) Open() bool {
	switch strings.ToLower(m.Status) {
	case "open", "active", "":
		return true
	default:
		return false
	}
}

// Level 为订单簿的一档报价。
type Level struct {
	PriceCents int   `json:"price_cents"`
	Quantity   int64 `json:"quantity"`
}

// Orderbook 为 yes/no 两侧的买单深度，按价格从高到低排列。
type Orderbook struct {
	Ticker string  `json:"ticker"`
	Yes    []Level `json:"yes"`
	No     []Level `json:"no"`
}

// BestBid 返回指定方向的最高买价。
func (o Orderbook) BestBid(side Side) (int, bool) {
	levels := o.Yes
	if side == SideNo {
		levels = o.No
	}
	best := 0
	for _, l := range levels {
		if l.Quantity > 0 && l.PriceCents > best {
			best = l.PriceCents
		}
	}
	return best, best > 0
}

// Order 为账户中的挂单。
type Order struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Ticker        string `json:"ticker"`
	Side          Side   `json:"side"`
	Status        string `json:"status"`
	PriceCents    int    `json:"price_cents"`
	Remaining     int64  `json:"remaining_count"`
}

// OrderRequest 描述一次限价买入。
type OrderRequest struct {
	Ticker        string    `json:"ticker"`
	Side          Side      `json:"side"`
	Shares        int       `json:"shares"`
	PriceCents    int       `json:"price_cents"`
	ClientOrderID string    `json:"client_order_id"`
	Expiration    time.Time `json:"expiration,omitempty"`
}

// OrderResult 为交易所确认的下单结果。
type OrderResult struct {
	OrderID       string `json:"order_id"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	Paper         bool   `json:"paper,omitempty"`
}

// Position 为单个合约上的持仓。
type Position struct {
	Ticker string `json:"ticker"`
	Side   Side   `json:"side"`
	Count  int64  `json:"count"`
}

// HasPosition 判断持仓列表中是否存在指定合约的非零持仓。
func HasPosition(positions []Position, ticker string) bool {
	for _, p := range positions {
		if p.Ticker == ticker && p.Count != 0 {
			return true
		}
	}
	return false
}

// Settlement 为合约结算记录。
type Settlement struct {
	Ticker       string    `json:"ticker"`
	MarketResult string    `json:"market_result"`
	YesCount     int64     `json:"yes_count"`
	NoCount      int64     `json:"no_count"`
	RevenueCents int64     `json:"revenue_cents"`
	SettledTime  time.Time `json:"settled_time"`
}

// Winner 返回胜出方向；作废或未知结果返回 false。
func (s Settlement) Winner() (Side, bool) {
	return ParseSide(s.MarketResult)
}
