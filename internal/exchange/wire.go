package exchange

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type wireMarket struct {
	Ticker          string   `json:"ticker"`
	EventTicker     string   `json:"event_ticker"`
	Title           string   `json:"title"`
	Status          string   `json:"status"`
	StrikeType      string   `json:"strike_type"`
	FloorStrike     *float64 `json:"floor_strike"`
	CapStrike       *float64 `json:"cap_strike"`
	YesBid          *int     `json:"yes_bid"`
	YesAsk          *int     `json:"yes_ask"`
	NoBid           *int     `json:"no_bid"`
	NoAsk           *int     `json:"no_ask"`
	LastPrice       *int     `json:"last_price"`
	YesBidDollars   string   `json:"yes_bid_dollars"`
	YesAskDollars   string   `json:"yes_ask_dollars"`
	NoBidDollars    string   `json:"no_bid_dollars"`
	NoAskDollars    string   `json:"no_ask_dollars"`
	LastPriceDollar string   `json:"last_price_dollars"`
	Volume          int64    `json:"volume"`
	Volume24h       int64    `json:"volume_24h"`
	OpenInterest    int64    `json:"open_interest"`
	CloseTime       string   `json:"close_time"`
	ExpirationTime  string   `json:"expiration_time"`
	Result          string   `json:"result"`
}

func (w wireMarket) toMarket() Market {
	return Market{
		Ticker:         w.Ticker,
		EventTicker:    w.EventTicker,
		Title:          w.Title,
		Status:         w.Status,
		StrikeType:     w.StrikeType,
		FloorStrike:    w.FloorStrike,
		CapStrike:      w.CapStrike,
		YesBid:         pickCents(w.YesBid, w.YesBidDollars),
		YesAsk:         pickCents(w.YesAsk, w.YesAskDollars),
		NoBid:          pickCents(w.NoBid, w.NoBidDollars),
		NoAsk:          pickCents(w.NoAsk, w.NoAskDollars),
		LastPrice:      pickCents(w.LastPrice, w.LastPriceDollar),
		Volume:         w.Volume,
		Volume24h:      w.Volume24h,
		OpenInterest:   w.OpenInterest,
		CloseTime:      parseTime(w.CloseTime),
		ExpirationTime: parseTime(w.ExpirationTime),
		Result:         strings.ToLower(w.Result),
	}
}

type wireOrderbook struct {
	Yes        [][]json.Number `json:"yes"`
	No         [][]json.Number `json:"no"`
	YesDollars [][]json.Number `json:"yes_dollars"`
	NoDollars  [][]json.Number `json:"no_dollars"`
}

func (w wireOrderbook) toOrderbook(ticker string) Orderbook {
	yes := toLevels(w.Yes, false)
	if len(yes) == 0 {
		yes = toLevels(w.YesDollars, true)
	}
	no := toLevels(w.No, false)
	if len(no) == 0 {
		no = toLevels(w.NoDollars, true)
	}
	return Orderbook{Ticker: ticker, Yes: yes, No: no}
}

func toLevels(raw [][]json.Number, dollars bool) []Level {
	levels := make([]Level, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		var price int
		if dollars {
			cents, ok := DollarsToCents(pair[0].String())
			if !ok {
				continue
			}
			price = cents
		} else {
			p, err := pair[0].Int64()
			if err != nil {
				continue
			}
			price = int(p)
		}
		qty, err := pair[1].Int64()
		if err != nil {
			if f, ferr := pair[1].Float64(); ferr == nil {
				qty = int64(f)
			} else {
				continue
			}
		}
		if price <= 0 || price > 100 || qty <= 0 {
			continue
		}
		levels = append(levels, Level{PriceCents: price, Quantity: qty})
	}
	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].PriceCents > levels[j].PriceCents
	})
	return levels
}

type wireOrder struct {
	OrderID        string `json:"order_id"`
	ClientOrderID  string `json:"client_order_id"`
	Ticker         string `json:"ticker"`
	Side           string `json:"side"`
	Status         string `json:"status"`
	YesPrice       int    `json:"yes_price"`
	NoPrice        int    `json:"no_price"`
	RemainingCount int64  `json:"remaining_count"`
}

func (w wireOrder) toOrder() Order {
	side, _ := ParseSide(w.Side)
	price := w.YesPrice
	if side == SideNo {
		price = w.NoPrice
	}
	return Order{
		OrderID:       w.OrderID,
		ClientOrderID: w.ClientOrderID,
		Ticker:        w.Ticker,
		Side:          side,
		Status:        w.Status,
		PriceCents:    price,
		Remaining:     w.RemainingCount,
	}
}

type wirePosition struct {
	Ticker   string `json:"ticker"`
	Position int64  `json:"position"`
}

// toPosition 将带符号持仓转换为方向与数量，正数为 yes。
func (w wirePosition) toPosition() Position {
	if w.Position < 0 {
		return Position{Ticker: w.Ticker, Side: SideNo, Count: -w.Position}
	}
	return Position{Ticker: w.Ticker, Side: SideYes, Count: w.Position}
}

type wireSettlement struct {
	Ticker       string `json:"ticker"`
	MarketResult string `json:"market_result"`
	YesCount     int64  `json:"yes_count"`
	NoCount      int64  `json:"no_count"`
	Revenue      int64  `json:"revenue"`
	SettledTime  string `json:"settled_time"`
}

func (w wireSettlement) toSettlement() Settlement {
	return Settlement{
		Ticker:       w.Ticker,
		MarketResult: strings.ToLower(w.MarketResult),
		YesCount:     w.YesCount,
		NoCount:      w.NoCount,
		RevenueCents: w.Revenue,
		SettledTime:  parseTime(w.SettledTime),
	}
}

// DollarsToCents 将 "0.3500" 形式的美元字符串转换为整数美分。
func DollarsToCents(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, false
	}
	return int(d.Mul(hundred).Round(0).IntPart()), true
}

func pickCents(cents *int, dollars string) int {
	if cents != nil {
		return *cents
	}
	if v, ok := DollarsToCents(dollars); ok {
		return v
	}
	return 0
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}
