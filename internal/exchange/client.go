package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kalshi-weather/internal/config"
)

const (
	apiPrefix    = "/trade-api/v2"
	pageLimit    = 200
	maxPages     = 20
	maxBodyBytes = 4 << 20
)

// Client 为 Kalshi REST 客户端。
// 周期内不做自动重试，失败按类别交给上层处理。
type Client struct {
	cfg     config.ExchangeConfig
	baseURL string
	http    *http.Client
	signer  *Signer
	logger  *zap.Logger
	now     func() time.Time
}

// NewClient 构造 Kalshi 客户端。signer 为空时只能访问公开行情接口。
func NewClient(cfg config.ExchangeConfig, signer *Signer, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("exchange: base_url 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Market 获取单个合约。
func (c *Client) Market(ctx context.Context, ticker string) (Market, error) {
	var resp struct {
		Market wireMarket `json:"market"`
	}
	if err := c.do(ctx, "get_market", http.MethodGet, "/markets/"+url.PathEscape(ticker), nil, nil, &resp, false); err != nil {
		return Market{}, err
	}
	return resp.Market.toMarket(), nil
}

// ListOpenMarkets 列出系列下所有开放合约。
func (c *Client) ListOpenMarkets(ctx context.Context, series string) ([]Market, error) {
	markets := make([]Market, 0, 32)
	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("series_ticker", series)
		q.Set("status", "open")
		q.Set("limit", fmt.Sprint(pageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp struct {
			Markets []wireMarket `json:"markets"`
			Cursor  string       `json:"cursor"`
		}
		if err := c.do(ctx, "list_markets", http.MethodGet, "/markets", q, nil, &resp, false); err != nil {
			return nil, err
		}
		for _, m := range resp.Markets {
			markets = append(markets, m.toMarket())
		}
		if resp.Cursor == "" || len(resp.Markets) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return markets, nil
}

// Orderbook 获取合约深度。
func (c *Client) Orderbook(ctx context.Context, ticker string) (Orderbook, error) {
	var resp struct {
		Orderbook wireOrderbook `json:"orderbook"`
	}
	if err := c.do(ctx, "get_orderbook", http.MethodGet, "/markets/"+url.PathEscape(ticker)+"/orderbook", nil, nil, &resp, false); err != nil {
		return Orderbook{}, err
	}
	return resp.Orderbook.toOrderbook(ticker), nil
}

// RestingOrders 返回账户内所有挂单。
func (c *Client) RestingOrders(ctx context.Context) ([]Order, error) {
	q := url.Values{}
	q.Set("status", "resting")

	var resp struct {
		Orders []wireOrder `json:"orders"`
	}
	if err := c.do(ctx, "resting_orders", http.MethodGet, "/portfolio/orders", q, nil, &resp, true); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

// CancelOrder 撤销指定挂单。
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.do(ctx, "cancel_order", http.MethodDelete, "/portfolio/orders/"+url.PathEscape(orderID), nil, nil, nil, true)
}

// PlaceOrder 提交限价买单。
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	body := map[string]interface{}{
		"ticker":          req.Ticker,
		"client_order_id": req.ClientOrderID,
		"side":            string(req.Side),
		"action":          "buy",
		"count":           req.Shares,
		"type":            "limit",
	}
	if req.Side == SideNo {
		body["no_price"] = req.PriceCents
	} else {
		body["yes_price"] = req.PriceCents
	}
	if !req.Expiration.IsZero() {
		body["expiration_ts"] = req.Expiration.Unix()
	}

	var resp struct {
		Order wireOrder `json:"order"`
	}
	if err := c.do(ctx, "place_order", http.MethodPost, "/portfolio/orders", nil, body, &resp, true); err != nil {
		return OrderResult{}, err
	}
	if resp.Order.OrderID == "" {
		return OrderResult{}, classifyError("place_order", errors.New("交易所未返回 order_id"))
	}

	c.logger.Info("下单已被交易所接受",
		zap.String("ticker", req.Ticker),
		zap.String("side", string(req.Side)),
		zap.Int("shares", req.Shares),
		zap.Int("price_cents", req.PriceCents),
		zap.String("order_id", resp.Order.OrderID),
		zap.String("status", resp.Order.Status),
	)

	return OrderResult{
		OrderID:       resp.Order.OrderID,
		ClientOrderID: req.ClientOrderID,
		Status:        resp.Order.Status,
	}, nil
}

// Positions 返回账户持仓。
func (c *Client) Positions(ctx context.Context) ([]Position, error) {
	positions := make([]Position, 0, 8)
	cursor := ""
	for page := 0; page < maxPages; page++ {
		q := url.Values{}
		q.Set("limit", fmt.Sprint(pageLimit))
		if cursor != "" {
			q.Set("cursor", cursor)
		}

		var resp struct {
			MarketPositions []wirePosition `json:"market_positions"`
			Cursor          string         `json:"cursor"`
		}
		if err := c.do(ctx, "positions", http.MethodGet, "/portfolio/positions", q, nil, &resp, true); err != nil {
			return nil, err
		}
		for _, p := range resp.MarketPositions {
			if p.Position == 0 {
				continue
			}
			positions = append(positions, p.toPosition())
		}
		if resp.Cursor == "" || len(resp.MarketPositions) == 0 {
			break
		}
		cursor = resp.Cursor
	}
	return positions, nil
}

// Settlements 返回指定合约的结算记录。
func (c *Client) Settlements(ctx context.Context, ticker string) ([]Settlement, error) {
	q := url.Values{}
	q.Set("ticker", ticker)

	var resp struct {
		Settlements []wireSettlement `json:"settlements"`
	}
	if err := c.do(ctx, "settlements", http.MethodGet, "/portfolio/settlements", q, nil, &resp, true); err != nil {
		return nil, err
	}

	out := make([]Settlement, 0, len(resp.Settlements))
	for _, s := range resp.Settlements {
		if s.Ticker != "" && s.Ticker != ticker {
			continue
		}
		out = append(out, s.toSettlement())
	}
	return out, nil
}

// Balance 返回可用余额（美分）。
func (c *Client) Balance(ctx context.Context) (int64, error) {
	var resp struct {
		Balance int64 `json:"balance"`
	}
	if err := c.do(ctx, "balance", http.MethodGet, "/portfolio/balance", nil, nil, &resp, true); err != nil {
		return 0, err
	}
	return resp.Balance, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out interface{}, signed bool) error {
	start := time.Now()
	err := c.send(ctx, method, path, query, body, out, signed)
	latency := time.Since(start)
	if err != nil {
		classified := classifyError(op, err)
		c.logger.Warn("交易所调用失败",
			zap.String("operation", op),
			zap.Duration("latency", latency),
			zap.Error(classified),
		)
		return classified
	}

	c.logger.Debug("交易所调用完成",
		zap.String("operation", op),
		zap.Duration("latency", latency),
	)
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out interface{}, signed bool) error {
	if signed && c.signer == nil {
		return ErrNoSigner
	}

	endpoint := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.signer != nil {
		if err := c.signer.Apply(req, c.now()); err != nil {
			return err
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeStatusError(resp.StatusCode, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func decodeStatusError(status int, raw []byte) error {
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	statusErr := &StatusError{StatusCode: status}
	if json.Unmarshal(raw, &payload) == nil && payload.Error.Message != "" {
		statusErr.Code = payload.Error.Code
		statusErr.Message = payload.Error.Message
	} else {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if msg == "" {
			msg = http.StatusText(status)
		}
		statusErr.Message = msg
	}
	return statusErr
}
