package exchange

import (
	"context"

	"go.uber.org/zap"

	"kalshi-weather/internal/id"
)

const paperOrderPrefix = "paper-"

// Paper 为模拟盘交易所：行情与账户查询走真实接口，下单只在本地生成回执。
// 未配置签名密钥时，余额取 bankroll，持仓视为空。
type Paper struct {
	client   *Client
	bankroll int64
	logger   *zap.Logger
}

// NewPaper 包装真实客户端。
func NewPaper(client *Client, bankrollCents int64, logger *zap.Logger) *Paper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paper{client: client, bankroll: bankrollCents, logger: logger}
}

// ActiveMarket 委托真实客户端。
func (p *Paper) ActiveMarket(ctx context.Context) (*Market, error) {
	return p.client.ActiveMarket(ctx)
}

// Orderbook 委托真实客户端。
func (p *Paper) Orderbook(ctx context.Context, ticker string) (Orderbook, error) {
	return p.client.Orderbook(ctx, ticker)
}

// RestingOrders 模拟单从不挂单，且不能触碰账户中的真实挂单。
func (p *Paper) RestingOrders(context.Context) ([]Order, error) {
	return nil, nil
}

// CancelOrder 在模拟盘中为空操作。
func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.logger.Debug("模拟盘忽略撤单", zap.String("order_id", orderID))
	return nil
}

// PlaceOrder 生成模拟回执，不访问交易所。
func (p *Paper) PlaceOrder(_ context.Context, req OrderRequest) (OrderResult, error) {
	orderID := paperOrderPrefix + id.New()
	p.logger.Info("模拟盘下单",
		zap.String("ticker", req.Ticker),
		zap.String("side", string(req.Side)),
		zap.Int("shares", req.Shares),
		zap.Int("price_cents", req.PriceCents),
		zap.String("order_id", orderID),
	)
	return OrderResult{
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Status:        "executed",
		Paper:         true,
	}, nil
}

// Positions 有密钥时委托真实客户端。
func (p *Paper) Positions(ctx context.Context) ([]Position, error) {
	if p.client.signer == nil {
		return nil, nil
	}
	return p.client.Positions(ctx)
}

// Settlements 根据合约公布的结果合成结算记录，账户中不存在模拟单的真实结算。
func (p *Paper) Settlements(ctx context.Context, ticker string) ([]Settlement, error) {
	m, err := p.client.Market(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if m.Result == "" {
		return nil, nil
	}
	return []Settlement{{
		Ticker:       ticker,
		MarketResult: m.Result,
		SettledTime:  m.Deadline(),
	}}, nil
}

// Balance 有密钥时委托真实客户端，否则返回模拟资金。
func (p *Paper) Balance(ctx context.Context) (int64, error) {
	if p.client.signer == nil {
		return p.bankroll, nil
	}
	return p.client.Balance(ctx)
}
