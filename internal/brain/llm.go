package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/config"
	"kalshi-weather/internal/exchange"
)

// LLM 通过 OpenAI 协议的大模型生成决定，输出须通过严格校验。
type LLM struct {
	cfg    config.OpenAIConfig
	params Params
	logger *zap.Logger
	sdk    *openai.Client
	now    func() time.Time
}

// NewLLM 使用给定配置创建大模型决策引擎。
func NewLLM(cfg config.OpenAIConfig, params Params, logger *zap.Logger) (*LLM, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api_key 不能为空")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model 不能为空")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sdkConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		sdkConfig.BaseURL = cfg.BaseURL
	}
	sdkConfig.HTTPClient = &http.Client{
		Timeout: cfg.Timeout + 5*time.Second,
	}

	return &LLM{
		cfg:    cfg,
		params: params,
		logger: logger,
		sdk:    openai.NewClientWithConfig(sdkConfig),
		now:    time.Now,
	}, nil
}

// llmDecision 为模型输出的 JSON 结构。
type llmDecision struct {
	Action        string `json:"action"`
	Side          string `json:"side"`
	Shares        int    `json:"shares"`
	MaxPriceCents int    `json:"max_price_cents"`
	Reasoning     string `json:"reasoning"`
}

// Decide 实现 Brain。
func (l *LLM) Decide(ctx context.Context, dc DecisionContext) (TradeDecision, error) {
	prompt, err := BuildPrompt(dc, l.params, l.now())
	if err != nil {
		return TradeDecision{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	response, err := l.sdk.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: l.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens:   l.cfg.MaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		l.logger.Error("调用大模型失败", zap.Error(err))
		return TradeDecision{}, apperr.New(apperr.KindNetwork, "brain.llm", err)
	}
	if len(response.Choices) == 0 {
		return TradeDecision{}, apperr.Newf(apperr.KindDataUnavailable, "brain.llm", "大模型返回结果为空")
	}

	raw := strings.TrimSpace(response.Choices[0].Message.Content)
	decision, err := parseDecision(raw)
	if err != nil {
		l.logger.Error("解析模型决策失败",
			zap.Error(err),
			zap.String("raw_content", raw),
		)
		return TradeDecision{}, apperr.New(apperr.KindInvalidInput, "brain.llm", err)
	}

	l.logger.Info("大模型决策生成成功",
		zap.String("action", string(decision.Action)),
		zap.String("side", string(decision.Side)),
		zap.Int("shares", decision.Shares),
		zap.Int("max_price_cents", decision.MaxPriceCents),
	)
	return decision, nil
}

func parseDecision(content string) (TradeDecision, error) {
	payload, err := extractJSON(content)
	if err != nil {
		return TradeDecision{}, err
	}

	var out llmDecision
	if err := json.Unmarshal(payload, &out); err != nil {
		return TradeDecision{}, fmt.Errorf("解析决策JSON失败: %w", err)
	}
	return out.validate()
}

func (d llmDecision) validate() (TradeDecision, error) {
	reason := strings.TrimSpace(d.Reasoning)
	switch strings.ToLower(strings.TrimSpace(d.Action)) {
	case string(ActionPass):
		if reason == "" {
			reason = "模型选择观望"
		}
		return TradeDecision{Action: ActionPass, Reason: reason}, nil
	case string(ActionBuy):
	default:
		return TradeDecision{}, fmt.Errorf("action 字段取值非法: %q", d.Action)
	}

	side, ok := exchange.ParseSide(d.Side)
	if !ok {
		return TradeDecision{}, fmt.Errorf("side 字段取值非法: %q", d.Side)
	}
	if d.Shares < 1 {
		return TradeDecision{}, fmt.Errorf("shares 必须为正整数，当前为 %d", d.Shares)
	}
	if d.MaxPriceCents <= 0 || d.MaxPriceCents > 100 {
		return TradeDecision{}, fmt.Errorf("max_price_cents 必须位于 (0,100]，当前为 %d", d.MaxPriceCents)
	}
	if reason == "" {
		return TradeDecision{}, errors.New("reasoning 不能为空")
	}

	return TradeDecision{
		Action:        ActionBuy,
		Side:          side,
		Shares:        d.Shares,
		MaxPriceCents: d.MaxPriceCents,
		Reason:        reason,
	}, nil
}

func extractJSON(content string) ([]byte, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")

	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("模型输出未找到有效JSON: %s", content)
	}

	return []byte(content[start : end+1]), nil
}
