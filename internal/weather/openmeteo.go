package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/config"
)

const (
	hourlyLayout = "2006-01-02T15:04"
	maxBodyBytes = 8 << 20
)

// OpenMeteo 访问 Open-Meteo 确定性与集合预报接口。
type OpenMeteo struct {
	cfg    config.WeatherConfig
	loc    *time.Location
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewOpenMeteo 创建 Open-Meteo 客户端。
func NewOpenMeteo(cfg config.WeatherConfig, logger *zap.Logger) (*OpenMeteo, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("weather: 加载时区 %q 失败: %w", cfg.Timezone, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &OpenMeteo{
		cfg:    cfg,
		loc:    loc,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}, nil
}

type hourlyBlock struct {
	Time        []string   `json:"time"`
	Temperature []*float64 `json:"temperature_2m"`
}

// Deterministic 获取当前温度与当日逐小时预报。
func (o *OpenMeteo) Deterministic(ctx context.Context) (Deterministic, error) {
	q := o.baseQuery()
	q.Set("current", "temperature_2m")

	var resp struct {
		Current struct {
			Temperature *float64 `json:"temperature_2m"`
		} `json:"current"`
		Hourly hourlyBlock `json:"hourly"`
	}
	if err := getJSON(ctx, o.http, o.cfg.ForecastURL, q, "", &resp); err != nil {
		return Deterministic{}, apperr.New(apperr.KindDataUnavailable, "weather.deterministic", err)
	}
	if resp.Current.Temperature == nil {
		return Deterministic{}, apperr.Newf(apperr.KindDataUnavailable, "weather.deterministic", "缺少当前温度")
	}

	today := o.today()
	hourly := make([]HourlyPoint, 0, 24)
	high := math.Inf(-1)
	for i, raw := range resp.Hourly.Time {
		if !strings.HasPrefix(raw, today) || i >= len(resp.Hourly.Temperature) || resp.Hourly.Temperature[i] == nil {
			continue
		}
		temp := *resp.Hourly.Temperature[i]
		ts, err := time.ParseInLocation(hourlyLayout, raw, o.loc)
		if err != nil {
			continue
		}
		hourly = append(hourly, HourlyPoint{Time: ts, TempF: temp})
		if temp > high {
			high = temp
		}
	}
	if math.IsInf(high, -1) {
		return Deterministic{}, apperr.Newf(apperr.KindDataUnavailable, "weather.deterministic", "缺少 %s 的逐小时数据", today)
	}

	return Deterministic{
		CurrentTempF: *resp.Current.Temperature,
		HighF:        high,
		Hourly:       hourly,
	}, nil
}

// Ensemble 获取多模型集合成员并汇总当日最高温分布。
func (o *OpenMeteo) Ensemble(ctx context.Context) (Ensemble, error) {
	q := o.baseQuery()
	if len(o.cfg.EnsembleModels) > 0 {
		q.Set("models", strings.Join(o.cfg.EnsembleModels, ","))
	}

	var resp struct {
		Hourly map[string]json.RawMessage `json:"hourly"`
	}
	if err := getJSON(ctx, o.http, o.cfg.EnsembleURL, q, "", &resp); err != nil {
		return Ensemble{}, apperr.New(apperr.KindDataUnavailable, "weather.ensemble", err)
	}

	var times []string
	if raw, ok := resp.Hourly["time"]; ok {
		if err := json.Unmarshal(raw, &times); err != nil {
			return Ensemble{}, apperr.New(apperr.KindDataUnavailable, "weather.ensemble", err)
		}
	}

	today := o.today()
	indices := make([]int, 0, 24)
	for i, t := range times {
		if strings.HasPrefix(t, today) {
			indices = append(indices, i)
		}
	}

	highs := make([]float64, 0, 128)
	for key, raw := range resp.Hourly {
		if key == "time" || !strings.HasPrefix(key, "temperature_2m") {
			continue
		}
		var series []*float64
		if err := json.Unmarshal(raw, &series); err != nil {
			o.logger.Debug("跳过无法解析的集合成员", zap.String("member", key), zap.Error(err))
			continue
		}
		high := math.Inf(-1)
		for _, idx := range indices {
			if idx < len(series) && series[idx] != nil && *series[idx] > high {
				high = *series[idx]
			}
		}
		if !math.IsInf(high, -1) {
			highs = append(highs, high)
		}
	}

	summary, ok := Summarize(highs)
	if !ok {
		return Ensemble{}, apperr.Newf(apperr.KindDataUnavailable, "weather.ensemble", "没有可用的集合成员")
	}
	return summary, nil
}

func (o *OpenMeteo) baseQuery() url.Values {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(o.cfg.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(o.cfg.Longitude, 'f', -1, 64))
	q.Set("hourly", "temperature_2m")
	q.Set("temperature_unit", "fahrenheit")
	q.Set("timezone", o.cfg.Timezone)
	q.Set("forecast_days", "2")
	return q
}

func (o *OpenMeteo) today() string {
	return o.now().In(o.loc).Format("2006-01-02")
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, query url.Values, userAgent string, out interface{}) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n]
}
