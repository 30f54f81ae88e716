package weather

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/config"
)

var errNoOfficialForecast = errors.New("官方预报未给出高低温")

// NWS 访问美国国家气象局点位预报。
type NWS struct {
	cfg  config.WeatherConfig
	http *http.Client
}

// NewNWS 创建 NWS 客户端。
func NewNWS(cfg config.WeatherConfig) *NWS {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NWS{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

// Official 先查询点位元数据获得预报地址，再读取前四个时段的白天最高与夜间最低。
func (n *NWS) Official(ctx context.Context) (Official, error) {
	pointsURL := fmt.Sprintf("%s/points/%.4f,%.4f", strings.TrimRight(n.cfg.NWSURL, "/"), n.cfg.Latitude, n.cfg.Longitude)

	var points struct {
		Properties struct {
			Forecast string `json:"forecast"`
		} `json:"properties"`
	}
	if err := getJSON(ctx, n.http, pointsURL, nil, n.cfg.UserAgent, &points); err != nil {
		return Official{}, apperr.New(apperr.KindDataUnavailable, "weather.nws_points", err)
	}
	if points.Properties.Forecast == "" {
		return Official{}, apperr.Newf(apperr.KindDataUnavailable, "weather.nws_points", "缺少预报地址")
	}

	var forecast struct {
		Properties struct {
			Periods []struct {
				IsDaytime     bool     `json:"isDaytime"`
				Temperature   *float64 `json:"temperature"`
				ShortForecast string   `json:"shortForecast"`
			} `json:"periods"`
		} `json:"properties"`
	}
	if err := getJSON(ctx, n.http, points.Properties.Forecast, nil, n.cfg.UserAgent, &forecast); err != nil {
		return Official{}, apperr.New(apperr.KindDataUnavailable, "weather.nws_forecast", err)
	}

	var out Official
	for i, p := range forecast.Properties.Periods {
		if i >= 4 {
			break
		}
		if p.IsDaytime && out.HighF == nil {
			out.HighF = p.Temperature
			out.ShortForecast = p.ShortForecast
		} else if !p.IsDaytime && out.LowF == nil {
			out.LowF = p.Temperature
		}
		if out.HighF != nil && out.LowF != nil {
			break
		}
	}

	if out.HighF == nil && out.LowF == nil {
		return Official{}, apperr.New(apperr.KindDataUnavailable, "weather.nws_forecast", errNoOfficialForecast)
	}
	return out, nil
}
