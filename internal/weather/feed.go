package weather

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DeterministicSource 为必需的确定性预报来源。
type DeterministicSource interface {
	Deterministic(ctx context.Context) (Deterministic, error)
}

// EnsembleSource 为尽力而为的集合预报来源。
type EnsembleSource interface {
	Ensemble(ctx context.Context) (Ensemble, error)
}

// OfficialSource 为尽力而为的官方预报来源。
type OfficialSource interface {
	Official(ctx context.Context) (Official, error)
}

// Feed 并发拉取三个来源并汇总为 Snapshot。
type Feed struct {
	city          string
	deterministic DeterministicSource
	ensemble      EnsembleSource
	official      OfficialSource
	wait          time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewFeed 创建天气聚合器。ensemble 与 official 可以为空。
func NewFeed(city string, det DeterministicSource, ens EnsembleSource, off OfficialSource, wait time.Duration, logger *zap.Logger) (*Feed, error) {
	if det == nil {
		return nil, errors.New("weather: 确定性预报来源不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if wait <= 0 {
		wait = 8 * time.Second
	}
	return &Feed{
		city:          city,
		deterministic: det,
		ensemble:      ens,
		official:      off,
		wait:          wait,
		logger:        logger,
		now:           time.Now,
	}, nil
}

// Forecast 同时发起三个请求。确定性来源失败返回错误；
// 另外两个来源在限定等待时间内未成功则各自缺省，不影响结果。
func (f *Feed) Forecast(ctx context.Context) (*Snapshot, error) {
	var (
		det    Deterministic
		ens    Ensemble
		off    Official
		ensErr error
		offErr error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	bestEffortCtx, cancel := context.WithTimeout(groupCtx, f.wait)
	defer cancel()

	group.Go(func() error {
		data, err := f.deterministic.Deterministic(groupCtx)
		if err != nil {
			return err
		}
		det = data
		return nil
	})

	if f.ensemble != nil {
		group.Go(func() error {
			ens, ensErr = f.ensemble.Ensemble(bestEffortCtx)
			return nil
		})
	} else {
		ensErr = errors.New("未配置集合预报来源")
	}

	if f.official != nil {
		group.Go(func() error {
			off, offErr = f.official.Official(bestEffortCtx)
			return nil
		})
	} else {
		offErr = errors.New("未配置官方预报来源")
	}

	if err := group.Wait(); err != nil {
		f.logger.Error("确定性天气预报获取失败", zap.Error(err))
		return nil, err
	}

	snap := &Snapshot{
		City:               f.city,
		FetchedAt:          f.now().UTC(),
		CurrentTempF:       det.CurrentTempF,
		DeterministicHighF: det.HighF,
		Hourly:             det.Hourly,
	}

	if ensErr != nil {
		f.logger.Warn("集合预报不可用，继续执行", zap.Error(ensErr))
		snap.Degraded = append(snap.Degraded, "ensemble")
	} else {
		ensCopy := ens
		snap.Ensemble = &ensCopy
	}

	if offErr != nil {
		f.logger.Warn("官方预报不可用，继续执行", zap.Error(offErr))
		snap.Degraded = append(snap.Degraded, "official")
	} else {
		snap.OfficialHighF = off.HighF
		snap.OfficialLowF = off.LowF
		snap.OfficialSummary = off.ShortForecast
	}

	f.logger.Info("天气数据已汇总",
		zap.String("city", f.city),
		zap.Float64("current_temp_f", snap.CurrentTempF),
		zap.Float64("deterministic_high_f", snap.DeterministicHighF),
		zap.Bool("has_ensemble", snap.Ensemble != nil),
		zap.Bool("has_official", snap.OfficialHighF != nil),
		zap.String("agreement", snap.Agreement()),
	)

	return snap, nil
}
