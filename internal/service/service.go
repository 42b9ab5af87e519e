package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"greeks-watch/internal/config"
	"greeks-watch/internal/deribit"
	"greeks-watch/internal/metrics"
	"greeks-watch/internal/monitor"
)

// PositionSource supplies current account positions.
type PositionSource interface {
	Positions(ctx context.Context, currency, kind string) ([]deribit.Position, error)
}

// DvolSource supplies the current volatility index observation.
type DvolSource interface {
	DVOL(ctx context.Context, currency string) (*deribit.DvolObservation, error)
}

// Service runs one poll cycle: fetch positions and the volatility index,
// hand each observation to the evaluator. Everything is sequential; an
// absent observation skips only its own branch.
type Service struct {
	positions    PositionSource
	dvol         DvolSource
	evaluator    *monitor.Evaluator
	currencies   []string
	dvolCurrency string
	logger       zerolog.Logger
	now          func() time.Time
}

// New constructs the monitoring service.
func New(cfg *config.Config, positions PositionSource, dvol DvolSource, evaluator *monitor.Evaluator, logger zerolog.Logger) *Service {
	dvolCurrency := cfg.Deribit.DvolCurrency
	if dvolCurrency == "" {
		dvolCurrency = "BTC"
	}
	return &Service{
		positions:    positions,
		dvol:         dvol,
		evaluator:    evaluator,
		currencies:   cfg.Deribit.Currencies,
		dvolCurrency: dvolCurrency,
		logger:       logger.With().Str("component", "service").Logger(),
		now:          time.Now,
	}
}

// RunCycle 执行一次监控循环。Fetch failures degrade to a partial cycle and
// are reported once at the end; they never escalate past the caller's log.
func (s *Service) RunCycle(ctx context.Context) error {
	now := float64(s.now().UnixNano()) / float64(time.Second)
	failures := 0

	total := 0
	for _, currency := range s.currencies {
		positions, err := s.positions.Positions(ctx, currency, "option")
		if err != nil {
			failures++
			s.logger.Warn().Err(err).Str("currency", currency).Msg("获取持仓失败，跳过该币种")
			continue
		}
		total += len(positions)
		for _, pos := range positions {
			s.evaluator.CheckPosition(ctx, pos, now)
		}
	}
	if total > 0 {
		s.logger.Info().Int("positions", total).Msg("期权持仓检查完成")
	}

	obs, err := s.dvol.DVOL(ctx, s.dvolCurrency)
	if err != nil {
		failures++
		s.logger.Warn().Err(err).Msg("获取 DVOL 数据失败，本轮跳过")
	} else if obs != nil {
		s.evaluator.CheckDvol(ctx, *obs, now)
	}

	metrics.PollCycles.Inc()
	if failures > 0 {
		metrics.PollCycleErrors.Inc()
		return fmt.Errorf("poll cycle completed with %d failed fetches", failures)
	}
	return nil
}
