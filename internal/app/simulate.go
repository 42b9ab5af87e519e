package app

import (
	"context"
	"errors"

	"greeks-watch/internal/deribit"
	"greeks-watch/internal/monitor"
	"greeks-watch/internal/service"
)

// Simulate 用给定的 Gamma/Vega/DVOL 值驱动一次完整的评估流程。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	store := a.newStateStore()
	evaluator := monitor.NewEvaluator(a.Config, store, notifier, nil, a.Logger)

	src := &staticSource{
		position: deribit.Position{
			InstrumentName: opts.Instrument,
			Kind:           "option",
			Direction:      "buy",
			Size:           1,
			Gamma:          opts.Gamma,
			Vega:           opts.Vega,
		},
		dvol: opts.Dvol,
	}

	svc := service.New(a.Config, src, src, evaluator, a.Logger)
	return svc.RunCycle(ctx)
}

type staticSource struct {
	position deribit.Position
	dvol     float64
}

func (s *staticSource) Positions(ctx context.Context, currency, kind string) ([]deribit.Position, error) {
	// The simulated position is reported once, under the first currency.
	if currency != "BTC" {
		return nil, nil
	}
	return []deribit.Position{s.position}, nil
}

func (s *staticSource) DVOL(ctx context.Context, currency string) (*deribit.DvolObservation, error) {
	return &deribit.DvolObservation{Value: s.dvol, Timestamp: 0}, nil
}

var _ service.PositionSource = (*staticSource)(nil)
var _ service.DvolSource = (*staticSource)(nil)
