package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"greeks-watch/internal/config"
	"greeks-watch/internal/deribit"
	"greeks-watch/internal/monitor"
	"greeks-watch/internal/statestore"
)

type fakePositions struct {
	byCurrency map[string][]deribit.Position
	errs       map[string]error
	calls      []string
}

func (f *fakePositions) Positions(_ context.Context, currency, _ string) ([]deribit.Position, error) {
	f.calls = append(f.calls, currency)
	if err := f.errs[currency]; err != nil {
		return nil, err
	}
	return f.byCurrency[currency], nil
}

type fakeDvol struct {
	obs *deribit.DvolObservation
	err error
}

func (f *fakeDvol) DVOL(context.Context, string) (*deribit.DvolObservation, error) {
	return f.obs, f.err
}

func serviceConfig() *config.Config {
	return &config.Config{
		Deribit: config.DeribitConfig{
			Currencies:   []string{"BTC", "ETH"},
			DvolCurrency: "BTC",
		},
		Thresholds: config.ThresholdsConfig{
			Gamma: config.TierThresholds{Light: 0.0001, Medium: 0.0005, Heavy: 0.001},
			Vega:  config.TierThresholds{Light: 10, Medium: 30, Heavy: 50},
			Dvol: config.DvolThresholds{
				AbsValue:    60,
				PctChange5m: 0.05,
				AbsChange5m: 5.0,
			},
		},
		Alerting: config.AlertingConfig{Enabled: false, Cooldown: 5 * time.Minute},
		Store:    config.StoreConfig{Retention: time.Hour},
	}
}

func newTestService(t *testing.T, cfg *config.Config, positions *fakePositions, dvol *fakeDvol) (*Service, *statestore.Store) {
	t.Helper()
	store := statestore.New(filepath.Join(t.TempDir(), "state.json"), cfg.Store.Retention, zerolog.Nop())
	evaluator := monitor.NewEvaluator(cfg, store, nil, nil, zerolog.Nop())
	return New(cfg, positions, dvol, evaluator, zerolog.Nop()), store
}

func TestRunCycleRecordsObservations(t *testing.T) {
	positions := &fakePositions{
		byCurrency: map[string][]deribit.Position{
			"BTC": {{InstrumentName: "BTC-26DEC26-60000-C", Gamma: 0.0002, Vega: 5, Size: 1}},
			"ETH": {{InstrumentName: "ETH-26DEC26-3000-P", Gamma: 0.00005, Vega: 2, Size: 1}},
		},
		errs: map[string]error{},
	}
	dvol := &fakeDvol{obs: &deribit.DvolObservation{Value: 55, Timestamp: 1000}}

	svc, store := newTestService(t, serviceConfig(), positions, dvol)

	if err := svc.RunCycle(context.Background()); err != nil {
		t.Fatalf("无故障周期不应报错: %v", err)
	}

	if len(positions.calls) != 2 {
		t.Fatalf("应轮询全部配置币种, 实际 %v", positions.calls)
	}
	if _, ok := store.Latest("BTC-26DEC26-60000-C"); !ok {
		t.Fatal("BTC 持仓观测应写入存储")
	}
	if _, ok := store.Latest("ETH-26DEC26-3000-P"); !ok {
		t.Fatal("ETH 持仓观测应写入存储")
	}
	if _, ok := store.Latest("dvol"); !ok {
		t.Fatal("DVOL 观测应写入存储")
	}
}

func TestRunCycleCurrencyFailureIsPartial(t *testing.T) {
	positions := &fakePositions{
		byCurrency: map[string][]deribit.Position{
			"ETH": {{InstrumentName: "ETH-26DEC26-3000-P", Gamma: 0.0002, Size: 1}},
		},
		errs: map[string]error{"BTC": errors.New("502 bad gateway")},
	}
	dvol := &fakeDvol{obs: &deribit.DvolObservation{Value: 55, Timestamp: 1000}}

	svc, store := newTestService(t, serviceConfig(), positions, dvol)

	err := svc.RunCycle(context.Background())
	if err == nil {
		t.Fatal("部分失败的周期应返回汇总错误")
	}

	// 失败币种不影响其余分支
	if _, ok := store.Latest("ETH-26DEC26-3000-P"); !ok {
		t.Fatal("未失败币种仍应处理")
	}
	if _, ok := store.Latest("dvol"); !ok {
		t.Fatal("DVOL 分支不应受持仓失败影响")
	}
}

func TestRunCycleDvolAbsenceLeavesStoreUntouched(t *testing.T) {
	positions := &fakePositions{byCurrency: map[string][]deribit.Position{}, errs: map[string]error{}}
	dvol := &fakeDvol{err: errors.New("volatility index unavailable")}

	svc, store := newTestService(t, serviceConfig(), positions, dvol)

	if err := svc.RunCycle(context.Background()); err == nil {
		t.Fatal("DVOL 获取失败应计入周期错误")
	}
	// 缺失观测不产生任何状态或告警
	if _, ok := store.Latest("dvol"); ok {
		t.Fatal("缺失观测不应写入存储")
	}
}
