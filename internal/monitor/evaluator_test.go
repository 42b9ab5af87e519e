package monitor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"greeks-watch/internal/alerting"
	"greeks-watch/internal/config"
	"greeks-watch/internal/deribit"
	"greeks-watch/internal/statestore"
)

type fakeStore struct {
	series map[string][]statestore.Entry
	alerts map[string]float64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		series: make(map[string][]statestore.Entry),
		alerts: make(map[string]float64),
	}
}

func (f *fakeStore) Set(key string, value any, ts float64) {
	f.series[key] = append(f.series[key], statestore.Entry{Value: value, Timestamp: ts})
}

func (f *fakeStore) History(key string, _ int) []statestore.Entry {
	return f.series[key]
}

func (f *fakeStore) ValueNear(key string, target float64) (any, bool) {
	history := f.series[key]
	if len(history) == 0 {
		return nil, false
	}
	best := history[0]
	for _, h := range history[1:] {
		if math.Abs(h.Timestamp-target) < math.Abs(best.Timestamp-target) {
			best = h
		}
	}
	return best.Value, true
}

func (f *fakeStore) LastAlertTime(key string) (float64, bool) {
	ts, ok := f.alerts[key]
	return ts, ok
}

func (f *fakeStore) SetLastAlertTime(key string, ts float64) {
	f.alerts[key] = ts
}

type fakeNotifier struct {
	sent []alerting.Notification
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, note)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Thresholds: config.ThresholdsConfig{
			Gamma: config.TierThresholds{Light: 0.0001, Medium: 0.0005, Heavy: 0.001},
			Vega:  config.TierThresholds{Light: 10, Medium: 30, Heavy: 50},
			Dvol: config.DvolThresholds{
				AbsValue:          60,
				PctChange5m:       0.05,
				AbsChange5m:       5.0,
				SpecificTolerance: 0.5,
			},
		},
		Alerting: config.AlertingConfig{
			Enabled:  true,
			Cooldown: 5 * time.Minute,
		},
	}
}

func newTestEvaluator(cfg *config.Config, store *fakeStore, notifier *fakeNotifier) *Evaluator {
	return NewEvaluator(cfg, store, notifier, nil, zerolog.Nop())
}

func TestCheckPositionClassifiesMagnitude(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(testConfig(), store, notifier)

	// gamma 取绝对值后落在中度档, vega 低于轻度档
	pos := deribit.Position{
		InstrumentName: "BTC-26DEC26-60000-C",
		Direction:      "sell",
		Size:           3,
		Gamma:          -0.0007,
		Vega:           5,
	}
	e.CheckPosition(context.Background(), pos, 1000)

	if len(notifier.sent) != 1 {
		t.Fatalf("期望 1 条告警, 实际 %d", len(notifier.sent))
	}
	if _, ok := store.alerts["BTC-26DEC26-60000-C_gamma_level_medium"]; !ok {
		t.Fatal("中度 gamma 告警应记录冷却时间")
	}

	// 观测值总是写入基线, 无论是否触发告警
	entries := store.series["BTC-26DEC26-60000-C"]
	if len(entries) != 1 {
		t.Fatalf("持仓观测应写入存储, 实际 %d 条", len(entries))
	}
	m, ok := entries[0].Value.(statestore.InstrumentMetrics)
	if !ok {
		t.Fatalf("观测值类型不符: %T", entries[0].Value)
	}
	if m.Gamma != -0.0007 {
		t.Fatalf("存储应保留原始符号, 实际 %v", m.Gamma)
	}
}

func TestCheckPositionBelowAllTiers(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(testConfig(), store, notifier)

	pos := deribit.Position{InstrumentName: "ETH-26DEC26-3000-P", Gamma: 0.00005, Vega: 1}
	e.CheckPosition(context.Background(), pos, 1000)

	if len(notifier.sent) != 0 {
		t.Fatalf("低于所有阈值不应告警, 实际 %d 条", len(notifier.sent))
	}
	if len(store.series["ETH-26DEC26-3000-P"]) != 1 {
		t.Fatal("未触发告警仍应记录观测")
	}
}

func TestCooldownSuppressesRepeat(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(testConfig(), store, notifier)

	pos := deribit.Position{InstrumentName: "BTC-26DEC26-60000-C", Gamma: 0.002}

	e.CheckPosition(context.Background(), pos, 1000)
	e.CheckPosition(context.Background(), pos, 1060) // 冷却期内
	if len(notifier.sent) != 1 {
		t.Fatalf("冷却期内重复告警应被抑制, 实际 %d 条", len(notifier.sent))
	}

	e.CheckPosition(context.Background(), pos, 1000+301) // 超过 300s 冷却
	if len(notifier.sent) != 2 {
		t.Fatalf("冷却期满后应再次告警, 实际 %d 条", len(notifier.sent))
	}
}

func TestDeliveryFailureDoesNotRecordCooldown(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{err: errors.New("webhook down")}
	e := newTestEvaluator(testConfig(), store, notifier)

	pos := deribit.Position{InstrumentName: "BTC-26DEC26-60000-C", Gamma: 0.002}
	e.CheckPosition(context.Background(), pos, 1000)

	if len(store.alerts) != 0 {
		t.Fatal("发送失败不应记录冷却时间")
	}

	// 通道恢复后下一周期立即重试
	notifier.err = nil
	e.CheckPosition(context.Background(), pos, 1060)
	if len(notifier.sent) != 1 {
		t.Fatalf("恢复后应立即发出告警, 实际 %d 条", len(notifier.sent))
	}
}

func TestDisabledAlertingStillEvaluates(t *testing.T) {
	cfg := testConfig()
	cfg.Alerting.Enabled = false
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(cfg, store, notifier)

	pos := deribit.Position{InstrumentName: "BTC-26DEC26-60000-C", Gamma: 0.002}
	e.CheckPosition(context.Background(), pos, 1000)

	if len(notifier.sent) != 0 {
		t.Fatal("告警禁用时不应发送")
	}
	if len(store.alerts) != 0 {
		t.Fatal("告警禁用时不应记录冷却时间")
	}
	if len(store.series["BTC-26DEC26-60000-C"]) != 1 {
		t.Fatal("告警禁用时仍应记录观测")
	}
}

func TestCheckDvolFirstObservationOnlyRecords(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(testConfig(), store, notifier)

	e.CheckDvol(context.Background(), deribit.DvolObservation{Value: 80, Timestamp: 1000}, 1000)

	if len(notifier.sent) != 0 {
		t.Fatal("首次观测没有基线, 不应告警")
	}
	if len(store.series["dvol"]) != 1 {
		t.Fatal("首次观测应记录基线")
	}
}

func TestCheckDvolAbsValueRule(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(testConfig(), store, notifier)

	store.Set("dvol", 59.0, 700) // 5 分钟前
	e.CheckDvol(context.Background(), deribit.DvolObservation{Value: 61, Timestamp: 1000}, 1000)

	if len(notifier.sent) != 1 {
		t.Fatalf("DVOL 61 应触发绝对值预警, 实际 %d 条", len(notifier.sent))
	}
	if _, ok := store.alerts["dvol_abs_value"]; !ok {
		t.Fatal("绝对值预警键应记录冷却时间")
	}
}

func TestCheckDvolSpecificValueRule(t *testing.T) {
	cfg := testConfig()
	cfg.Thresholds.Dvol.SpecificValues = []float64{65}
	cfg.Thresholds.Dvol.AbsValue = 0 // 关闭绝对值规则, 隔离特定值规则
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(cfg, store, notifier)

	store.Set("dvol", 64.8, 700)
	e.CheckDvol(context.Background(), deribit.DvolObservation{Value: 65.3, Timestamp: 1000}, 1000)

	if len(notifier.sent) != 1 {
		t.Fatalf("容差内的特定值应触发预警, 实际 %d 条", len(notifier.sent))
	}
	if _, ok := store.alerts["dvol_specific_65"]; !ok {
		t.Fatal("特定值预警键不符")
	}
}

func TestCheckDvolChangeRule(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(testConfig(), store, notifier)

	// 50 → 55.5: 百分比 +11% 超过 5%, 绝对变化 5.5 超过 5.0
	store.Set("dvol", 50.0, 700)
	e.CheckDvol(context.Background(), deribit.DvolObservation{Value: 55.5, Timestamp: 1000}, 1000)

	if len(notifier.sent) != 1 {
		t.Fatalf("5 分钟异动应触发预警, 实际 %d 条", len(notifier.sent))
	}
	if _, ok := store.alerts["dvol_change"]; !ok {
		t.Fatal("异动预警键不符")
	}
}

func TestCheckDvolIndependentRulesCanBothFire(t *testing.T) {
	cfg := testConfig()
	cfg.Thresholds.Dvol.SpecificValues = []float64{61}
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(cfg, store, notifier)

	// 61.2 同时命中特定值 (61±0.5) 和绝对值 (≥60); 59.5→61.2 变化不足
	store.Set("dvol", 59.5, 700)
	e.CheckDvol(context.Background(), deribit.DvolObservation{Value: 61.2, Timestamp: 1000}, 1000)

	if len(notifier.sent) != 2 {
		t.Fatalf("独立规则应各自触发, 期望 2 条, 实际 %d", len(notifier.sent))
	}
	if _, ok := store.alerts["dvol_specific_61"]; !ok {
		t.Fatal("应记录特定值预警")
	}
	if _, ok := store.alerts["dvol_abs_value"]; !ok {
		t.Fatal("应记录绝对值预警")
	}
}

func TestCheckDvolQuietMarketNoAlert(t *testing.T) {
	store := newFakeStore()
	notifier := &fakeNotifier{}
	e := newTestEvaluator(testConfig(), store, notifier)

	store.Set("dvol", 55.0, 700)
	e.CheckDvol(context.Background(), deribit.DvolObservation{Value: 55.4, Timestamp: 1000}, 1000)

	if len(notifier.sent) != 0 {
		t.Fatalf("平静行情不应告警, 实际 %d 条", len(notifier.sent))
	}
	// 当前值仍然写入历史
	if len(store.series["dvol"]) != 2 {
		t.Fatalf("当前值应追加到历史, 实际 %d 条", len(store.series["dvol"]))
	}
}
