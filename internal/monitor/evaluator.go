package monitor

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"greeks-watch/internal/alerting"
	"greeks-watch/internal/config"
	"greeks-watch/internal/deribit"
	"greeks-watch/internal/metrics"
	"greeks-watch/internal/statestore"
	"greeks-watch/internal/storage"
)

const dvolKey = "dvol"

// Store is the observation/cooldown state the evaluator consults. Satisfied
// by *statestore.Store.
type Store interface {
	Set(key string, value any, ts float64)
	History(key string, minutes int) []statestore.Entry
	ValueNear(key string, target float64) (any, bool)
	LastAlertTime(alertKey string) (float64, bool)
	SetLastAlertTime(alertKey string, ts float64)
}

// Evaluator turns current observations, stored history and configured
// thresholds into cooldown-deduplicated alert deliveries. It owns no
// persisted state of its own.
type Evaluator struct {
	store      Store
	notifier   alerting.Notifier
	audit      storage.AlertStore // optional
	logger     zerolog.Logger
	thresholds config.ThresholdsConfig
	cooldown   time.Duration
	enabled    bool
}

// NewEvaluator constructs the alert evaluator. audit may be nil.
func NewEvaluator(cfg *config.Config, store Store, notifier alerting.Notifier, audit storage.AlertStore, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:      store,
		notifier:   notifier,
		audit:      audit,
		logger:     logger.With().Str("component", "evaluator").Logger(),
		thresholds: cfg.Thresholds,
		cooldown:   cfg.Alerting.Cooldown,
		enabled:    cfg.Alerting.Enabled,
	}
}

// CheckPosition classifies a position's Gamma and Vega magnitudes and
// records the observation as the new baseline. Classification needs no
// history, so it runs on the very first sighting of an instrument.
func (e *Evaluator) CheckPosition(ctx context.Context, pos deribit.Position, now float64) {
	gamma := math.Abs(pos.Gamma)
	vega := math.Abs(pos.Vega)

	e.logger.Info().
		Str("instrument", pos.InstrumentName).
		Float64("gamma", gamma).
		Float64("vega", vega).
		Msg("评估持仓")

	e.checkPositionLevel(ctx, pos, "gamma", gamma, e.thresholds.Gamma, now)
	e.checkPositionLevel(ctx, pos, "vega", vega, e.thresholds.Vega, now)

	e.store.Set(pos.InstrumentName, statestore.InstrumentMetrics{
		Gamma:     pos.Gamma,
		Vega:      pos.Vega,
		Delta:     pos.Delta,
		Direction: pos.Direction,
		Size:      pos.Size,
	}, now)
}

func (e *Evaluator) checkPositionLevel(ctx context.Context, pos deribit.Position, metric string, magnitude float64, tiers config.TierThresholds, now float64) {
	severity, threshold, ok := ClassifyLevel(magnitude, tiers)
	if !ok {
		return
	}

	key := fmt.Sprintf("%s_%s_level_%s", pos.InstrumentName, metric, severity)
	label := severity.Label()

	note := alerting.Notification{
		Title: fmt.Sprintf("🚨 %s %s预警 - %s", metricTitle(metric), label, pos.InstrumentName),
		Message: fmt.Sprintf(
			"合约: %s\n方向: %s\n持仓量: %v\n当前 %s: %s\n预警级别: %s\n触发阈值: %s\n⚠️ %s 已达到%s预警水平！",
			pos.InstrumentName,
			strings.ToUpper(pos.Direction),
			pos.Size,
			metricTitle(metric), formatMetric(metric, magnitude),
			label,
			formatMetric(metric, threshold),
			metricTitle(metric), label,
		),
		Detail: []alerting.DetailField{
			{Label: "预警级别", Value: label},
			{Label: "当前 " + metricTitle(metric), Value: formatMetric(metric, magnitude)},
			{Label: "触发阈值", Value: formatMetric(metric, threshold)},
		},
	}

	record := storage.AlertRecord{
		AlertKey:   key,
		Instrument: pos.InstrumentName,
		Metric:     metric,
		Severity:   string(severity),
		Value:      decimal.NewFromFloat(magnitude),
		Threshold:  decimal.NewFromFloat(threshold),
		Message:    note.Message,
	}

	e.fire(ctx, key, metric, note, record, now)
}

// CheckDvol evaluates the volatility index: specific-target match first,
// then absolute level, then the 5-minute trend. The three rules are
// independently cooldown-gated and can all fire in one cycle.
func (e *Evaluator) CheckDvol(ctx context.Context, obs deribit.DvolObservation, now float64) {
	current := obs.Value
	rules := e.thresholds.Dvol

	history := e.store.History(dvolKey, 5)
	if len(history) == 0 {
		e.logger.Info().Float64("dvol", current).Msg("DVOL 首次记录")
		e.store.Set(dvolKey, current, now)
		return
	}

	previousRaw, ok := e.store.ValueNear(dvolKey, now-5*60)
	if !ok {
		e.store.Set(dvolKey, current, now)
		return
	}
	previous, ok := statestore.ScalarValue(previousRaw)
	if !ok {
		e.store.Set(dvolKey, current, now)
		return
	}

	pctChange, absChange := TrendChange(current, previous)

	e.logger.Info().
		Float64("dvol", current).
		Float64("previous_5m", previous).
		Float64("pct_change", pctChange).
		Float64("abs_change", absChange).
		Msg("DVOL 监控")

	// 特定值预警（优先检查）
	if target, matched := matchSpecific(current, rules.SpecificValues, rules.SpecificTolerance); matched {
		key := "dvol_specific_" + strconv.FormatFloat(target, 'g', -1, 64)
		note := alerting.Notification{
			Title: fmt.Sprintf("🚨 DVOL 特定值预警 - %v", target),
			Message: fmt.Sprintf(
				"DVOL 当前值: %.2f\n预警目标值: %v\n容差范围: %.2f ~ %.2f\n5分钟前: %.2f\n⚠️ DVOL 已达到预警值 %v！",
				current, target, target-rules.SpecificTolerance, target+rules.SpecificTolerance, previous, target,
			),
			Detail: []alerting.DetailField{
				{Label: "当前 DVOL", Value: fmt.Sprintf("%.2f", current)},
				{Label: "预警目标值", Value: fmt.Sprintf("%v", target)},
				{Label: "容差范围", Value: fmt.Sprintf("±%.2f", rules.SpecificTolerance)},
			},
		}
		record := storage.AlertRecord{
			AlertKey:  key,
			Metric:    "dvol",
			Severity:  "specific",
			Value:     decimal.NewFromFloat(current),
			Threshold: decimal.NewFromFloat(target),
			Message:   note.Message,
		}
		e.fire(ctx, key, "dvol", note, record, now)
	}

	// 绝对数值预警
	if rules.AbsValue > 0 && current >= rules.AbsValue {
		key := "dvol_abs_value"
		note := alerting.Notification{
			Title: "🚨 DVOL 绝对数值预警",
			Message: fmt.Sprintf(
				"DVOL 当前值: %.2f\n预警阈值: %.2f\n5分钟前: %.2f\n⚠️ DVOL 已达到预警水平！",
				current, rules.AbsValue, previous,
			),
			Detail: []alerting.DetailField{
				{Label: "当前 DVOL", Value: fmt.Sprintf("%.2f", current)},
				{Label: "预警阈值", Value: fmt.Sprintf("%.2f", rules.AbsValue)},
			},
		}
		record := storage.AlertRecord{
			AlertKey:  key,
			Metric:    "dvol",
			Severity:  "abs_value",
			Value:     decimal.NewFromFloat(current),
			Threshold: decimal.NewFromFloat(rules.AbsValue),
			Message:   note.Message,
		}
		e.fire(ctx, key, "dvol", note, record, now)
	}

	// 5 分钟变化预警
	if math.Abs(pctChange) > rules.PctChange5m || math.Abs(absChange) > rules.AbsChange5m {
		key := "dvol_change"
		note := alerting.Notification{
			Title: "⚠️ DVOL 异动告警",
			Message: fmt.Sprintf(
				"DVOL 当前值: %.2f\n5分钟前: %.2f\n变化: %s%.2f%% (%s%.2f)\n触发条件: 5分钟变化超过 %.2f%% 或绝对值变化超过 %.2f",
				current, previous,
				signPrefix(pctChange), pctChange*100,
				signPrefix(absChange), absChange,
				rules.PctChange5m*100, rules.AbsChange5m,
			),
			Detail: []alerting.DetailField{
				{Label: "触发条件", Value: fmt.Sprintf(
					"5 分钟变化 %.2f%% (阈值: %.2f%%) 或 绝对值变化 %.2f (阈值: %.2f)",
					pctChange*100, rules.PctChange5m*100, absChange, rules.AbsChange5m,
				)},
			},
		}
		record := storage.AlertRecord{
			AlertKey:  key,
			Metric:    "dvol",
			Severity:  "change",
			Value:     decimal.NewFromFloat(current),
			Threshold: decimal.NewFromFloat(rules.AbsChange5m),
			Message:   note.Message,
		}
		e.fire(ctx, key, "dvol", note, record, now)
	}

	e.store.Set(dvolKey, current, now)
}

// fire applies cooldown gating and the global enable switch, delivers, and
// records the firing time only on delivery success so failed deliveries are
// retried next cycle instead of silently suppressed.
func (e *Evaluator) fire(ctx context.Context, key, metric string, note alerting.Notification, record storage.AlertRecord, now float64) {
	if !e.shouldAlert(key, now) {
		metrics.AlertsSuppressed.Inc()
		e.logger.Debug().Str("key", key).Msg("冷却期内，跳过告警")
		return
	}

	if !e.enabled || e.notifier == nil {
		metrics.AlertsSuppressed.Inc()
		e.logger.Info().Str("key", key).Msg("[告警已禁用] " + note.Title)
		return
	}

	if err := e.notifier.Notify(ctx, note); err != nil {
		e.logger.Error().Err(err).Str("key", key).Msg("告警发送失败")
		return
	}

	e.store.SetLastAlertTime(key, now)
	metrics.AlertsFired.WithLabelValues(metric).Inc()
	e.logger.Warn().Str("key", key).Msg("告警已发送: " + note.Title)

	if e.audit != nil {
		if _, err := e.audit.InsertAlert(ctx, record); err != nil {
			e.logger.Error().Err(err).Str("key", key).Msg("failed to persist alert record")
		}
	}
}

func (e *Evaluator) shouldAlert(key string, now float64) bool {
	last, ok := e.store.LastAlertTime(key)
	if !ok {
		return true
	}
	return now-last >= e.cooldown.Seconds()
}

func matchSpecific(current float64, targets []float64, tolerance float64) (float64, bool) {
	for _, target := range targets {
		if math.Abs(current-target) <= tolerance {
			return target, true
		}
	}
	return 0, false
}

func metricTitle(metric string) string {
	switch metric {
	case "gamma":
		return "Gamma"
	case "vega":
		return "Vega"
	default:
		return metric
	}
}

func formatMetric(metric string, v float64) string {
	if metric == "gamma" {
		return strconv.FormatFloat(v, 'f', 8, 64)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func signPrefix(v float64) string {
	if v >= 0 {
		return "+"
	}
	return ""
}
