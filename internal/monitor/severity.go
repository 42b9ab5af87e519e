package monitor

import (
	"greeks-watch/internal/config"
)

// Severity is the alert tier a metric magnitude falls into.
type Severity string

const (
	SeverityLight  Severity = "light"
	SeverityMedium Severity = "medium"
	SeverityHeavy  Severity = "heavy"
)

// 中文标签用于告警文案。
func (s Severity) Label() string {
	switch s {
	case SeverityHeavy:
		return "重度"
	case SeverityMedium:
		return "中度"
	default:
		return "轻度"
	}
}

// ClassifyLevel returns the highest tier whose threshold the magnitude
// meets or exceeds, with the matched threshold. ok is false below the
// lowest tier. This is a static per-cycle classification, not an edge
// trigger; only cooldown suppresses repeats.
func ClassifyLevel(magnitude float64, tiers config.TierThresholds) (Severity, float64, bool) {
	switch {
	case tiers.Heavy > 0 && magnitude >= tiers.Heavy:
		return SeverityHeavy, tiers.Heavy, true
	case tiers.Medium > 0 && magnitude >= tiers.Medium:
		return SeverityMedium, tiers.Medium, true
	case tiers.Light > 0 && magnitude >= tiers.Light:
		return SeverityLight, tiers.Light, true
	default:
		return "", 0, false
	}
}

// TrendChange computes the signed percentage and absolute change between
// two observations. The percentage is defined as zero when previous is
// zero so a cold series cannot divide by zero.
func TrendChange(current, previous float64) (pct, abs float64) {
	abs = current - previous
	if previous == 0 {
		return 0, abs
	}
	return abs / previous, abs
}
