package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertRecord captures one delivered alert for auditing. The cooldown
// decision itself lives in the observation snapshot, not here.
type AlertRecord struct {
	ID         int64
	AlertKey   string
	Instrument string
	Metric     string
	Severity   string
	Value      decimal.Decimal
	Threshold  decimal.Decimal
	Message    string
	CreatedAt  time.Time
}
