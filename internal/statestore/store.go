package statestore

import (
	"encoding/json"
	"math"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one observation: a value and its instant as Unix float seconds.
// Values are scalars (the volatility index) or small structured records
// (per-instrument sensitivities); after a snapshot reload structured values
// surface as generic maps, which no current rule reads back.
type Entry struct {
	Value     any     `json:"value"`
	Timestamp float64 `json:"timestamp"`
}

// InstrumentMetrics is the structured value recorded per instrument.
type InstrumentMetrics struct {
	Gamma     float64 `json:"gamma"`
	Vega      float64 `json:"vega"`
	Delta     float64 `json:"delta"`
	Direction string  `json:"direction"`
	Size      float64 `json:"size"`
}

type series struct {
	Latest  *Entry  `json:"latest,omitempty"`
	History []Entry `json:"history"`
}

// document is the durable snapshot layout. The cooldown table is a sibling
// of the series map so retention pruning structurally cannot touch it.
type document struct {
	Series     map[string]*series `json:"series"`
	LastAlerts map[string]float64 `json:"last_alert_times"`
}

// Store is a retention-pruned time-series snapshot plus the alert cooldown
// table. It is the single writer of its file; running two processes against
// one snapshot is unsupported.
type Store struct {
	path      string
	retention time.Duration
	logger    zerolog.Logger
	now       func() time.Time

	doc document
}

// New loads the snapshot at path, degrading to an empty store when the file
// is missing or unreadable. Durability is best-effort caching: losing it
// only delays trend alerts by one cycle.
func New(path string, retention time.Duration, logger zerolog.Logger) *Store {
	s := &Store{
		path:      path,
		retention: retention,
		logger:    logger.With().Str("component", "state_store").Logger(),
		now:       time.Now,
		doc: document{
			Series:     make(map[string]*series),
			LastAlerts: make(map[string]float64),
		},
	}
	s.load()
	return s
}

func (s *Store) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("状态文件不存在，使用空状态")
		} else {
			s.logger.Error().Err(err).Str("path", s.path).Msg("读取状态文件失败，使用空状态")
		}
		return
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("解析状态文件失败，使用空状态")
		return
	}

	if doc.Series == nil {
		doc.Series = make(map[string]*series)
	}
	if doc.LastAlerts == nil {
		doc.LastAlerts = make(map[string]float64)
	}
	s.doc = doc
	s.logger.Info().Str("path", s.path).Int("keys", len(doc.Series)).Msg("状态加载成功")
}

// Set upserts value as the latest entry for key and coalesces it into the
// history: an existing entry within one second of ts is replaced rather
// than duplicated. The whole snapshot is persisted before returning.
func (s *Store) Set(key string, value any, ts float64) {
	entry := Entry{Value: value, Timestamp: ts}

	ser := s.doc.Series[key]
	if ser == nil {
		ser = &series{}
		s.doc.Series[key] = ser
	}

	ser.Latest = &entry

	kept := ser.History[:0]
	for _, h := range ser.History {
		if math.Abs(h.Timestamp-ts) > 1 {
			kept = append(kept, h)
		}
	}
	kept = append(kept, entry)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Timestamp < kept[j].Timestamp })
	ser.History = kept

	s.persist()
}

// History returns entries for key no older than minutes.
func (s *Store) History(key string, minutes int) []Entry {
	ser := s.doc.Series[key]
	if ser == nil {
		return nil
	}

	cutoff := unixSeconds(s.now()) - float64(minutes)*60
	out := make([]Entry, 0, len(ser.History))
	for _, h := range ser.History {
		if h.Timestamp >= cutoff {
			out = append(out, h)
		}
	}
	return out
}

// Latest returns the most recent entry for key.
func (s *Store) Latest(key string) (Entry, bool) {
	ser := s.doc.Series[key]
	if ser == nil || ser.Latest == nil {
		return Entry{}, false
	}
	return *ser.Latest, true
}

// ValueNear returns the value of the retained entry closest in time to
// target. Ties keep the first entry encountered.
func (s *Store) ValueNear(key string, target float64) (any, bool) {
	history := s.History(key, int(s.retention.Minutes()))
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

// LastAlertTime reports the last successful firing for an alert key.
// Cooldown entries never expire on their own.
func (s *Store) LastAlertTime(alertKey string) (float64, bool) {
	ts, ok := s.doc.LastAlerts[alertKey]
	return ts, ok
}

// SetLastAlertTime records a successful firing and persists.
func (s *Store) SetLastAlertTime(alertKey string, ts float64) {
	s.doc.LastAlerts[alertKey] = ts
	s.persist()
}

// persist prunes every series to the retention window and rewrites the
// snapshot wholesale. Failures are logged; the in-memory state stays
// authoritative for the cycle.
func (s *Store) persist() {
	s.prune()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		s.logger.Error().Err(err).Msg("序列化状态失败")
		return
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("保存状态文件失败")
	}
}

func (s *Store) prune() {
	cutoff := unixSeconds(s.now()) - s.retention.Seconds()
	for key, ser := range s.doc.Series {
		kept := ser.History[:0]
		for _, h := range ser.History {
			if h.Timestamp >= cutoff {
				kept = append(kept, h)
			}
		}
		ser.History = kept
		if len(ser.History) == 0 && ser.Latest == nil {
			delete(s.doc.Series, key)
		}
	}
}

// ScalarValue extracts a float from an entry value, tolerating the generic
// types a JSON reload produces.
func ScalarValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
