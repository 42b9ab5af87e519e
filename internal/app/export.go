package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"greeks-watch/internal/deribit"
)

// Export renders volatility index history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	if opts.Resolution == "" {
		opts.Resolution = "1H"
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.Add(-30 * 24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	client := a.newClient()
	buckets, err := client.DvolHistory(ctx, a.Config.Deribit.DvolCurrency, from.UnixMilli(), to.UnixMilli(), opts.Resolution)
	if err != nil {
		return err
	}
	if len(buckets) == 0 {
		a.Logger.Info().Msg("no volatility index data for export window")
		return nil
	}

	downsampled := downsampleBuckets(buckets, opts.MaxPoints)
	a.Logger.Info().Int("total", len(buckets)).Int("exported", len(downsampled)).Msg("exporting volatility index history")

	if opts.CSVPath != "" {
		if err := writeBucketsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeBucketsPNG(opts.PNGPath, a.Config.Deribit.DvolCurrency, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleBuckets(buckets []deribit.DvolBucket, max int) []deribit.DvolBucket {
	if max <= 0 || len(buckets) <= max {
		return buckets
	}

	result := make([]deribit.DvolBucket, 0, max)
	step := float64(len(buckets)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(buckets) {
			idx = len(buckets) - 1
		}
		result = append(result, buckets[idx])
	}
	return result
}

func writeBucketsCSV(path string, buckets []deribit.DvolBucket) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"bucket_ts", "open", "high", "low", "close"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, bucket := range buckets {
		record := []string{
			time.UnixMilli(bucket.TimestampMs).UTC().Format(time.RFC3339),
			formatValue(bucket.Open),
			formatValue(bucket.High),
			formatValue(bucket.Low),
			formatValue(bucket.Close),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeBucketsPNG(path, currency string, buckets []deribit.DvolBucket) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(buckets))
	closes := make([]float64, len(buckets))
	highs := make([]float64, len(buckets))
	lows := make([]float64, len(buckets))

	for i, bucket := range buckets {
		x[i] = time.UnixMilli(bucket.TimestampMs)
		closes[i] = bucket.Close
		highs[i] = bucket.High
		lows[i] = bucket.Low
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "DVOL (" + currency + ")",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Close",
				XValues: x,
				YValues: closes,
			},
			chart.TimeSeries{
				Name:    "High",
				XValues: x,
				YValues: highs,
			},
			chart.TimeSeries{
				Name:    "Low",
				XValues: x,
				YValues: lows,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatValue(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
