// Package battery estimates device battery life from extracted record
// tables. The developer field of the record stream carries the battery
// percentage; a linear fit over elapsed hours predicts when it reaches
// zero.
package battery

import (
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Report summarizes one battery-life analysis.
type Report struct {
	Files  int
	Points int
	// SlopePerHour is the fitted battery-percent change per hour
	// (negative while discharging).
	SlopePerHour float64
	Intercept    float64
	// PredictedHours is the projected total battery life measured from
	// the first sample.
	PredictedHours float64
	RMSE           float64
}

type point struct {
	ts      time.Time
	percent float64
}

// Timestamp layouts accepted in record tables; extraction writes the
// first, the rest tolerate externally produced files.
var timestampLayouts = []string{
	"2006-01-02T15:04:05.000Z07:00",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

// Analyze reads every CSV in dir, pools the (timestamp, developer_field)
// columns and fits battery% against hours elapsed since the earliest
// sample. Files or rows that fail to parse are skipped; the report covers
// whatever remained.
func Analyze(dir string) (*Report, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no csv files found in %s", dir)
	}
	sort.Strings(paths)

	var points []point
	files := 0
	for _, p := range paths {
		pts, err := readRecordCSV(p)
		if err != nil {
			continue
		}
		files++
		points = append(points, pts...)
	}
	if len(points) < 2 {
		return nil, errors.New("need at least 2 data points for linear regression")
	}

	first := points[0].ts
	for _, p := range points {
		if p.ts.Before(first) {
			first = p.ts
		}
	}

	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.ts.Sub(first).Hours()
		ys[i] = p.percent
	}

	slope, intercept := leastSquares(xs, ys)
	if slope == 0 {
		return nil, errors.New("battery percentage does not change with time (slope is zero)")
	}

	sumSq := 0.0
	for i := range xs {
		d := ys[i] - (slope*xs[i] + intercept)
		sumSq += d * d
	}

	return &Report{
		Files:          files,
		Points:         len(points),
		SlopePerHour:   slope,
		Intercept:      intercept,
		PredictedHours: -intercept / slope,
		RMSE:           math.Sqrt(sumSq / float64(len(xs))),
	}, nil
}

// readRecordCSV extracts (timestamp, developer_field) points from one
// record table, resolving columns by header name.
func readRecordCSV(path string) ([]point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%s: no data rows", path)
	}

	tsCol, devCol := -1, -1
	for i, col := range rows[0] {
		switch strings.TrimSpace(col) {
		case "timestamp":
			tsCol = i
		case "developer_field":
			devCol = i
		}
	}
	if tsCol < 0 || devCol < 0 {
		return nil, fmt.Errorf("%s: missing timestamp/developer_field columns", path)
	}

	points := make([]point, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if tsCol >= len(row) || devCol >= len(row) {
			continue
		}
		ts, ok := parseTimestamp(row[tsCol])
		if !ok {
			continue
		}
		pct, err := strconv.ParseFloat(strings.TrimSpace(row[devCol]), 64)
		if err != nil {
			continue
		}
		points = append(points, point{ts: ts, percent: pct})
	}
	return points, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// leastSquares fits y = slope*x + intercept by ordinary least squares.
func leastSquares(xs, ys []float64) (slope, intercept float64) {
	n := float64(len(xs))
	var sumX, sumY, sumXY, sumXX float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXY += xs[i] * ys[i]
		sumXX += xs[i] * xs[i]
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0, sumY / n
	}
	slope = (n*sumXY - sumX*sumY) / denom
	intercept = (sumY - slope*sumX) / n
	return slope, intercept
}
