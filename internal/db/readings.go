package db

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	DateKeyFormat = "2006-01-02"
	TimeKeyFormat = "15:04:05"
)

// Reading is one row of the records table.
type Reading struct {
	Timestamp   float64 // unix seconds with sub-second precision
	DateKey     string
	TimeKey     string
	Address     int
	Temperature float64
}

// NewReading stamps a reading taken at t. The display keys are rendered in
// loc, or the local zone when loc is nil.
func NewReading(t time.Time, loc *time.Location, addr int, temp float64) Reading {
	if loc == nil {
		loc = time.Local
	}
	lt := t.In(loc)
	return Reading{
		Timestamp:   unixSeconds(t),
		DateKey:     lt.Format(DateKeyFormat),
		TimeKey:     lt.Format(TimeKeyFormat),
		Address:     addr,
		Temperature: temp,
	}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// InsertReading appends a single reading. The insert is atomic on its own;
// callers decide what a failure means.
func (db *DB) InsertReading(ctx context.Context, r Reading) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO records (timestamp, date_str, time_str, address, temperature) VALUES (?, ?, ?, ?, ?)`,
		r.Timestamp, r.DateKey, r.TimeKey, r.Address, r.Temperature,
	)
	if err != nil {
		return fmt.Errorf("%w: insert addr %d: %v", ErrStorageWrite, r.Address, err)
	}
	return nil
}

// PruneOlderThan deletes readings stamped before now-window and reports how
// many went. Running it twice in a row deletes nothing the second time.
func (db *DB) PruneOlderThan(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	cutoff := unixSeconds(now.Add(-window))
	res, err := db.ExecContext(ctx, `DELETE FROM records WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", ErrStorageWrite, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: prune: %v", ErrStorageWrite, err)
	}
	return n, nil
}

// LatestRow is one line of the live table: every reading sharing a display
// date and time.
type LatestRow struct {
	DateKey string          `json:"date"`
	TimeKey string          `json:"time"`
	Values  map[int]float64 `json:"values"`
}

// Latest returns up to limit display rows, newest first. If one address was
// written twice under the same display time the newer value wins.
func (db *DB) Latest(ctx context.Context, limit int) ([]LatestRow, error) {
	if limit <= 0 {
		return []LatestRow{}, nil
	}
	rows, err := db.QueryContext(ctx,
		`SELECT date_str, time_str, address, temperature FROM records ORDER BY timestamp DESC, rowid DESC`)
	if err != nil {
		return []LatestRow{}, fmt.Errorf("%w: latest: %v", ErrStorageQuery, err)
	}
	defer rows.Close()

	out := []LatestRow{}
	index := make(map[[2]string]int)
	for rows.Next() {
		var (
			dateKey, timeKey string
			addr             int
			temp             float64
		)
		if err := rows.Scan(&dateKey, &timeKey, &addr, &temp); err != nil {
			return []LatestRow{}, fmt.Errorf("%w: latest: %v", ErrStorageQuery, err)
		}
		key := [2]string{dateKey, timeKey}
		i, ok := index[key]
		if !ok {
			if len(out) == limit {
				break
			}
			i = len(out)
			index[key] = i
			out = append(out, LatestRow{DateKey: dateKey, TimeKey: timeKey, Values: make(map[int]float64)})
		}
		if _, seen := out[i].Values[addr]; !seen {
			out[i].Values[addr] = temp
		}
	}
	if err := rows.Err(); err != nil {
		return []LatestRow{}, fmt.Errorf("%w: latest: %v", ErrStorageQuery, err)
	}
	return out, nil
}

// RangeQuery selects readings with Since <= timestamp <= Until. A zero bound
// is open. An empty Addresses selects every address present.
type RangeQuery struct {
	Since        time.Time
	Until        time.Time
	DownsampleTo int
	Addresses    []int
}

type Point struct {
	Timestamp   float64 `json:"t"`
	Temperature float64 `json:"v"`
}

// RangeResult maps an address to its series in ascending time order.
type RangeResult map[int][]Point

// Len is the total number of points across every series.
func (r RangeResult) Len() int {
	n := 0
	for _, s := range r {
		n += len(s)
	}
	return n
}

// Range runs q. When DownsampleTo is positive and the result holds more than
// DownsampleTo points per instrument, every series is decimated with the
// same stride, rowCount / (DownsampleTo * instruments).
func (db *DB) Range(ctx context.Context, q RangeQuery) (RangeResult, error) {
	since, until := -math.MaxFloat64, math.MaxFloat64
	if !q.Since.IsZero() {
		since = unixSeconds(q.Since)
	}
	if !q.Until.IsZero() {
		until = unixSeconds(q.Until)
	}
	query := `SELECT timestamp, address, temperature FROM records WHERE timestamp >= ? AND timestamp <= ?`
	args := []interface{}{since, until}
	if len(q.Addresses) > 0 {
		query += ` AND address IN (?` + strings.Repeat(`, ?`, len(q.Addresses)-1) + `)`
		for _, a := range q.Addresses {
			args = append(args, a)
		}
	}
	query += ` ORDER BY timestamp ASC, rowid ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return RangeResult{}, fmt.Errorf("%w: range: %v", ErrStorageQuery, err)
	}
	defer rows.Close()

	series := RangeResult{}
	rowCount := 0
	for rows.Next() {
		var (
			p    Point
			addr int
		)
		if err := rows.Scan(&p.Timestamp, &addr, &p.Temperature); err != nil {
			return RangeResult{}, fmt.Errorf("%w: range: %v", ErrStorageQuery, err)
		}
		series[addr] = append(series[addr], p)
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return RangeResult{}, fmt.Errorf("%w: range: %v", ErrStorageQuery, err)
	}

	if q.DownsampleTo <= 0 || rowCount == 0 {
		return series, nil
	}
	instruments := len(q.Addresses)
	if instruments == 0 {
		instruments = len(series)
	}
	stride := Stride(rowCount, q.DownsampleTo, instruments)
	if stride == 1 {
		return series, nil
	}
	for addr, s := range series {
		series[addr] = decimate(s, stride)
	}
	return series, nil
}

// Stride is the decimation step for rowCount rows shared by instruments
// series, each targeted at downsampleTo points. It is never below 1.
func Stride(rowCount, downsampleTo, instruments int) int {
	if downsampleTo <= 0 || instruments <= 0 {
		return 1
	}
	step := rowCount / (downsampleTo * instruments)
	if step < 1 {
		return 1
	}
	return step
}

func decimate(s []Point, stride int) []Point {
	out := make([]Point, 0, (len(s)+stride-1)/stride)
	for i := 0; i < len(s); i += stride {
		out = append(out, s[i])
	}
	return out
}
