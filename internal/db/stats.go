package db

import (
	"context"
	"fmt"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/temperature.report/internal/protocol"
)

// SeriesStats summarises one address over a time range. Failed reads are
// counted in Missing and excluded from everything else.
type SeriesStats struct {
	Address int     `json:"address"`
	Count   int     `json:"count"`
	Missing int     `json:"missing"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
	StdDev  float64 `json:"stddev"`
	First   float64 `json:"first_ts"`
	Last    float64 `json:"last_ts"`
}

// Stats computes SeriesStats for every address with readings in since..until.
func (db *DB) Stats(ctx context.Context, since, until time.Time) (map[int]SeriesStats, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT timestamp, address, temperature FROM records
		 WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp ASC`,
		unixSeconds(since), unixSeconds(until))
	if err != nil {
		return map[int]SeriesStats{}, fmt.Errorf("%w: stats: %v", ErrStorageQuery, err)
	}
	defer rows.Close()

	values := make(map[int][]float64)
	out := make(map[int]SeriesStats)
	for rows.Next() {
		var (
			ts, temp float64
			addr     int
		)
		if err := rows.Scan(&ts, &addr, &temp); err != nil {
			return map[int]SeriesStats{}, fmt.Errorf("%w: stats: %v", ErrStorageQuery, err)
		}
		s, ok := out[addr]
		if !ok {
			s = SeriesStats{Address: addr, First: ts}
		}
		s.Last = ts
		if temp == protocol.Sentinel {
			s.Missing++
		} else {
			values[addr] = append(values[addr], temp)
		}
		out[addr] = s
	}
	if err := rows.Err(); err != nil {
		return map[int]SeriesStats{}, fmt.Errorf("%w: stats: %v", ErrStorageQuery, err)
	}

	for addr, s := range out {
		v := values[addr]
		s.Count = len(v)
		if len(v) > 0 {
			s.Min = floats.Min(v)
			s.Max = floats.Max(v)
			s.Mean, s.StdDev = stat.MeanStdDev(v, nil)
			if len(v) == 1 {
				s.StdDev = 0
			}
		}
		out[addr] = s
	}
	return out, nil
}
