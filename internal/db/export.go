package db

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"
)

// utf8BOM makes spreadsheet applications detect the encoding of instrument
// names.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ExportFilename is the suggested download name for an export covering
// since..until.
func ExportFilename(since, until time.Time) string {
	return fmt.Sprintf("%s-%s temperatures.csv", since.Format("20060102 1504"), until.Format("20060102 1504"))
}

// ColumnName returns the export header for addr: its instrument name when
// one is configured, Addr_<n> otherwise.
func ColumnName(names map[int]string, addr int) string {
	if n, ok := names[addr]; ok && n != "" {
		return n
	}
	return fmt.Sprintf("Addr_%d", addr)
}

// ExportCSV writes readings in since..until as a wide table: one row per
// display date and time, one column per address. A cell holds the first
// reading for that address at that time and is empty when there is none.
// It returns ErrNoReadings without writing anything when the range is empty.
func (db *DB) ExportCSV(ctx context.Context, w io.Writer, since, until time.Time, names map[int]string) error {
	rows, err := db.QueryContext(ctx,
		`SELECT date_str, time_str, address, temperature FROM records
		 WHERE timestamp BETWEEN ? AND ? ORDER BY timestamp ASC, rowid ASC`,
		unixSeconds(since), unixSeconds(until))
	if err != nil {
		return fmt.Errorf("%w: export: %v", ErrStorageQuery, err)
	}
	defer rows.Close()

	type cellKey struct{ date, time string }
	table := make(map[cellKey]map[int]float64)
	var keys []cellKey
	addrSet := make(map[int]bool)
	for rows.Next() {
		var (
			k    cellKey
			addr int
			temp float64
		)
		if err := rows.Scan(&k.date, &k.time, &addr, &temp); err != nil {
			return fmt.Errorf("%w: export: %v", ErrStorageQuery, err)
		}
		row, ok := table[k]
		if !ok {
			row = make(map[int]float64)
			table[k] = row
			keys = append(keys, k)
		}
		if _, seen := row[addr]; !seen {
			row[addr] = temp
		}
		addrSet[addr] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: export: %v", ErrStorageQuery, err)
	}
	if len(keys) == 0 {
		return ErrNoReadings
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		return keys[i].time < keys[j].time
	})
	addrs := make([]int, 0, len(addrSet))
	for a := range addrSet {
		addrs = append(addrs, a)
	}
	sort.Ints(addrs)

	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	header := []string{"date", "time"}
	for _, a := range addrs {
		header = append(header, ColumnName(names, a))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(header))
	for _, k := range keys {
		record[0], record[1] = k.date, k.time
		for i, a := range addrs {
			record[i+2] = ""
			if v, ok := table[k][a]; ok {
				record[i+2] = strconv.FormatFloat(v, 'f', 1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
