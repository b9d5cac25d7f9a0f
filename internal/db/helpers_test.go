package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create test DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var testStart = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// insertSeries writes n one-second cycles starting at start, one reading
// per address per cycle.
func insertSeries(t *testing.T, db *DB, start time.Time, n int, addrs ...int) {
	t.Helper()
	ctx := context.Background()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO records (timestamp, date_str, time_str, address, temperature) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Second)
		for _, a := range addrs {
			r := NewReading(ts, time.UTC, a, float64(a)*10+float64(i%10)/10)
			if _, err := stmt.ExecContext(ctx, r.Timestamp, r.DateKey, r.TimeKey, r.Address, r.Temperature); err != nil {
				t.Fatalf("insert: %v", err)
			}
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func countRecords(t *testing.T, db *DB) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
