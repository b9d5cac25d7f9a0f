package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PollSession is one uninterrupted stretch of polling on a single port.
type PollSession struct {
	ID        string     `json:"session_id"`
	StartedAt time.Time  `json:"started_at"`
	Port      string     `json:"port"`
	Protocol  string     `json:"protocol"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

func (db *DB) StartPollSession(ctx context.Context, id string, started time.Time, port, protocol string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO poll_sessions (session_id, started_at, port, protocol) VALUES (?, ?, ?, ?)`,
		id, unixSeconds(started), port, protocol)
	if err != nil {
		return fmt.Errorf("%w: start session: %v", ErrStorageWrite, err)
	}
	return nil
}

// EndPollSession stamps the end of a session. Ending an already ended or
// unknown session is a no-op.
func (db *DB) EndPollSession(ctx context.Context, id string, ended time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE poll_sessions SET ended_at = ? WHERE session_id = ? AND ended_at IS NULL`,
		unixSeconds(ended), id)
	if err != nil {
		return fmt.Errorf("%w: end session: %v", ErrStorageWrite, err)
	}
	return nil
}

// RecentPollSessions returns up to limit sessions, newest first. A session
// without an end time is either still running or was cut short by a crash.
func (db *DB) RecentPollSessions(ctx context.Context, limit int) ([]PollSession, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT session_id, started_at, port, protocol, ended_at FROM poll_sessions
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return []PollSession{}, fmt.Errorf("%w: sessions: %v", ErrStorageQuery, err)
	}
	defer rows.Close()

	out := []PollSession{}
	for rows.Next() {
		var (
			s       PollSession
			started float64
			ended   sql.NullFloat64
		)
		if err := rows.Scan(&s.ID, &started, &s.Port, &s.Protocol, &ended); err != nil {
			return []PollSession{}, fmt.Errorf("%w: sessions: %v", ErrStorageQuery, err)
		}
		s.StartedAt = fromUnixSeconds(started)
		if ended.Valid {
			t := fromUnixSeconds(ended.Float64)
			s.EndedAt = &t
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return []PollSession{}, fmt.Errorf("%w: sessions: %v", ErrStorageQuery, err)
	}
	return out, nil
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}
