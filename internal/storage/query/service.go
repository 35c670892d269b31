// Package query answers questions about recorded frames by running DuckDB
// SQL over the recording Parquet files.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/powerscope/internal/scope"
)

// Service runs queries over recordings.
type Service struct {
	db *sql.DB

	queries atomic.Int64
	rows    atomic.Int64
	errors  atomic.Int64
}

// Stats holds query statistics.
type Stats struct {
	QueriesExecuted int64
	RowsReturned    int64
	Errors          int64
}

// ChannelSummary describes one channel across the matched recordings.
type ChannelSummary struct {
	Channel       string
	Frames        int64
	Min           float64
	Max           float64
	Mean          float64
	RMS           float64
	MeanFrequency float64
	First         time.Time
	Last          time.Time
}

// SessionSummary describes one recorded session.
type SessionSummary struct {
	SessionID string
	Frames    int64
	First     time.Time
	Last      time.Time
}

// New opens an in-memory DuckDB database.
func New() (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Service{db: db}, nil
}

// Close closes the database.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var summarySQL = buildSummarySQL()

func buildSummarySQL() string {
	var b strings.Builder
	b.WriteString("WITH f AS (SELECT * FROM read_parquet($1))\n")
	for i, ch := range scope.Channels() {
		if i > 0 {
			b.WriteString("UNION ALL\n")
		}
		col := strings.ToLower(ch.String())
		fmt.Fprintf(&b, `SELECT %d AS ord, '%s' AS channel, count(*) AS frames,
	min(%[3]s), max(%[3]s), avg(%[3]s), sqrt(avg(%[3]s * %[3]s)), avg(f0_%[3]s),
	min(received_ms), max(received_ms)
FROM f
`, i, ch.String(), col)
	}
	b.WriteString("ORDER BY ord")
	return b.String()
}

// Summarize returns per-channel statistics over all files matching pattern.
func (s *Service) Summarize(ctx context.Context, pattern string) ([]ChannelSummary, error) {
	rows, err := s.db.QueryContext(ctx, summarySQL, pattern)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("summarize %s: %w", pattern, err)
	}
	defer rows.Close()

	var out []ChannelSummary
	for rows.Next() {
		var (
			ord         int
			cs          ChannelSummary
			first, last sql.NullInt64
			mn, mx      sql.NullFloat64
			mean, rms   sql.NullFloat64
			freq        sql.NullFloat64
		)
		if err := rows.Scan(&ord, &cs.Channel, &cs.Frames,
			&mn, &mx, &mean, &rms, &freq, &first, &last); err != nil {
			s.recordError()
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		cs.Min, cs.Max, cs.Mean, cs.RMS, cs.MeanFrequency = mn.Float64, mx.Float64, mean.Float64, rms.Float64, freq.Float64
		if first.Valid {
			cs.First = time.UnixMilli(first.Int64)
		}
		if last.Valid {
			cs.Last = time.UnixMilli(last.Int64)
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	s.recordQuery(len(out))
	return out, nil
}

// Sessions lists the sessions found in files matching pattern, oldest first.
func (s *Service) Sessions(ctx context.Context, pattern string) ([]SessionSummary, error) {
	query := `
		SELECT session_id, count(*), min(received_ms), max(received_ms)
		FROM read_parquet($1)
		GROUP BY session_id
		ORDER BY min(received_ms)
	`

	rows, err := s.db.QueryContext(ctx, query, pattern)
	if err != nil {
		s.recordError()
		return nil, fmt.Errorf("list sessions %s: %w", pattern, err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var ss SessionSummary
		var first, last int64
		if err := rows.Scan(&ss.SessionID, &ss.Frames, &first, &last); err != nil {
			s.recordError()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ss.First = time.UnixMilli(first)
		ss.Last = time.UnixMilli(last)
		out = append(out, ss)
	}
	if err := rows.Err(); err != nil {
		s.recordError()
		return nil, err
	}

	s.recordQuery(len(out))
	return out, nil
}

// ExecuteSQL runs an arbitrary query and returns rows as maps.
func (s *Service) ExecuteSQL(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.recordError()
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			s.recordError()
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}

	s.recordQuery(len(out))
	return out, rows.Err()
}

func (s *Service) recordQuery(rows int) {
	s.queries.Add(1)
	s.rows.Add(int64(rows))
}

func (s *Service) recordError() {
	s.errors.Add(1)
}

// Stats returns query statistics.
func (s *Service) Stats() Stats {
	return Stats{
		QueriesExecuted: s.queries.Load(),
		RowsReturned:    s.rows.Load(),
		Errors:          s.errors.Load(),
	}
}
