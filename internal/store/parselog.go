package store

import (
	"fmt"
	"time"
)

// ParseAttempt is one row of the append-only extraction log.
type ParseAttempt struct {
	User         string
	InputLength  int
	Provider     string
	Model        string
	Success      bool
	ElapsedMS    float64
	ErrorKind    string
	ErrorMessage string
}

// AppendParseLog records one extraction attempt.
func (s *Store) AppendParseLog(a ParseAttempt) error {
	_, err := s.db.Exec(`
		INSERT INTO parse_log (user, input_length, provider, model, success,
			elapsed_ms, error_kind, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.User, a.InputLength, a.Provider, a.Model, boolInt(a.Success),
		a.ElapsedMS, a.ErrorKind, a.ErrorMessage, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append parse log: %w", err)
	}
	return nil
}

// ProviderStat is a per-provider/model breakdown of extraction attempts.
type ProviderStat struct {
	Provider     string
	Model        string
	Total        int
	Successful   int
	AvgElapsedMS float64
}

// DailyStat counts attempts for a single day.
type DailyStat struct {
	Day        string
	Total      int
	Successful int
	Failed     int
}

// ParseStats summarizes the extraction log over a trailing window.
type ParseStats struct {
	PeriodDays     int
	Total          int
	Successful     int
	Failed         int
	SuccessRate    float64
	AvgElapsedMS   float64
	ErrorBreakdown map[string]int
	Providers      []ProviderStat
	Daily          []DailyStat
}

// ParseLogStats aggregates the extraction log over the last N days.
func (s *Store) ParseLogStats(days int) (*ParseStats, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	stats := &ParseStats{PeriodDays: days, ErrorBreakdown: make(map[string]int)}

	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(success), 0),
			COALESCE(AVG(CASE WHEN success = 1 THEN elapsed_ms END), 0)
		FROM parse_log WHERE created_at >= ?`, cutoff).
		Scan(&stats.Total, &stats.Successful, &stats.AvgElapsedMS)
	if err != nil {
		return nil, fmt.Errorf("parse log totals: %w", err)
	}
	stats.Failed = stats.Total - stats.Successful
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total) * 100
	}

	rows, err := s.db.Query(`
		SELECT error_kind, COUNT(*) FROM parse_log
		WHERE created_at >= ? AND success = 0
		GROUP BY error_kind ORDER BY COUNT(*) DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("parse log errors: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan error breakdown: %w", err)
		}
		stats.ErrorBreakdown[kind] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	prows, err := s.db.Query(`
		SELECT provider, model, COUNT(*), COALESCE(SUM(success), 0),
			COALESCE(AVG(CASE WHEN success = 1 THEN elapsed_ms END), 0)
		FROM parse_log WHERE created_at >= ?
		GROUP BY provider, model ORDER BY COUNT(*) DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("parse log providers: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var p ProviderStat
		if err := prows.Scan(&p.Provider, &p.Model, &p.Total, &p.Successful, &p.AvgElapsedMS); err != nil {
			return nil, fmt.Errorf("scan provider stat: %w", err)
		}
		stats.Providers = append(stats.Providers, p)
	}
	if err := prows.Err(); err != nil {
		return nil, err
	}

	drows, err := s.db.Query(`
		SELECT date(created_at, 'unixepoch') AS day, COUNT(*),
			COALESCE(SUM(success), 0)
		FROM parse_log WHERE created_at >= ?
		GROUP BY day ORDER BY day`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("parse log daily: %w", err)
	}
	defer drows.Close()
	for drows.Next() {
		var d DailyStat
		if err := drows.Scan(&d.Day, &d.Total, &d.Successful); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		d.Failed = d.Total - d.Successful
		stats.Daily = append(stats.Daily, d)
	}
	return stats, drows.Err()
}
