package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LeaderboardSize is the length of the fastest-runs list.
const LeaderboardSize = 10

// MinRunsForAverage is the run count a runner needs to rank by average.
const MinRunsForAverage = 3

// Entry is a runner and a time.
type Entry struct {
	Name string  `json:"name"`
	Time float64 `json:"time"`
}

// AverageEntry is a runner's mean time.
type AverageEntry struct {
	Name    string  `json:"name"`
	Average float64 `json:"average"`
	Runs    int     `json:"runs"`
}

// CountEntry is a runner's run count.
type CountEntry struct {
	Name string `json:"name"`
	Runs int    `json:"runs"`
}

// Leaderboard summarizes all stored runs. Pointer fields are nil when no
// runner qualifies.
type Leaderboard struct {
	FastestSingle  *Entry        `json:"fastest_single_run"`
	FastestAverage *AverageEntry `json:"fastest_average_time"`
	MostRuns       *CountEntry   `json:"most_runs"`
	Top            []Entry       `json:"top_10_fastest"`
}

// Leaderboard computes the leaderboard. Ties go to the earlier entry.
func (s *Store) Leaderboard(ctx context.Context) (Leaderboard, error) {
	var lb Leaderboard

	top, err := s.fastest(ctx, LeaderboardSize)
	if err != nil {
		return lb, err
	}
	lb.Top = top
	if len(top) > 0 {
		first := top[0]
		lb.FastestSingle = &first
	}

	var avg AverageEntry
	err = s.db.QueryRowContext(ctx, `
		SELECT r.name, AVG(t.run_time) AS avg_time, COUNT(t.id) AS runs
		FROM times t JOIN runners r ON t.runner_id = r.id
		GROUP BY r.id, r.name
		HAVING COUNT(t.id) >= ?
		ORDER BY avg_time ASC, r.id ASC
		LIMIT 1`, MinRunsForAverage).Scan(&avg.Name, &avg.Average, &avg.Runs)
	switch {
	case err == nil:
		lb.FastestAverage = &avg
	case !errors.Is(err, sql.ErrNoRows):
		return lb, fmt.Errorf("query average: %w", err)
	}

	var most CountEntry
	err = s.db.QueryRowContext(ctx, `
		SELECT r.name, COUNT(t.id) AS runs
		FROM times t JOIN runners r ON t.runner_id = r.id
		GROUP BY r.id, r.name
		ORDER BY runs DESC, r.id ASC
		LIMIT 1`).Scan(&most.Name, &most.Runs)
	switch {
	case err == nil:
		lb.MostRuns = &most
	case !errors.Is(err, sql.ErrNoRows):
		return lb, fmt.Errorf("query most runs: %w", err)
	}

	return lb, nil
}

func (s *Store) fastest(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name, t.run_time
		FROM times t JOIN runners r ON t.runner_id = r.id
		ORDER BY t.run_time ASC, t.id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query fastest: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Name, &e.Time); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
