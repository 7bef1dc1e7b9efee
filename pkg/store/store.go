package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
)

//go:embed schema.sql
var schemaSQL string

var (
	// ErrNotFound is returned when a runner or time entry does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTime is returned for negative or non-finite run times.
	ErrInvalidTime = errors.New("invalid run time")
)

// RunTime is one stored run.
type RunTime struct {
	ID       int64     `json:"id"`
	RunnerID int64     `json:"runner_id"`
	Time     float64   `json:"time"`
	Date     time.Time `json:"date"`
}

// Store is the SQLite-backed runner and time store. Safe for concurrent use.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open creates or opens the database at path and applies the schema.
// Use ":memory:" for a throwaway store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}

	// SQLite has one writer; a single connection also keeps :memory: alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, clock: clockwork.NewRealClock()}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddRunner inserts a runner and returns its ID. Adding an existing name
// returns the existing ID.
func (s *Store) AddRunner(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: empty name", model.ErrInvalidRunner)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM runners WHERE name = ?`, name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("lookup runner: %w", err)
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO runners (name, created_at) VALUES (?, ?)`,
		name, s.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert runner: %w", err)
	}
	if id, err = res.LastInsertId(); err != nil {
		return 0, fmt.Errorf("insert runner: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

// GetAllRunners returns every runner ordered by name.
func (s *Store) GetAllRunners(ctx context.Context) ([]model.Runner, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM runners ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query runners: %w", err)
	}
	defer rows.Close()

	var runners []model.Runner
	for rows.Next() {
		var r model.Runner
		if err := rows.Scan(&r.ID, &r.Name); err != nil {
			return nil, fmt.Errorf("scan runner: %w", err)
		}
		runners = append(runners, r)
	}
	return runners, rows.Err()
}

// GetRunner returns the runner with id.
func (s *Store) GetRunner(ctx context.Context, id int64) (model.Runner, error) {
	r := model.Runner{ID: id}
	err := s.db.QueryRowContext(ctx, `SELECT name FROM runners WHERE id = ?`, id).Scan(&r.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Runner{}, fmt.Errorf("runner %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Runner{}, fmt.Errorf("query runner: %w", err)
	}
	return r, nil
}

// FindRunner returns the runner with the given name.
func (s *Store) FindRunner(ctx context.Context, name string) (model.Runner, error) {
	r := model.Runner{Name: strings.TrimSpace(name)}
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runners WHERE name = ?`, r.Name).Scan(&r.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Runner{}, fmt.Errorf("runner %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return model.Runner{}, fmt.Errorf("query runner: %w", err)
	}
	return r, nil
}

// AddRunTime stores a run for runnerID and returns the entry ID.
func (s *Store) AddRunTime(ctx context.Context, runnerID int64, seconds float64) (int64, error) {
	return s.insertTime(ctx, runnerID, seconds, nil)
}

func (s *Store) insertTime(ctx context.Context, runnerID int64, seconds float64, recordID any) (int64, error) {
	if err := validTime(seconds); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO times (runner_id, run_time, run_date, record_id) VALUES (?, ?, ?, ?)`,
		runnerID, seconds, s.clock.Now().UTC(), recordID)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY") {
			return 0, fmt.Errorf("runner %d: %w", runnerID, ErrNotFound)
		}
		return 0, fmt.Errorf("insert time: %w", err)
	}
	return res.LastInsertId()
}

// GetRunnerTimes returns the runs of runnerID, newest first.
func (s *Store) GetRunnerTimes(ctx context.Context, runnerID int64) ([]RunTime, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, runner_id, run_time, run_date FROM times WHERE runner_id = ? ORDER BY run_date DESC, id DESC`,
		runnerID)
	if err != nil {
		return nil, fmt.Errorf("query times: %w", err)
	}
	defer rows.Close()

	var times []RunTime
	for rows.Next() {
		var rt RunTime
		if err := rows.Scan(&rt.ID, &rt.RunnerID, &rt.Time, &rt.Date); err != nil {
			return nil, fmt.Errorf("scan time: %w", err)
		}
		times = append(times, rt)
	}
	return times, rows.Err()
}

// UpdateRunTime replaces the time of entry id.
func (s *Store) UpdateRunTime(ctx context.Context, id int64, seconds float64) error {
	if err := validTime(seconds); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE times SET run_time = ? WHERE id = ?`, seconds, id)
	if err != nil {
		return fmt.Errorf("update time: %w", err)
	}
	return expectRow(res, id)
}

// DeleteRunTime removes entry id.
func (s *Store) DeleteRunTime(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM times WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete time: %w", err)
	}
	return expectRow(res, id)
}

// SaveRecord stores a completed race record. A record already stored is
// ignored.
func (s *Store) SaveRecord(ctx context.Context, rec race.Record) error {
	if rec.RunnerID <= 0 {
		return fmt.Errorf("%w: record without runner", model.ErrInvalidRunner)
	}
	var existing int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM times WHERE record_id = ?`, rec.ID.String()).Scan(&existing)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup record: %w", err)
	}
	_, err = s.insertTime(ctx, rec.RunnerID, rec.Seconds(), rec.ID.String())
	return err
}

func validTime(seconds float64) error {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidTime, seconds)
	}
	return nil
}

func expectRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("time %d: %w", id, ErrNotFound)
	}
	return nil
}

var _ race.RecordSink = (*Store)(nil)
