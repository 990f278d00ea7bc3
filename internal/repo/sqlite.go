package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"deribit-probe/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteRepo struct {
	db *sql.DB
}

func NewSQLiteRepo(dbPath string) (*SQLiteRepo, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepo{db: db}
	if err := repo.init(); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

func (r *SQLiteRepo) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS probe_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at INTEGER NOT NULL,
		duration_us INTEGER NOT NULL,
		endpoint TEXT NOT NULL,
		expected_version TEXT NOT NULL,
		reported_version TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);
	`
	_, err := r.db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to create probe_runs table: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) SaveRun(ctx context.Context, run *model.ProbeRun) (int64, error) {
	query := `INSERT INTO probe_runs
		(started_at, duration_us, endpoint, expected_version, reported_version, outcome, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		run.StartedAt.UnixMicro(),
		run.Duration.Microseconds(),
		run.Endpoint,
		run.ExpectedVersion,
		run.ReportedVersion,
		string(run.Outcome),
		run.Error,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save probe run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read probe run id: %w", err)
	}
	run.ID = id
	return id, nil
}

func (r *SQLiteRepo) ListRuns(ctx context.Context, limit int) ([]model.ProbeRun, error) {
	query := `SELECT id, started_at, duration_us, endpoint, expected_version, reported_version, outcome, error
		FROM probe_runs ORDER BY id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list probe runs: %w", err)
	}
	defer rows.Close()

	var runs []model.ProbeRun
	for rows.Next() {
		var (
			run        model.ProbeRun
			startedAt  int64
			durationUs int64
			outcome    string
		)
		if err := rows.Scan(&run.ID, &startedAt, &durationUs, &run.Endpoint,
			&run.ExpectedVersion, &run.ReportedVersion, &outcome, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan probe run: %w", err)
		}
		run.StartedAt = time.UnixMicro(startedAt).UTC()
		run.Duration = time.Duration(durationUs) * time.Microsecond
		run.Outcome = model.Outcome(outcome)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list probe runs: %w", err)
	}
	return runs, nil
}

func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}
