package repo

import (
	"context"

	"deribit-probe/internal/model"
)

type Repository interface {
	// SaveRun stores a probe run and returns its id.
	SaveRun(ctx context.Context, run *model.ProbeRun) (int64, error)

	// ListRuns returns the most recent runs, newest first.
	// A limit of zero or less returns every run.
	ListRuns(ctx context.Context, limit int) ([]model.ProbeRun, error)

	// Close closes the repository connection.
	Close() error
}
