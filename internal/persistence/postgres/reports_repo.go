package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/eligibility/internal/eligibility"
	"github.com/sawpanic/eligibility/internal/persistence"
)

// Schema creates the report table. Applied by db.Manager.Migrate.
const Schema = `
CREATE TABLE IF NOT EXISTS eligibility_reports (
	id            UUID PRIMARY KEY,
	address       TEXT NOT NULL,
	success       BOOLEAN NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	result        TEXT NOT NULL,
	failed_chains BIGINT[],
	report        JSONB NOT NULL,
	evaluated_at  TIMESTAMPTZ NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS eligibility_reports_address_idx
	ON eligibility_reports (address, evaluated_at DESC);
`

// undefinedTable is the Postgres error code for a missing relation
const undefinedTable = "42P01"

// reportsRepo implements ReportsRepo for PostgreSQL
type reportsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReportsRepo creates a new PostgreSQL reports repository
func NewReportsRepo(db *sqlx.DB, timeout time.Duration) persistence.ReportsRepo {
	return &reportsRepo{
		db:      db,
		timeout: timeout,
	}
}

// Save inserts the report document. Duplicate ids are ignored.
func (r *reportsRepo) Save(ctx context.Context, report eligibility.Report) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `
		INSERT INTO eligibility_reports (id, address, success, score, result, failed_chains, report, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`

	_, err = r.db.ExecContext(ctx, query,
		report.ID, report.Address, report.Success, report.Score, report.Result(),
		pq.Array(report.FailedChains()), doc, report.EvaluatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
			return fmt.Errorf("report table missing, run migrations: %w", err)
		}
		return fmt.Errorf("failed to insert report: %w", err)
	}

	return nil
}

// Get returns the report with the given id, or nil when absent
func (r *reportsRepo) Get(ctx context.Context, id string) (*persistence.ReportRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, address, success, score, result, report, evaluated_at, created_at
		FROM eligibility_reports
		WHERE id = $1`

	var rec persistence.ReportRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get report: %w", err)
	}

	return &rec, nil
}

// ListByAddress returns the newest reports for an address first
func (r *reportsRepo) ListByAddress(ctx context.Context, address string, limit int) ([]persistence.ReportRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, address, success, score, result, report, evaluated_at, created_at
		FROM eligibility_reports
		WHERE address = $1
		ORDER BY evaluated_at DESC
		LIMIT $2`

	var records []persistence.ReportRecord
	if err := r.db.SelectContext(ctx, &records, query, address, limit); err != nil {
		return nil, fmt.Errorf("failed to list reports by address: %w", err)
	}

	return records, nil
}

// CountByResult groups reports in the time range by result label
func (r *reportsRepo) CountByResult(ctx context.Context, tr persistence.TimeRange) (map[string]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT result, COUNT(*)
		FROM eligibility_reports
		WHERE evaluated_at >= $1 AND evaluated_at <= $2
		GROUP BY result`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to count reports: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			result string
			count  int64
		)
		if err := rows.Scan(&result, &count); err != nil {
			return nil, fmt.Errorf("failed to scan report count: %w", err)
		}
		counts[result] = count
	}

	return counts, rows.Err()
}
