package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/thusser/pybs/internal/domain"
)

// JobRepository is the pgx-backed implementation of repository.JobStore (C1).
// Its claim protocol relies on Postgres's SELECT ... FOR UPDATE SKIP LOCKED
// to give at-most-one-start per job id across daemons (spec.md §4.2/P1).
type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Insert(ctx context.Context, job *domain.Job) (int64, error) {
	query := `
		INSERT INTO jobs (name, username, filename, ncpus, priority, nodes, submitted)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, submitted`

	var id int64
	err := r.pool.QueryRow(ctx, query,
		job.Name, job.Username, job.Filename, job.NCPUs, job.Priority, job.NodesCSV(),
	).Scan(&id, &job.Submitted)
	if err != nil {
		return 0, fmt.Errorf("%w: insert job: %v", domain.ErrStorage, err)
	}
	return id, nil
}

func (r *JobRepository) GetByID(ctx context.Context, id int64) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

func (r *JobRepository) ClaimNext(ctx context.Context, node string, freeCPUs int) (*domain.Job, error) {
	query := `
		WITH candidate AS (
			SELECT id FROM jobs
			WHERE started IS NULL
			  AND finished IS NULL
			  AND ncpus <= $2
			  AND (nodes IS NULL
			       OR nodes = $1
			       OR nodes LIKE $1 || ',%'
			       OR nodes LIKE '%,' || $1 || ',%'
			       OR nodes LIKE '%,' || $1)
			ORDER BY priority DESC, submitted ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs
		SET started = NOW(), node = $1
		WHERE id = (SELECT id FROM candidate)
		` + returningColumns

	row := r.pool.QueryRow(ctx, query, node, freeCPUs)
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, nil // no eligible row this tick
	}
	if err != nil {
		return nil, fmt.Errorf("%w: claim next: %v", domain.ErrStorage, err)
	}
	// Belt-and-suspenders re-check of the affinity predicate the query above
	// already applied via LIKE — this is what makes P4's substring-rejection
	// requirement ("n1" must not match "n10") reachable by a plain Go test
	// (domain.MatchesAffinity), rather than only by a live-DB integration test.
	if !domain.MatchesAffinity(job.Nodes, node) {
		return nil, fmt.Errorf("%w: claimed job %d does not satisfy affinity for node %s", domain.ErrStorage, job.ID, node)
	}
	return job, nil
}

// ForceStart tells apart "no such job" from "job already started" — the
// UPDATE's WHERE clause can't distinguish a 0-row result from either, so a
// second lookup is needed once it comes back empty.
func (r *JobRepository) ForceStart(ctx context.Context, id int64, node string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET started = NOW(), node = $2
		WHERE id = $1 AND started IS NULL
		` + returningColumns

	row := r.pool.QueryRow(ctx, query, id, node)
	job, err := scanJob(row)
	if errors.Is(err, domain.ErrJobNotFound) {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return nil, getErr // genuinely doesn't exist
		}
		return nil, fmt.Errorf("%w: job %d", domain.ErrAlreadyStarted, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: force start: %v", domain.ErrStorage, err)
	}
	return job, nil
}

func (r *JobRepository) Finish(ctx context.Context, id int64, finishedAt time.Time) (*domain.Job, error) {
	query := `UPDATE jobs SET finished = $2 WHERE id = $1` + returningColumns
	row := r.pool.QueryRow(ctx, query, id, finishedAt)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("%w: finish job: %v", domain.ErrStorage, err)
	}
	return job, nil
}

func (r *JobRepository) Delete(ctx context.Context, id int64) (int, string, bool, error) {
	var ncpus int
	var node *string
	var started, finished *time.Time
	err := r.pool.QueryRow(ctx, `DELETE FROM jobs WHERE id = $1 RETURNING ncpus, node, started, finished`, id).
		Scan(&ncpus, &node, &started, &finished)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", false, domain.ErrJobNotFound
		}
		return 0, "", false, fmt.Errorf("%w: delete job: %v", domain.ErrStorage, err)
	}
	wasRunning := started != nil && finished == nil
	if node == nil {
		return ncpus, "", wasRunning, nil
	}
	return ncpus, *node, wasRunning, nil
}

func (r *JobRepository) ListWaiting(ctx context.Context) ([]*domain.Job, error) {
	query := selectColumns + ` FROM jobs WHERE started IS NULL ORDER BY priority DESC, submitted ASC`
	return r.queryJobs(ctx, query)
}

func (r *JobRepository) ListRunning(ctx context.Context) ([]*domain.Job, error) {
	query := selectColumns + ` FROM jobs WHERE started IS NOT NULL AND finished IS NULL ORDER BY started ASC`
	return r.queryJobs(ctx, query)
}

func (r *JobRepository) ListFinished(ctx context.Context, limit int) ([]*domain.Job, error) {
	query := selectColumns + ` FROM jobs WHERE finished IS NOT NULL ORDER BY finished DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list finished: %v", domain.ErrStorage, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *JobRepository) RunningOnNode(ctx context.Context, node string) (int, error) {
	var sum int
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(ncpus), 0) FROM jobs
		WHERE started IS NOT NULL AND finished IS NULL AND node = $1`, node).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("%w: running on node: %v", domain.ErrStorage, err)
	}
	return sum, nil
}

func (r *JobRepository) RunningIDsOnNode(ctx context.Context, node string) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM jobs WHERE node = $1 AND started IS NOT NULL AND finished IS NULL`, node)
	if err != nil {
		return nil, fmt.Errorf("%w: running ids on node: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan running id: %v", domain.ErrStorage, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *JobRepository) ReconcileDangling(ctx context.Context, id int64, finishedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET finished = $2 WHERE id = $1`, id, finishedAt)
	if err != nil {
		return fmt.Errorf("%w: reconcile dangling job: %v", domain.ErrStorage, err)
	}
	return nil
}

func (r *JobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %v", domain.ErrStorage, err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

const selectColumns = `SELECT id, name, username, filename, ncpus, priority, nodes, node, submitted, started, finished`

const returningColumns = ` RETURNING id, name, username, filename, ncpus, priority, nodes, node, submitted, started, finished`

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var j domain.Job
	var nodesCSV, node *string
	err := row.Scan(
		&j.ID, &j.Name, &j.Username, &j.Filename, &j.NCPUs, &j.Priority,
		&nodesCSV, &node, &j.Submitted, &j.Started, &j.Finished,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	j.Nodes = domain.ParseNodesCSV(nodesCSV)
	if node != nil {
		j.Node = *node
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate jobs: %v", domain.ErrStorage, err)
	}
	return jobs, nil
}
