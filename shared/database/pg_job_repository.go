package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	interfaces "canvas-server/shared/interfaces"
	"canvas-server/shared/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.JobRepository = (*pgJobRepository)(nil)

type pgJobRepository struct {
	logger *zap.Logger
}

// NewPgJobRepository создает новый экземпляр pgJobRepository.
func NewPgJobRepository(logger *zap.Logger) interfaces.JobRepository {
	return &pgJobRepository{
		logger: logger.Named("PgJobRepo"),
	}
}

const createJobQuery = `
INSERT INTO jobs (id, external_request_id, owner_id, kind, status, input, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const getJobByIDQuery = `
SELECT id, external_request_id, owner_id, kind, status, input, metadata, result, error, created_at, completed_at
FROM jobs
WHERE id = $1`

const getJobByExternalIDQuery = `
SELECT id, external_request_id, owner_id, kind, status, input, metadata, result, error, created_at, completed_at
FROM jobs
WHERE external_request_id = $1`

// Привязка внешнего идентификатора идемпотентна: повторный вызов с тем же
// значением не меняет строку (rows affected = 0), что не является ошибкой.
const bindExternalIDQuery = `
UPDATE jobs
SET external_request_id = $2
WHERE id = $1 AND external_request_id <> $2 AND status = 'pending'`

// Терминальный переход выполняется условным UPDATE: строка меняется только
// если задача все еще pending. Повторный finalize затрагивает 0 строк.
const finalizeJobQuery = `
UPDATE jobs
SET status = $2, result = $3, error = $4, completed_at = $5
WHERE id = $1 AND status = 'pending'`

const listJobsByIDsQuery = `
SELECT id, external_request_id, owner_id, kind, status, input, metadata, result, error, created_at, completed_at
FROM jobs
WHERE id::text = ANY($1)
ORDER BY created_at DESC`

const listJobsByOwnerQuery = `
SELECT id, external_request_id, owner_id, kind, status, input, metadata, result, error, created_at, completed_at
FROM jobs
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

const listJobsByOwnerAfterQuery = `
SELECT id, external_request_id, owner_id, kind, status, input, metadata, result, error, created_at, completed_at
FROM jobs
WHERE owner_id = $1 AND (created_at, id) < ($2, $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`

// Create persists a new provisional job record.
func (r *pgJobRepository) Create(ctx context.Context, querier interfaces.DBTX, job *models.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	metadataJSON, err := marshalNullable(job.Metadata)
	if err != nil {
		return fmt.Errorf("error marshaling job metadata: %w", err)
	}

	_, err = querier.Exec(ctx, createJobQuery,
		job.ID,
		job.ExternalRequestID,
		job.OwnerID,
		job.Kind,
		job.Status,
		[]byte(job.Input),
		metadataJSON,
		job.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create job", zap.String("job_id", job.ID.String()), zap.Error(err))
		return fmt.Errorf("error creating job: %w", err)
	}

	r.logger.Debug("Job created", zap.String("job_id", job.ID.String()), zap.String("external_request_id", job.ExternalRequestID))
	return nil
}

// GetByID retrieves a job by its internal ID.
func (r *pgJobRepository) GetByID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(querier.QueryRow(ctx, getJobByIDQuery, id))
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			return nil, models.ErrJobNotFound
		}
		r.logger.Error("Failed to get job by ID", zap.String("job_id", id.String()), zap.Error(err))
		return nil, fmt.Errorf("error getting job by id: %w", err)
	}
	return job, nil
}

// GetByExternalID retrieves a job by the provider-assigned request ID.
func (r *pgJobRepository) GetByExternalID(ctx context.Context, querier interfaces.DBTX, externalRequestID string) (*models.Job, error) {
	job, err := scanJob(querier.QueryRow(ctx, getJobByExternalIDQuery, externalRequestID))
	if err != nil {
		if errors.Is(err, models.ErrJobNotFound) {
			r.logger.Warn("Job not found by external ID", zap.String("external_request_id", externalRequestID))
			return nil, models.ErrJobNotFound
		}
		r.logger.Error("Failed to get job by external ID", zap.String("external_request_id", externalRequestID), zap.Error(err))
		return nil, fmt.Errorf("error getting job by external id: %w", err)
	}
	return job, nil
}

// BindExternalID replaces the placeholder external ID. Idempotent.
func (r *pgJobRepository) BindExternalID(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, externalRequestID string) error {
	tag, err := querier.Exec(ctx, bindExternalIDQuery, id, externalRequestID)
	if err != nil {
		r.logger.Error("Failed to bind external request ID",
			zap.String("job_id", id.String()),
			zap.String("external_request_id", externalRequestID),
			zap.Error(err),
		)
		return fmt.Errorf("error binding external request id: %w", err)
	}
	r.logger.Debug("External request ID bound",
		zap.String("job_id", id.String()),
		zap.String("external_request_id", externalRequestID),
		zap.Int64("rows_affected", tag.RowsAffected()),
	)
	return nil
}

// Finalize performs the one-shot terminal transition.
func (r *pgJobRepository) Finalize(ctx context.Context, querier interfaces.DBTX, id uuid.UUID, status models.JobStatus, result *models.JobResult, errMsg *string, completedAt time.Time) (int64, error) {
	if !status.IsTerminal() {
		return 0, models.ErrInvalidJobStatus
	}

	resultJSON, err := marshalNullable(result)
	if err != nil {
		return 0, fmt.Errorf("error marshaling job result: %w", err)
	}

	tag, err := querier.Exec(ctx, finalizeJobQuery, id, status, resultJSON, errMsg, completedAt)
	if err != nil {
		r.logger.Error("Failed to finalize job", zap.String("job_id", id.String()), zap.Error(err))
		return 0, fmt.Errorf("error finalizing job: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListByIDs retrieves jobs for a set of internal IDs.
func (r *pgJobRepository) ListByIDs(ctx context.Context, querier interfaces.DBTX, ids []uuid.UUID) ([]*models.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	idStrings := make([]string, 0, len(ids))
	for _, id := range ids {
		idStrings = append(idStrings, id.String())
	}

	rows, err := querier.Query(ctx, listJobsByIDsQuery, pq.Array(idStrings))
	if err != nil {
		r.logger.Error("Failed to list jobs by IDs", zap.Int("count", len(ids)), zap.Error(err))
		return nil, fmt.Errorf("error listing jobs by ids: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListByOwner retrieves the owner's jobs, newest first, keyset-paginated
// by (created_at, id).
func (r *pgJobRepository) ListByOwner(ctx context.Context, querier interfaces.DBTX, ownerID uuid.UUID, cursorTime time.Time, cursorID uuid.UUID, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows pgx.Rows
		err  error
	)
	if cursorTime.IsZero() {
		rows, err = querier.Query(ctx, listJobsByOwnerQuery, ownerID, limit)
	} else {
		rows, err = querier.Query(ctx, listJobsByOwnerAfterQuery, ownerID, cursorTime, cursorID, limit)
	}
	if err != nil {
		r.logger.Error("Failed to list jobs by owner", zap.String("owner_id", ownerID.String()), zap.Error(err))
		return nil, fmt.Errorf("error listing jobs by owner: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

// scanJob scans a single row into a Job struct.
// pgx.Row interface covers both QueryRow and Rows.Scan behavior.
func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job          models.Job
		inputJSON    []byte
		metadataJSON []byte
		resultJSON   []byte
	)
	err := row.Scan(
		&job.ID,
		&job.ExternalRequestID,
		&job.OwnerID,
		&job.Kind,
		&job.Status,
		&inputJSON,
		&metadataJSON,
		&resultJSON,
		&job.Error,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrJobNotFound
		}
		return nil, fmt.Errorf("error scanning job: %w", err)
	}

	job.Input = json.RawMessage(inputJSON)
	if len(metadataJSON) > 0 {
		var meta models.JobMetadata
		if err := json.Unmarshal(metadataJSON, &meta); err != nil {
			return nil, fmt.Errorf("error unmarshaling job metadata: %w", err)
		}
		job.Metadata = &meta
	}
	if len(resultJSON) > 0 {
		var result models.JobResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("error unmarshaling job result: %w", err)
		}
		job.Result = &result
	}
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating job rows: %w", err)
	}
	return jobs, nil
}

// marshalNullable сериализует значение в JSON или возвращает nil для nil-указателя,
// чтобы в колонку записался NULL, а не строка "null".
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case *models.JobMetadata:
		if val == nil {
			return nil, nil
		}
	case *models.JobResult:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
