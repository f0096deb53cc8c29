package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/constants"
	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/entity"
)

// maxErrorLen bounds error_message in jobs and usage_records.
const maxErrorLen = 2000

// NewJobParams carries everything the submission path sets on a job.
type NewJobParams struct {
	OrgID       uuid.UUID
	Kind        constants.JobKind
	DocumentID  *uuid.UUID
	TemplateID  *uuid.UUID
	SourceURL   string
	RequestName string
	RequestDesc string
}

// JobRepository owns the job state machine rows.
type JobRepository interface {
	Create(ctx context.Context, p NewJobParams) (*entity.Job, error)
	GetByID(ctx context.Context, jobID uuid.UUID) (*entity.Job, error)
	// Claim flips queued->running in one conditional update, stamping
	// started_at only if unset. Returns false when the row was not in
	// queued (already claimed, or terminal).
	Claim(ctx context.Context, jobID uuid.UUID, provider string) (bool, error)
	MarkSucceeded(ctx context.Context, jobID uuid.UUID) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error
	// SetTemplateID records the output of a template-inference job.
	SetTemplateID(ctx context.Context, jobID, templateID uuid.UUID) error
	// Cancel succeeds only while the job is still queued.
	Cancel(ctx context.Context, jobID uuid.UUID) error
	// ListQueued is used at daemon startup to re-enqueue unprocessed work.
	ListQueued(ctx context.Context, limit int) ([]uuid.UUID, error)
}

type jobRepo struct {
	store *Store
	log   *slog.Logger
}

func NewJobRepository(store *Store, log *slog.Logger) JobRepository {
	if log == nil {
		log = slog.Default()
	}
	return &jobRepo{store: store, log: log}
}

func (r *jobRepo) Create(ctx context.Context, p NewJobParams) (*entity.Job, error) {
	job := &entity.Job{
		ID:          uuid.New(),
		OrgID:       p.OrgID,
		Kind:        p.Kind,
		DocumentID:  p.DocumentID,
		TemplateID:  p.TemplateID,
		SourceURL:   p.SourceURL,
		RequestName: p.RequestName,
		RequestDesc: p.RequestDesc,
		Status:      constants.JobStatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`INSERT INTO jobs (id, org_id, kind, document_id, template_id, source_url,
		                   request_name, request_desc, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID.String(), job.OrgID.String(), string(job.Kind),
		uuidPtr(job.DocumentID), uuidPtr(job.TemplateID), job.SourceURL,
		job.RequestName, job.RequestDesc, string(job.Status), job.CreatedAt.UnixMilli())
	if err != nil {
		r.log.Error("job create failed", "org_id", p.OrgID, "err", err)
		return nil, fmt.Errorf("create job: %w", err)
	}
	r.log.Info("job created", "job_id", job.ID, "kind", job.Kind, "org_id", job.OrgID)
	return job, nil
}

func (r *jobRepo) GetByID(ctx context.Context, jobID uuid.UUID) (*entity.Job, error) {
	row := r.store.DB.QueryRowContext(ctx, r.store.rebind(
		`SELECT id, org_id, kind, document_id, template_id, source_url,
		        request_name, request_desc, status, provider, error_message,
		        created_at, started_at, completed_at
		 FROM jobs WHERE id = ?`), jobID.String())
	return scanJob(row)
}

func (r *jobRepo) Claim(ctx context.Context, jobID uuid.UUID, provider string) (bool, error) {
	now := time.Now().UTC().UnixMilli()
	res, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`UPDATE jobs
		 SET status = ?, provider = ?, started_at = COALESCE(started_at, ?)
		 WHERE id = ? AND status = ?`),
		string(constants.JobStatusRunning), provider, now,
		jobID.String(), string(constants.JobStatusQueued))
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim job rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	r.log.Info("job claimed", "job_id", jobID, "provider", provider)
	return true, nil
}

func (r *jobRepo) MarkSucceeded(ctx context.Context, jobID uuid.UUID) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?`),
		string(constants.JobStatusSucceeded), time.Now().UTC().UnixMilli(), jobID.String())
	if err != nil {
		r.log.Error("job finish(succeeded) failed", "job_id", jobID, "err", err)
		return fmt.Errorf("mark succeeded: %w", err)
	}
	r.log.Info("job finished (succeeded)", "job_id", jobID)
	return nil
}

func (r *jobRepo) MarkFailed(ctx context.Context, jobID uuid.UUID, message string) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`),
		string(constants.JobStatusFailed), common.Truncate(message, maxErrorLen),
		time.Now().UTC().UnixMilli(), jobID.String())
	if err != nil {
		r.log.Error("job finish(failed) failed", "job_id", jobID, "err", err)
		return fmt.Errorf("mark failed: %w", err)
	}
	r.log.Warn("job finished (failed)", "job_id", jobID, "error", message)
	return nil
}

func (r *jobRepo) SetTemplateID(ctx context.Context, jobID, templateID uuid.UUID) error {
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`UPDATE jobs SET template_id = ? WHERE id = ?`),
		templateID.String(), jobID.String())
	if err != nil {
		return fmt.Errorf("set template id: %w", err)
	}
	return nil
}

func (r *jobRepo) Cancel(ctx context.Context, jobID uuid.UUID) error {
	res, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status = ?`),
		string(constants.JobStatusCancelled), time.Now().UTC().UnixMilli(),
		jobID.String(), string(constants.JobStatusQueued))
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("cancel job rows: %w", err)
	}
	if n == 0 {
		return common.ErrAlreadyClaimed
	}
	r.log.Info("job cancelled", "job_id", jobID)
	return nil
}

func (r *jobRepo) ListQueued(ctx context.Context, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(
		`SELECT id FROM jobs WHERE status = ? ORDER BY created_at LIMIT ?`),
		string(constants.JobStatusQueued), limit)
	if err != nil {
		return nil, fmt.Errorf("list queued: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	var (
		job                    entity.Job
		id, orgID, kind, state string
		docID, tplID           sql.NullString
		createdAt              int64
		startedAt, completedAt sql.NullInt64
	)
	err := row.Scan(&id, &orgID, &kind, &docID, &tplID, &job.SourceURL,
		&job.RequestName, &job.RequestDesc, &state, &job.Provider, &job.ErrorMessage,
		&createdAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if job.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}
	if job.OrgID, err = uuid.Parse(orgID); err != nil {
		return nil, fmt.Errorf("parse org id: %w", err)
	}
	if job.Kind, err = constants.ParseJobKind(kind); err != nil {
		return nil, err
	}
	if job.Status, err = constants.ParseJobStatus(state); err != nil {
		return nil, err
	}
	if docID.Valid {
		v, err := uuid.Parse(docID.String)
		if err != nil {
			return nil, fmt.Errorf("parse document id: %w", err)
		}
		job.DocumentID = &v
	}
	if tplID.Valid {
		v, err := uuid.Parse(tplID.String)
		if err != nil {
			return nil, fmt.Errorf("parse template id: %w", err)
		}
		job.TemplateID = &v
	}
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.StartedAt = timePtr(startedAt)
	job.CompletedAt = timePtr(completedAt)
	return &job, nil
}

func uuidPtr(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
