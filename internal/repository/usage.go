package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/entity"
)

// UsageRepository appends per-attempt consumption facts. Rows are never
// updated; billing correctness does not depend on them.
type UsageRepository interface {
	Record(ctx context.Context, rec *entity.UsageRecord) error
	ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]entity.UsageRecord, error)
}

type usageRepo struct {
	store *Store
	log   *slog.Logger
}

func NewUsageRepository(store *Store, log *slog.Logger) UsageRepository {
	if log == nil {
		log = slog.Default()
	}
	return &usageRepo{store: store, log: log}
}

func (r *usageRepo) Record(ctx context.Context, rec *entity.UsageRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`INSERT INTO usage_records (id, job_id, org_id, document_id, template_id, credits_used,
		                            status, error_message, queue_size, duration_ms,
		                            created_at, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID.String(), rec.JobID.String(), rec.OrgID.String(), rec.DocumentID,
		uuidPtr(rec.TemplateID), rec.CreditsUsed, rec.Status,
		common.Truncate(rec.ErrorMessage, maxErrorLen), rec.QueueSize, int64Ptr(rec.DurationMS),
		rec.CreatedAt.UnixMilli(), msPtr(rec.StartedAt), msPtr(rec.CompletedAt))
	if err != nil {
		r.log.Error("usage record failed", "job_id", rec.JobID, "err", err)
		return fmt.Errorf("record usage: %w", err)
	}
	r.log.Info("usage recorded", "job_id", rec.JobID, "credits_used", rec.CreditsUsed,
		"status", rec.Status, "queue_size", rec.QueueSize)
	return nil
}

func (r *usageRepo) ListByOrg(ctx context.Context, orgID uuid.UUID, limit int) ([]entity.UsageRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(
		`SELECT id, job_id, org_id, document_id, template_id, credits_used,
		        status, error_message, queue_size, duration_ms,
		        created_at, started_at, completed_at
		 FROM usage_records WHERE org_id = ? ORDER BY created_at DESC LIMIT ?`),
		orgID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	defer rows.Close()

	var out []entity.UsageRecord
	for rows.Next() {
		var (
			rec                    entity.UsageRecord
			id, jobID, org         string
			tplID                  sql.NullString
			durationMS             sql.NullInt64
			createdAt              int64
			startedAt, completedAt sql.NullInt64
		)
		if err := rows.Scan(&id, &jobID, &org, &rec.DocumentID, &tplID, &rec.CreditsUsed,
			&rec.Status, &rec.ErrorMessage, &rec.QueueSize, &durationMS,
			&createdAt, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse usage id: %w", err)
		}
		if rec.JobID, err = uuid.Parse(jobID); err != nil {
			return nil, fmt.Errorf("parse job id: %w", err)
		}
		if rec.OrgID, err = uuid.Parse(org); err != nil {
			return nil, fmt.Errorf("parse org id: %w", err)
		}
		if tplID.Valid {
			v, err := uuid.Parse(tplID.String)
			if err != nil {
				return nil, fmt.Errorf("parse template id: %w", err)
			}
			rec.TemplateID = &v
		}
		if durationMS.Valid {
			d := durationMS.Int64
			rec.DurationMS = &d
		}
		rec.CreatedAt = time.UnixMilli(createdAt).UTC()
		rec.StartedAt = timePtr(startedAt)
		rec.CompletedAt = timePtr(completedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func int64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
