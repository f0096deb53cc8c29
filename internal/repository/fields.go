package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/internal/entity"
)

// ExtractedFieldRepository persists extraction results, one row per
// (document, template field).
type ExtractedFieldRepository interface {
	Upsert(ctx context.Context, documentID, templateFieldID uuid.UUID, value string, confidence float32) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.ExtractedField, error)
}

type extractedFieldRepo struct {
	store *Store
	log   *slog.Logger
}

func NewExtractedFieldRepository(store *Store, log *slog.Logger) ExtractedFieldRepository {
	if log == nil {
		log = slog.Default()
	}
	return &extractedFieldRepo{store: store, log: log}
}

func (r *extractedFieldRepo) Upsert(ctx context.Context, documentID, templateFieldID uuid.UUID, value string, confidence float32) error {
	now := time.Now().UTC().UnixMilli()
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`INSERT INTO extracted_fields (id, document_id, template_field_id, value, confidence, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (document_id, template_field_id)
		 DO UPDATE SET value = excluded.value, confidence = excluded.confidence, updated_at = excluded.updated_at`),
		uuid.New().String(), documentID.String(), templateFieldID.String(), value, confidence, now, now)
	if err != nil {
		r.log.Error("extracted_field upsert failed", "document_id", documentID, "field_id", templateFieldID, "err", err)
		return fmt.Errorf("upsert extracted field: %w", err)
	}
	return nil
}

func (r *extractedFieldRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.ExtractedField, error) {
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(
		`SELECT id, document_id, template_field_id, value, confidence, created_at, updated_at
		 FROM extracted_fields WHERE document_id = ?`), documentID.String())
	if err != nil {
		return nil, fmt.Errorf("list extracted fields: %w", err)
	}
	defer rows.Close()

	var out []entity.ExtractedField
	for rows.Next() {
		var (
			f                    entity.ExtractedField
			id, docID, fieldID   string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&id, &docID, &fieldID, &f.Value, &f.Confidence, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan extracted field: %w", err)
		}
		if f.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse extracted field id: %w", err)
		}
		if f.DocumentID, err = uuid.Parse(docID); err != nil {
			return nil, fmt.Errorf("parse document id: %w", err)
		}
		if f.TemplateFieldID, err = uuid.Parse(fieldID); err != nil {
			return nil, fmt.Errorf("parse template field id: %w", err)
		}
		f.CreatedAt = time.UnixMilli(createdAt).UTC()
		f.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}
