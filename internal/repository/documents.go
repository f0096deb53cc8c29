package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/internal/common"
	"github.com/ishimwe-dev/docextract/internal/entity"
)

// DocumentRepository is the thin fetch/create path for registered documents.
type DocumentRepository interface {
	Create(ctx context.Context, orgID uuid.UUID, reference, url string, pageNumber int) (*entity.Document, error)
	GetByID(ctx context.Context, orgID, documentID uuid.UUID) (*entity.Document, error)
}

type documentRepo struct {
	store *Store
	log   *slog.Logger
}

func NewDocumentRepository(store *Store, log *slog.Logger) DocumentRepository {
	if log == nil {
		log = slog.Default()
	}
	return &documentRepo{store: store, log: log}
}

func (r *documentRepo) Create(ctx context.Context, orgID uuid.UUID, reference, url string, pageNumber int) (*entity.Document, error) {
	if pageNumber <= 0 {
		pageNumber = 1
	}
	doc := &entity.Document{
		ID:         uuid.New(),
		OrgID:      orgID,
		Reference:  reference,
		URL:        url,
		PageNumber: pageNumber,
		CreatedAt:  time.Now().UTC(),
	}
	_, err := r.store.DB.ExecContext(ctx, r.store.rebind(
		`INSERT INTO documents (id, org_id, reference, url, page_number, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`),
		doc.ID.String(), orgID.String(), reference, url, pageNumber, doc.CreatedAt.UnixMilli())
	if err != nil {
		r.log.Error("document create failed", "org_id", orgID, "err", err)
		return nil, fmt.Errorf("create document: %w", err)
	}
	r.log.Info("document registered", "document_id", doc.ID, "org_id", orgID, "reference", reference)
	return doc, nil
}

func (r *documentRepo) GetByID(ctx context.Context, orgID, documentID uuid.UUID) (*entity.Document, error) {
	var (
		doc       entity.Document
		id, org   string
		createdAt int64
	)
	err := r.store.DB.QueryRowContext(ctx, r.store.rebind(
		`SELECT id, org_id, reference, url, page_number, created_at
		 FROM documents WHERE id = ? AND org_id = ?`),
		documentID.String(), orgID.String()).
		Scan(&id, &org, &doc.Reference, &doc.URL, &doc.PageNumber, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if doc.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse document id: %w", err)
	}
	if doc.OrgID, err = uuid.Parse(org); err != nil {
		return nil, fmt.Errorf("parse org id: %w", err)
	}
	doc.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &doc, nil
}
