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

// NewTemplateField is a field definition for CreateWithFields, before IDs exist.
type NewTemplateField struct {
	Name        string
	Label       string
	FieldType   constants.FieldType
	Required    bool
	Description string
}

// TemplateRepository loads template metadata and ordered field definitions,
// and creates templates produced by template-inference jobs.
type TemplateRepository interface {
	GetByID(ctx context.Context, templateID uuid.UUID) (*entity.Template, error)
	ListFields(ctx context.Context, templateID uuid.UUID) ([]entity.TemplateField, error)
	// NameExists supports collision-avoiding rename of generated templates.
	NameExists(ctx context.Context, orgID uuid.UUID, name string) (bool, error)
	CreateWithFields(ctx context.Context, orgID uuid.UUID, name, description string, fields []NewTemplateField) (*entity.Template, error)
}

type templateRepo struct {
	store *Store
	log   *slog.Logger
}

func NewTemplateRepository(store *Store, log *slog.Logger) TemplateRepository {
	if log == nil {
		log = slog.Default()
	}
	return &templateRepo{store: store, log: log}
}

func (r *templateRepo) GetByID(ctx context.Context, templateID uuid.UUID) (*entity.Template, error) {
	var (
		tpl       entity.Template
		id, org   string
		createdAt int64
	)
	err := r.store.DB.QueryRowContext(ctx, r.store.rebind(
		`SELECT id, org_id, name, description, webhook_url, created_at
		 FROM templates WHERE id = ?`), templateID.String()).
		Scan(&id, &org, &tpl.Name, &tpl.Description, &tpl.WebhookURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if tpl.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse template id: %w", err)
	}
	if tpl.OrgID, err = uuid.Parse(org); err != nil {
		return nil, fmt.Errorf("parse org id: %w", err)
	}
	tpl.CreatedAt = time.UnixMilli(createdAt).UTC()
	return &tpl, nil
}

func (r *templateRepo) ListFields(ctx context.Context, templateID uuid.UUID) ([]entity.TemplateField, error) {
	rows, err := r.store.DB.QueryContext(ctx, r.store.rebind(
		`SELECT id, template_id, name, label, field_type, required, description, order_index, created_at
		 FROM template_fields WHERE template_id = ? ORDER BY order_index`), templateID.String())
	if err != nil {
		return nil, fmt.Errorf("list template fields: %w", err)
	}
	defer rows.Close()

	var fields []entity.TemplateField
	for rows.Next() {
		var (
			f         entity.TemplateField
			id, tplID string
			fieldType string
			createdAt int64
		)
		if err := rows.Scan(&id, &tplID, &f.Name, &f.Label, &fieldType, &f.Required,
			&f.Description, &f.OrderIndex, &createdAt); err != nil {
			return nil, fmt.Errorf("scan template field: %w", err)
		}
		if f.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse field id: %w", err)
		}
		if f.TemplateID, err = uuid.Parse(tplID); err != nil {
			return nil, fmt.Errorf("parse template id: %w", err)
		}
		f.FieldType = constants.CanonicalFieldType(fieldType)
		f.CreatedAt = time.UnixMilli(createdAt).UTC()
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (r *templateRepo) NameExists(ctx context.Context, orgID uuid.UUID, name string) (bool, error) {
	var one int
	err := r.store.DB.QueryRowContext(ctx, r.store.rebind(
		`SELECT 1 FROM templates WHERE org_id = ? AND name = ?`),
		orgID.String(), name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check template name: %w", err)
	}
	return true, nil
}

func (r *templateRepo) CreateWithFields(ctx context.Context, orgID uuid.UUID, name, description string, fields []NewTemplateField) (*entity.Template, error) {
	now := time.Now().UTC()
	tpl := &entity.Template{
		ID:          uuid.New(),
		OrgID:       orgID,
		Name:        name,
		Description: description,
		CreatedAt:   now,
	}

	tx, err := r.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin template create: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, r.store.rebind(
		`INSERT INTO templates (id, org_id, name, description, created_at)
		 VALUES (?, ?, ?, ?, ?)`),
		tpl.ID.String(), orgID.String(), name, description, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	for i, f := range fields {
		_, err = tx.ExecContext(ctx, r.store.rebind(
			`INSERT INTO template_fields (id, template_id, name, label, field_type, required, description, order_index, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			uuid.New().String(), tpl.ID.String(), f.Name, f.Label, string(f.FieldType),
			f.Required, f.Description, i+1, now.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("create template field %q: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit template create: %w", err)
	}
	r.log.Info("template created", "template_id", tpl.ID, "org_id", orgID, "name", name, "fields", len(fields))
	return tpl, nil
}
