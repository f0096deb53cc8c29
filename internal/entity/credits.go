package entity

import (
	"time"

	"github.com/google/uuid"
)

// LedgerEntry is an immutable signed balance-change record.
type LedgerEntry struct {
	ID             uuid.UUID `json:"id"`
	OrgID          uuid.UUID `json:"org_id"`
	Delta          int64     `json:"delta"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageRecord is an append-only fact describing one job attempt's consumption.
type UsageRecord struct {
	ID           uuid.UUID  `json:"id"`
	JobID        uuid.UUID  `json:"job_id"`
	OrgID        uuid.UUID  `json:"org_id"`
	DocumentID   string     `json:"document_id,omitempty"`
	TemplateID   *uuid.UUID `json:"template_id,omitempty"`
	CreditsUsed  int64      `json:"credits_used"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	QueueSize    int        `json:"queue_size"`
	DurationMS   *int64     `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// ExtractedField is one persisted extraction result, unique per
// (document, template field).
type ExtractedField struct {
	ID              uuid.UUID `json:"id"`
	DocumentID      uuid.UUID `json:"document_id"`
	TemplateFieldID uuid.UUID `json:"template_field_id"`
	Value           string    `json:"value"`
	Confidence      float32   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
