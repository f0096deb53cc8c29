package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/constants"
)

// Job represents one billable unit of asynchronous work.
type Job struct {
	ID           uuid.UUID           `json:"id"`
	OrgID        uuid.UUID           `json:"org_id"`
	Kind         constants.JobKind   `json:"kind"`
	DocumentID   *uuid.UUID          `json:"document_id,omitempty"`
	TemplateID   *uuid.UUID          `json:"template_id,omitempty"`
	SourceURL    string              `json:"source_url,omitempty"`
	RequestName  string              `json:"request_name,omitempty"`
	RequestDesc  string              `json:"request_desc,omitempty"`
	Status       constants.JobStatus `json:"status"`
	Provider     string              `json:"provider,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
}
