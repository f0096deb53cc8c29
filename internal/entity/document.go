package entity

import (
	"time"

	"github.com/google/uuid"
)

// Document represents a registered input resource for extraction jobs.
type Document struct {
	ID         uuid.UUID `json:"id"`
	OrgID      uuid.UUID `json:"org_id"`
	Reference  string    `json:"reference"`
	URL        string    `json:"url"`
	PageNumber int       `json:"page_number"`
	CreatedAt  time.Time `json:"created_at"`
}
