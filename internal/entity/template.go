package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/ishimwe-dev/docextract/constants"
)

// Template defines the expected output shape of a templated extraction job.
type Template struct {
	ID          uuid.UUID `json:"id"`
	OrgID       uuid.UUID `json:"org_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TemplateField is one named, typed output slot of a template.
type TemplateField struct {
	ID          uuid.UUID           `json:"id"`
	TemplateID  uuid.UUID           `json:"template_id"`
	Name        string              `json:"name"`
	Label       string              `json:"label"`
	FieldType   constants.FieldType `json:"field_type"`
	Required    bool                `json:"required"`
	Description string              `json:"description,omitempty"`
	OrderIndex  int                 `json:"order_index"`
	CreatedAt   time.Time           `json:"created_at"`
}
