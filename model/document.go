package model

import (
	"time"

	"github.com/eka-care/reports-parsing-sdk/ekacare"
)

// Document represents an uploaded medical document tracked by the service.
// DocumentID is the opaque upstream identifier; ID is the local record key.
type Document struct {
	ID         string              `json:"id"`
	Filename   string              `json:"filename"`
	Username   string              `json:"username"`
	ArchiveURL string              `json:"archive_url,omitempty"`
	DocType    string              `json:"doc_type"`
	Task       string              `json:"task"`
	Status     string              `json:"status"` // pending, processing, completed, failed
	DocumentID string              `json:"document_id,omitempty"`
	Result     *ekacare.PollResult `json:"result,omitempty"`
	ErrorMsg   string              `json:"error_msg,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Document status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)
