package models

import (
	"encoding/json"
	"time"
)

// StatementStatus is the processing status of an ingested statement.
type StatementStatus string

const (
	StatusPending    StatementStatus = "pending"
	StatusProcessing StatementStatus = "processing"
	StatusCompleted  StatementStatus = "completed"
	StatusFailed     StatementStatus = "failed"
)

// IsTerminal reports whether s is a valid release outcome.
func (s StatementStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatementDocument is a parsed CAS document as produced by the ingestion step.
// Data holds the raw folio -> scheme -> transaction tree.
type StatementDocument struct {
	ID        string          `json:"id"`
	FileName  string          `json:"file_name"`
	Data      json.RawMessage `json:"data"`
	Locked    bool            `json:"locked"`
	Status    StatementStatus `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
