package domain

import "time"

// IterationStatus represents the state of a single bounded provider run.
type IterationStatus string

const (
	IterationStatusQueued    IterationStatus = "queued"
	IterationStatusRunning   IterationStatus = "running"
	IterationStatusCompleted IterationStatus = "completed"
	IterationStatusStalled   IterationStatus = "stalled"
	IterationStatusFailed    IterationStatus = "failed"
)

// Terminal reports whether the status is a final state for the iteration.
// Stalled is not terminal: a stalled iteration is relaunched from its resume
// point until the retry budget is exhausted.
func (s IterationStatus) Terminal() bool {
	switch s {
	case IterationStatusCompleted, IterationStatusFailed:
		return true
	}
	return false
}

// Iteration represents one bounded invocation of the provider covering a
// contiguous sub-range of pages. PageStart and PageEnd are the planned range
// and never change; a retry after a stall launches from LastConfirmedPage+1
// but the iteration's completed contribution is still the full planned range.
type Iteration struct {
	ID                uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID         string          `gorm:"type:text;not null;index:idx_session_iteration,unique" json:"session_id"`
	IterationIndex    int             `gorm:"not null;index:idx_session_iteration,unique" json:"iteration_index"`
	PageStart         int             `gorm:"not null" json:"page_start"`
	PageEnd           int             `gorm:"not null" json:"page_end"`
	RunToken          string          `gorm:"type:text" json:"run_token,omitempty"`
	Status            IterationStatus `gorm:"type:text;default:queued" json:"status"`
	RecordsProduced   int             `gorm:"default:0" json:"records_produced"`
	LastConfirmedPage int             `gorm:"default:0" json:"last_confirmed_page"`
	Attempts          int             `gorm:"default:0" json:"attempts"`
	ErrorLog          string          `gorm:"type:text" json:"error_log,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// TableName returns the database table name for Iteration.
func (Iteration) TableName() string {
	return "iteration_runs"
}

// PageCount returns the size of the planned page range.
func (i *Iteration) PageCount() int {
	return i.PageEnd - i.PageStart + 1
}

// ResumePage returns the page the next launch of this iteration should start
// from. Once any page has been confirmed, this is never page one again.
func (i *Iteration) ResumePage() int {
	if i.LastConfirmedPage >= i.PageStart {
		return i.LastConfirmedPage + 1
	}
	return i.PageStart
}
