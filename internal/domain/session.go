package domain

import "time"

// SessionStatus represents the lifecycle state of a scraping session.
// Values include SessionStatusPending, SessionStatusRunning, SessionStatusCompleted,
// SessionStatusFailed, and SessionStatusCancelled.
type SessionStatus string

const (
	SessionStatusPending   SessionStatus = "pending"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// Terminal reports whether the status is a final state.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled:
		return true
	}
	return false
}

// Session represents one incremental scraping campaign against a provider
// project, split into bounded iterations. The store row is the single source
// of truth for progress; there is no file-based side state.
type Session struct {
	ID                string        `gorm:"type:text;primaryKey" json:"id"`
	ProjectToken      string        `gorm:"type:text;not null;index" json:"project_token"`
	ProjectName       string        `gorm:"type:text;not null" json:"project_name"`
	OriginalURL       string        `gorm:"type:text" json:"original_url,omitempty"`
	TotalPagesTarget  int           `gorm:"not null" json:"total_pages_target"`
	PagesPerIteration int           `gorm:"not null" json:"pages_per_iteration"`
	PagesCompleted    int           `gorm:"default:0" json:"pages_completed"`
	CurrentIteration  int           `gorm:"default:0" json:"current_iteration"`
	RecordsTotal      int           `gorm:"default:0" json:"records_total"`
	DuplicatesRemoved int           `gorm:"default:0" json:"duplicates_removed"`
	Status            SessionStatus `gorm:"type:text;default:pending;index" json:"status"`
	ClaimedBy         string        `gorm:"type:text" json:"-"`
	ClaimedAt         *time.Time    `json:"-"`
	ErrorLog          string        `gorm:"type:text" json:"error_log,omitempty"`
	ArchiveURL        string        `gorm:"type:text" json:"archive_url,omitempty"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string {
	return "scraping_sessions"
}

// IterationsNeeded returns the planned iteration count: ceil(target / perIteration).
func (s *Session) IterationsNeeded() int {
	if s.PagesPerIteration <= 0 {
		return 0
	}
	return (s.TotalPagesTarget + s.PagesPerIteration - 1) / s.PagesPerIteration
}
