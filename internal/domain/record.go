package domain

import "time"

// CombinedRecord is one deduplicated output row of a session's combined
// dataset. Identity is a content fingerprint over normalized field values,
// not a provider-assigned id (the provider does not guarantee one). Position
// is the global insertion order across iterations, so the combined ordering
// is reproducible from the persisted rows alone.
type CombinedRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"type:text;not null;index:idx_session_fingerprint,unique" json:"session_id"`
	Fingerprint    string    `gorm:"type:text;not null;index:idx_session_fingerprint,unique" json:"fingerprint"`
	Position       int       `gorm:"not null;index" json:"position"`
	IterationIndex int       `gorm:"not null" json:"iteration_index"`
	Fields         string    `gorm:"type:text;not null" json:"fields"`
	FirstSeenAt    time.Time `json:"first_seen_at"`
}

// TableName returns the database table name for CombinedRecord.
func (CombinedRecord) TableName() string {
	return "combined_records"
}
