package repository

import (
	"context"
	"errors"
	"time"

	"github.com/timmy/scrapedeck/internal/domain"
	"gorm.io/gorm"
)

// SessionRepository handles scraping session rows.
type SessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository creates a new SessionRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *SessionRepository: repository instance bound to db.
func NewSessionRepository(db *gorm.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Create inserts a new session row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - session: session record to persist.
//
// Returns:
//   - error: non-nil if the insert fails.
func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// GetByID retrieves a session by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
//
// Returns:
//   - *domain.Session: session record if found.
//   - error: domain.ErrSessionNotFound if no row exists, otherwise the query error.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

// List retrieves sessions, newest first, optionally filtered by status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - status: session status to filter by; empty means all.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
//
// Returns:
//   - []domain.Session: matching session records.
//   - error: non-nil if the query fails.
func (r *SessionRepository) List(ctx context.Context, status domain.SessionStatus, limit, offset int) ([]domain.Session, error) {
	var sessions []domain.Session
	query := r.db.WithContext(ctx)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// ListActive retrieves all sessions that still need driving (pending or running).
// Parameters:
//   - ctx: context for cancellation and deadlines.
//
// Returns:
//   - []domain.Session: non-terminal session records, oldest first.
//   - error: non-nil if the query fails.
func (r *SessionRepository) ListActive(ctx context.Context) ([]domain.Session, error) {
	var sessions []domain.Session
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []domain.SessionStatus{domain.SessionStatusPending, domain.SessionStatusRunning}).
		Order("created_at ASC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// TransitionStatus performs a conditional status update: the row is changed
// only if its current status is one of the expected values. This is the
// compare-and-swap that keeps racing observers from producing lost updates.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
//   - from: statuses the transition is valid from.
//   - to: target status.
//
// Returns:
//   - bool: true if the row was updated.
//   - error: non-nil if the update fails.
func (r *SessionRepository) TransitionStatus(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	now := time.Now()
	switch to {
	case domain.SessionStatusRunning:
		updates["started_at"] = &now
	case domain.SessionStatusCompleted, domain.SessionStatusFailed, domain.SessionStatusCancelled:
		updates["completed_at"] = &now
	}

	res := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Claim acquires or renews the driver lease on a session. The update succeeds
// only while the session is still drivable and the lease is free, already held
// by this driver, or expired. A fresh lease held by another driver blocks the
// claim, which is what keeps a second process from adopting a running session.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
//   - driverID: identity of the claiming driver process.
//   - ttl: lease duration; a lease older than this is considered abandoned.
//
// Returns:
//   - bool: true if this driver now holds the lease.
//   - error: non-nil if the update fails.
func (r *SessionRepository) Claim(ctx context.Context, id, driverID string, ttl time.Duration) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status IN ?", id,
			[]domain.SessionStatus{domain.SessionStatusPending, domain.SessionStatusRunning}).
		Where("claimed_by = ? OR claimed_by = '' OR claimed_by IS NULL OR claimed_at IS NULL OR claimed_at < ?",
			driverID, now.Add(-ttl)).
		Updates(map[string]interface{}{
			"claimed_by": driverID,
			"claimed_at": &now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ReleaseClaim drops the driver lease if this driver still holds it, so
// another process can adopt the session without waiting out the TTL.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
//   - driverID: identity of the releasing driver process.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *SessionRepository) ReleaseClaim(ctx context.Context, id, driverID string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND claimed_by = ?", id, driverID).
		Updates(map[string]interface{}{
			"claimed_by": "",
			"claimed_at": nil,
		}).Error
}

// RecordProgress updates pages completed and the current iteration index. The
// write is guarded on the running status so a driver that lost a race with a
// cancel cannot keep mutating a terminal session.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
//   - pagesCompleted: new monotone page counter value.
//   - currentIteration: 1-based index of the iteration now in flight or just finished.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *SessionRepository) RecordProgress(ctx context.Context, id string, pagesCompleted, currentIteration int) error {
	return r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ? AND status = ?", id, domain.SessionStatusRunning).
		Updates(map[string]interface{}{
			"pages_completed":   pagesCompleted,
			"current_iteration": currentIteration,
		}).Error
}

// AddCombineCounters increments the record and duplicate counters after a fold.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
//   - added: records added to the combined set.
//   - duplicates: duplicates removed during the fold.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *SessionRepository) AddCombineCounters(ctx context.Context, id string, added, duplicates int) error {
	return r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"records_total":      gorm.Expr("records_total + ?", added),
			"duplicates_removed": gorm.Expr("duplicates_removed + ?", duplicates),
		}).Error
}

// SetOriginalURL stores a lazily resolved start URL.
func (r *SessionRepository) SetOriginalURL(ctx context.Context, id, url string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("original_url", url).Error
}

// SetErrorLog stores the failure reason for a session.
func (r *SessionRepository) SetErrorLog(ctx context.Context, id, errorLog string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("error_log", errorLog).Error
}

// SetArchiveURL stores the object-storage URL of the exported dataset.
func (r *SessionRepository) SetArchiveURL(ctx context.Context, id, url string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("archive_url", url).Error
}
