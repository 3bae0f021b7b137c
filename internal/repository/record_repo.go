package repository

import (
	"context"

	"github.com/timmy/scrapedeck/internal/domain"
	"gorm.io/gorm"
)

// RecordRepository handles combined (deduplicated) result rows.
type RecordRepository struct {
	db *gorm.DB
}

// NewRecordRepository creates a new RecordRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *RecordRepository: repository instance bound to db.
func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// CreateBatch inserts newly folded records.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - records: combined records in insertion order.
//
// Returns:
//   - error: non-nil if the insert fails.
func (r *RecordRepository) CreateBatch(ctx context.Context, records []domain.CombinedRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).CreateInBatches(&records, 200).Error
}

// Fingerprints retrieves the set of fingerprints already present for a session.
// Used to seed the combiner after a process restart so a relaunched iteration
// that re-returns previously seen rows does not re-insert them.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//
// Returns:
//   - map[string]struct{}: fingerprint set.
//   - error: non-nil if the query fails.
func (r *RecordRepository) Fingerprints(ctx context.Context, sessionID string) (map[string]struct{}, error) {
	var fingerprints []string
	if err := r.db.WithContext(ctx).
		Model(&domain.CombinedRecord{}).
		Where("session_id = ?", sessionID).
		Pluck("fingerprint", &fingerprints).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(fingerprints))
	for _, fp := range fingerprints {
		set[fp] = struct{}{}
	}
	return set, nil
}

// ListBySession retrieves a session's combined dataset in stable insertion order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//
// Returns:
//   - []domain.CombinedRecord: records ordered by position.
//   - error: non-nil if the query fails.
func (r *RecordRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.CombinedRecord, error) {
	var records []domain.CombinedRecord
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("position ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MaxPosition retrieves the highest insertion position for a session, or zero
// when the combined set is empty.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//
// Returns:
//   - int: highest position value.
//   - error: non-nil if the query fails.
func (r *RecordRepository) MaxPosition(ctx context.Context, sessionID string) (int, error) {
	var max int
	if err := r.db.WithContext(ctx).
		Model(&domain.CombinedRecord{}).
		Where("session_id = ?", sessionID).
		Select("COALESCE(MAX(position), 0)").
		Scan(&max).Error; err != nil {
		return 0, err
	}
	return max, nil
}

// CountBySession counts a session's combined records.
func (r *RecordRepository) CountBySession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.CombinedRecord{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
