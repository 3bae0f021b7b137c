package repository

import (
	"context"

	"github.com/timmy/scrapedeck/internal/domain"
	"gorm.io/gorm"
)

// IterationRepository handles iteration run rows.
type IterationRepository struct {
	db *gorm.DB
}

// NewIterationRepository creates a new IterationRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//
// Returns:
//   - *IterationRepository: repository instance bound to db.
func NewIterationRepository(db *gorm.DB) *IterationRepository {
	return &IterationRepository{db: db}
}

// CreateBatch inserts the full planned iteration sequence for a session.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - iterations: iteration rows in plan order.
//
// Returns:
//   - error: non-nil if the insert fails.
func (r *IterationRepository) CreateBatch(ctx context.Context, iterations []domain.Iteration) error {
	if len(iterations) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&iterations).Error
}

// ListBySession retrieves a session's iterations ordered by iteration index.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//
// Returns:
//   - []domain.Iteration: iteration rows in plan order.
//   - error: non-nil if the query fails.
func (r *IterationRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.Iteration, error) {
	var iterations []domain.Iteration
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("iteration_index ASC").
		Find(&iterations).Error; err != nil {
		return nil, err
	}
	return iterations, nil
}

// Update persists an iteration row after a transition.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - iteration: iteration record with updated fields.
//
// Returns:
//   - error: non-nil if the update fails.
func (r *IterationRepository) Update(ctx context.Context, iteration *domain.Iteration) error {
	return r.db.WithContext(ctx).Save(iteration).Error
}

// CountCompleted counts an iteration's session siblings in completed state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//
// Returns:
//   - int64: number of completed iterations.
//   - error: non-nil if the query fails.
func (r *IterationRepository) CountCompleted(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.Iteration{}).
		Where("session_id = ? AND status = ?", sessionID, domain.IterationStatusCompleted).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
