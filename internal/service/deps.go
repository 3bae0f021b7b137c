package service

import (
	"context"
	"time"

	"github.com/timmy/scrapedeck/internal/domain"
	"github.com/timmy/scrapedeck/internal/provider"
)

// SessionStore is the session persistence surface the services need.
// Implemented by repository.SessionRepository.
type SessionStore interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	List(ctx context.Context, status domain.SessionStatus, limit, offset int) ([]domain.Session, error)
	ListActive(ctx context.Context) ([]domain.Session, error)
	TransitionStatus(ctx context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error)
	Claim(ctx context.Context, id, driverID string, ttl time.Duration) (bool, error)
	ReleaseClaim(ctx context.Context, id, driverID string) error
	RecordProgress(ctx context.Context, id string, pagesCompleted, currentIteration int) error
	AddCombineCounters(ctx context.Context, id string, added, duplicates int) error
	SetOriginalURL(ctx context.Context, id, url string) error
	SetErrorLog(ctx context.Context, id, errorLog string) error
	SetArchiveURL(ctx context.Context, id, url string) error
}

// IterationStore is the iteration persistence surface the services need.
// Implemented by repository.IterationRepository.
type IterationStore interface {
	CreateBatch(ctx context.Context, iterations []domain.Iteration) error
	ListBySession(ctx context.Context, sessionID string) ([]domain.Iteration, error)
	Update(ctx context.Context, iteration *domain.Iteration) error
}

// RecordStore is the combined-record persistence surface the services need.
// Implemented by repository.RecordRepository.
type RecordStore interface {
	CreateBatch(ctx context.Context, records []domain.CombinedRecord) error
	Fingerprints(ctx context.Context, sessionID string) (map[string]struct{}, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.CombinedRecord, error)
	MaxPosition(ctx context.Context, sessionID string) (int, error)
}

// ProviderAPI is the provider job-control surface the runner needs.
// Implemented by provider.Client.
type ProviderAPI interface {
	StartRun(ctx context.Context, projectToken string, params provider.StartParams) (string, error)
	RunStatus(ctx context.Context, runToken string) (*provider.RunStatus, error)
	RunData(ctx context.Context, runToken string, format provider.DataFormat) ([]provider.Record, error)
	ListProjects(ctx context.Context) ([]provider.Project, error)
	GetProject(ctx context.Context, token string) (*provider.Project, error)
}
