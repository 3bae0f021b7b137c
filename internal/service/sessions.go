package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/timmy/scrapedeck/internal/config"
	"github.com/timmy/scrapedeck/internal/domain"
	"github.com/timmy/scrapedeck/internal/logger"
)

// ValidationError reports a rejected session request. Handlers map it to a
// 400 response.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CreateSessionInput is the request payload for a new scraping session.
// PagesPerIteration is a pointer so an omitted field takes the configured
// default while an explicit zero or negative value is rejected.
type CreateSessionInput struct {
	ProjectToken      string `json:"project_token"`
	ProjectName       string `json:"project_name"`
	OriginalURL       string `json:"original_url"`
	TotalPages        int    `json:"total_pages"`
	PagesPerIteration *int   `json:"pages_per_iteration,omitempty"`
}

// SessionService creates, lists, and cancels scraping sessions. All durable
// state lives in the store; the service only validates, plans, and hands the
// session to the runner.
type SessionService struct {
	sessions   SessionStore
	iterations IterationStore
	records    RecordStore
	runner     *Runner
	cfg        config.ScrapeConfig
}

// NewSessionService creates a new SessionService.
// Parameters:
//   - sessions: session store.
//   - iterations: iteration store.
//   - records: combined-record store.
//   - runner: session runner.
//   - cfg: scrape limits and defaults.
//
// Returns:
//   - *SessionService: initialized service.
func NewSessionService(
	sessions SessionStore,
	iterations IterationStore,
	records RecordStore,
	runner *Runner,
	cfg config.ScrapeConfig,
) *SessionService {
	return &SessionService{
		sessions:   sessions,
		iterations: iterations,
		records:    records,
		runner:     runner,
		cfg:        cfg,
	}
}

// Create validates the request, persists the session with its full iteration
// plan, and starts the driving goroutine. The plan is materialized up front
// so a restart can resume from the store alone.
// Parameters:
//   - ctx: request context.
//   - input: session parameters.
//
// Returns:
//   - *domain.Session: the created session in pending state.
//   - error: *ValidationError for rejected input, or a store error.
func (s *SessionService) Create(ctx context.Context, input CreateSessionInput) (*domain.Session, error) {
	perIteration, err := s.validate(&input)
	if err != nil {
		return nil, err
	}

	session := &domain.Session{
		ID:                uuid.New().String(),
		ProjectToken:      input.ProjectToken,
		ProjectName:       input.ProjectName,
		OriginalURL:       input.OriginalURL,
		TotalPagesTarget:  input.TotalPages,
		PagesPerIteration: perIteration,
		Status:            domain.SessionStatusPending,
	}

	ranges, err := Plan(session.TotalPagesTarget, session.PagesPerIteration)
	if err != nil {
		return nil, err
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	if err := s.iterations.CreateBatch(ctx, planIterations(session.ID, ranges)); err != nil {
		return nil, fmt.Errorf("failed to create iteration plan: %w", err)
	}

	ctx = logger.SetSessionID(ctx, session.ID)
	logger.With(logger.Fields{
		logger.FieldPages: session.TotalPagesTarget,
		logger.FieldCount: len(ranges),
	}).Info(ctx, "Session created for project %s: %d pages in %d iterations",
		session.ProjectToken, session.TotalPagesTarget, len(ranges))

	s.runner.Start(session.ID)
	return session, nil
}

// validate checks the request and returns the resolved pages-per-iteration
// value. URLs without a recognizable pagination pattern are accepted: the
// launcher parameterizes them by appending ?page=N, the same rule applied to
// lazily resolved start URLs.
func (s *SessionService) validate(input *CreateSessionInput) (int, error) {
	input.ProjectToken = strings.TrimSpace(input.ProjectToken)
	if input.ProjectToken == "" {
		return 0, &ValidationError{Field: "project_token", Message: "is required"}
	}
	input.ProjectName = strings.TrimSpace(input.ProjectName)
	if input.ProjectName == "" {
		return 0, &ValidationError{Field: "project_name", Message: "is required"}
	}
	if input.TotalPages <= 0 {
		return 0, &ValidationError{Field: "total_pages", Message: "must be a positive integer"}
	}
	if input.TotalPages > s.cfg.MaxTotalPages {
		return 0, &ValidationError{
			Field:   "total_pages",
			Message: fmt.Sprintf("must not exceed %d", s.cfg.MaxTotalPages),
		}
	}
	perIteration := s.cfg.DefaultPagesPerRun
	if input.PagesPerIteration != nil {
		perIteration = *input.PagesPerIteration
	}
	if perIteration <= 0 {
		return 0, &ValidationError{Field: "pages_per_iteration", Message: "must be a positive integer"}
	}
	if perIteration > s.cfg.MaxPagesPerRun {
		return 0, &ValidationError{
			Field:   "pages_per_iteration",
			Message: fmt.Sprintf("must not exceed %d", s.cfg.MaxPagesPerRun),
		}
	}
	return perIteration, nil
}

// Get returns a session by ID.
// Parameters:
//   - ctx: request context.
//   - id: session ID.
//
// Returns:
//   - *domain.Session: the session.
//   - error: domain.ErrSessionNotFound if it does not exist.
func (s *SessionService) Get(ctx context.Context, id string) (*domain.Session, error) {
	return s.sessions.GetByID(ctx, id)
}

// List returns sessions ordered newest first, optionally filtered by status.
// Parameters:
//   - ctx: request context.
//   - status: optional status filter; empty means all.
//   - limit: maximum rows; 0 means the default of 50.
//   - offset: pagination offset.
//
// Returns:
//   - []domain.Session: matching sessions.
//   - error: non-nil on store failure.
func (s *SessionService) List(ctx context.Context, status domain.SessionStatus, limit, offset int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.sessions.List(ctx, status, limit, offset)
}

// Cancel requests cooperative cancellation of a session. The terminal status
// is persisted first so the outcome survives even if the driving goroutine is
// mid-operation; the goroutine observes the cancelled context and stops after
// its current provider call returns. Already-terminal sessions are a no-op.
// Parameters:
//   - ctx: request context.
//   - id: session ID.
//
// Returns:
//   - *domain.Session: the session after cancellation.
//   - error: domain.ErrSessionNotFound if it does not exist.
func (s *SessionService) Cancel(ctx context.Context, id string) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status.Terminal() {
		return session, nil
	}

	ok, err := s.sessions.TransitionStatus(ctx, id,
		[]domain.SessionStatus{domain.SessionStatusPending, domain.SessionStatusRunning},
		domain.SessionStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel session: %w", err)
	}
	if ok {
		s.runner.Stop(id)
		logger.CtxInfo(logger.SetSessionID(ctx, id), "Session cancelled, combined data retained")
	}
	return s.sessions.GetByID(ctx, id)
}

// Data returns the session's combined dataset in first-seen order. Available
// for any session state, so partial results from failed or cancelled sessions
// stay accessible.
// Parameters:
//   - ctx: request context.
//   - id: session ID.
//
// Returns:
//   - []domain.CombinedRecord: combined records ordered by position.
//   - error: domain.ErrSessionNotFound if the session does not exist.
func (s *SessionService) Data(ctx context.Context, id string) ([]domain.CombinedRecord, error) {
	if _, err := s.sessions.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.records.ListBySession(ctx, id)
}
