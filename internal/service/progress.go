package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/timmy/scrapedeck/internal/domain"
)

// IterationSummary is one iteration's row in a progress report.
type IterationSummary struct {
	Index       int        `json:"index"`
	Pages       string     `json:"pages"`
	Status      string     `json:"status"`
	Records     int        `json:"records"`
	Attempts    int        `json:"attempts"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ProgressReport is a read-only snapshot of a session's state, derived
// entirely from the store. Repeated calls never mutate anything.
type ProgressReport struct {
	SessionID           string             `json:"session_id"`
	ProjectToken        string             `json:"project_token"`
	ProjectName         string             `json:"project_name,omitempty"`
	Status              string             `json:"status"`
	PagesCompleted      int                `json:"pages_completed"`
	TotalPagesTarget    int                `json:"total_pages_target"`
	Percentage          float64            `json:"percentage"`
	IterationsCompleted int                `json:"iterations_completed"`
	IterationsNeeded    int                `json:"iterations_needed"`
	CurrentIteration    int                `json:"current_iteration"`
	RecordsTotal        int                `json:"records_total"`
	DuplicatesRemoved   int                `json:"duplicates_removed"`
	PagesPerMinute      float64            `json:"pages_per_minute,omitempty"`
	EstimatedRemaining  string             `json:"estimated_remaining_time"`
	ErrorLog            string             `json:"error_log,omitempty"`
	ArchiveURL          string             `json:"archive_url,omitempty"`
	StartedAt           *time.Time         `json:"started_at,omitempty"`
	CompletedAt         *time.Time         `json:"completed_at,omitempty"`
	Iterations          []IterationSummary `json:"iterations"`
}

// ProgressService builds progress reports for dashboard polling.
type ProgressService struct {
	sessions   SessionStore
	iterations IterationStore
}

// NewProgressService creates a new ProgressService.
// Parameters:
//   - sessions: session store.
//   - iterations: iteration store.
//
// Returns:
//   - *ProgressService: initialized service.
func NewProgressService(sessions SessionStore, iterations IterationStore) *ProgressService {
	return &ProgressService{sessions: sessions, iterations: iterations}
}

// Report assembles the progress snapshot for a session. The completion
// percentage is rounded to one decimal and clamped to [0, 100]; the remaining
// time estimate is derived from average completed-iteration throughput and is
// "unknown" until at least one iteration has completed.
// Parameters:
//   - ctx: request context.
//   - sessionID: session to report on.
//
// Returns:
//   - *ProgressReport: the snapshot.
//   - error: domain.ErrSessionNotFound if the session does not exist.
func (p *ProgressService) Report(ctx context.Context, sessionID string) (*ProgressReport, error) {
	session, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	iterations, err := p.iterations.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load iterations: %w", err)
	}

	report := &ProgressReport{
		SessionID:         session.ID,
		ProjectToken:      session.ProjectToken,
		ProjectName:       session.ProjectName,
		Status:            string(session.Status),
		PagesCompleted:    session.PagesCompleted,
		TotalPagesTarget:  session.TotalPagesTarget,
		Percentage:        percentage(session.PagesCompleted, session.TotalPagesTarget),
		IterationsNeeded:  session.IterationsNeeded(),
		CurrentIteration:  session.CurrentIteration,
		RecordsTotal:      session.RecordsTotal,
		DuplicatesRemoved: session.DuplicatesRemoved,
		ErrorLog:          session.ErrorLog,
		ArchiveURL:        session.ArchiveURL,
		StartedAt:         session.StartedAt,
		CompletedAt:       session.CompletedAt,
		Iterations:        make([]IterationSummary, 0, len(iterations)),
	}

	var (
		completedPages   int
		completedElapsed time.Duration
	)
	for _, iter := range iterations {
		if iter.Status == domain.IterationStatusCompleted {
			report.IterationsCompleted++
			if iter.StartedAt != nil && iter.CompletedAt != nil {
				completedPages += iter.PageCount()
				completedElapsed += iter.CompletedAt.Sub(*iter.StartedAt)
			}
		}
		report.Iterations = append(report.Iterations, IterationSummary{
			Index:       iter.IterationIndex,
			Pages:       fmt.Sprintf("%d-%d", iter.PageStart, iter.PageEnd),
			Status:      string(iter.Status),
			Records:     iter.RecordsProduced,
			Attempts:    iter.Attempts,
			CompletedAt: iter.CompletedAt,
		})
	}

	report.PagesPerMinute, report.EstimatedRemaining = estimateRemaining(
		session, report.IterationsCompleted, completedPages, completedElapsed)
	return report, nil
}

func percentage(completed, target int) float64 {
	if target <= 0 {
		return 0
	}
	pct := float64(completed) / float64(target) * 100
	pct = math.Round(pct*10) / 10
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// estimateRemaining projects the remaining wall time from the average
// throughput of completed iterations. Before any iteration completes there
// is no basis for a projection and the estimate reads "unknown".
func estimateRemaining(session *domain.Session, iterationsCompleted, completedPages int, elapsed time.Duration) (float64, string) {
	if session.Status.Terminal() {
		return 0, ""
	}
	if iterationsCompleted == 0 || completedPages == 0 || elapsed <= 0 {
		return 0, "unknown"
	}

	perMinute := float64(completedPages) / elapsed.Minutes()
	remaining := session.TotalPagesTarget - session.PagesCompleted
	if remaining <= 0 {
		return perMinute, "< 1 minute"
	}

	minutes := int(math.Ceil(float64(remaining) / perMinute))
	return math.Round(perMinute*10) / 10, formatMinutes(minutes)
}

func formatMinutes(minutes int) string {
	switch {
	case minutes < 1:
		return "< 1 minute"
	case minutes < 60:
		return fmt.Sprintf("%d minutes", minutes)
	default:
		return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
	}
}
