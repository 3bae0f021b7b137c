package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/scrapedeck/internal/domain"
	"github.com/timmy/scrapedeck/internal/logger"
	"github.com/timmy/scrapedeck/internal/pagination"
	"github.com/timmy/scrapedeck/internal/provider"
)

// errStalled signals that an awaited run made no forward page progress within
// the stall timeout. A stall is a judgment policy, not a provider error: the
// iteration is relaunched from its resume point.
var errStalled = errors.New("no forward progress within stall timeout")

// errSessionHalted signals that the persisted session reached a terminal
// status while the driving loop was mid-plan, e.g. a cancel written by
// another process sharing the store.
var errSessionHalted = errors.New("session reached a terminal status in the store")

// errClaimLost signals that another driver process took over the session
// lease; this loop must stop touching the session.
var errClaimLost = errors.New("session driver lease lost")

// RunnerConfig holds the orchestration knobs for session driving loops.
type RunnerConfig struct {
	PollInterval time.Duration
	StallTimeout time.Duration
	MaxRetries   int
	ClaimTTL     time.Duration
}

func (c *RunnerConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 3 * time.Second
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 2 * time.Minute
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = time.Minute
	}
}

// Runner owns the lifecycle of incremental scraping sessions. Each active
// session gets one long-lived driving goroutine that advances the plan
// strictly sequentially: launch an iteration, poll it to completion under the
// stall detector, fold its results, persist, move on. Sessions are fully
// independent; one session's failure never affects another.
//
// Across processes sharing one store (the API and monitor binaries), a
// per-session driver lease in the session row keeps exactly one loop driving;
// the loop re-reads the persisted status at every iteration boundary and poll
// tick so a terminal state written elsewhere halts it.
type Runner struct {
	sessions   SessionStore
	iterations IterationStore
	provider   ProviderAPI
	combiner   *Combiner
	archiver   *ArchiveService // nil when archiving is disabled
	cfg        RunnerConfig
	driverID   string

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a new Runner with a unique driver identity for the
// session lease.
// Parameters:
//   - sessions: session store.
//   - iterations: iteration store.
//   - providerAPI: provider job-control client.
//   - combiner: result combiner.
//   - archiver: optional archive exporter; nil disables archiving.
//   - cfg: orchestration configuration; zero fields get defaults.
//
// Returns:
//   - *Runner: initialized runner.
func NewRunner(
	sessions SessionStore,
	iterations IterationStore,
	providerAPI ProviderAPI,
	combiner *Combiner,
	archiver *ArchiveService,
	cfg RunnerConfig,
) *Runner {
	cfg.applyDefaults()
	return &Runner{
		sessions:   sessions,
		iterations: iterations,
		provider:   providerAPI,
		combiner:   combiner,
		archiver:   archiver,
		cfg:        cfg,
		driverID:   uuid.New().String(),
		active:     make(map[string]context.CancelFunc),
	}
}

// Start launches the driving goroutine for a session. A session already being
// driven is left alone, so Start is safe to call repeatedly (the monitor
// rescans the store on an interval).
// Parameters:
//   - sessionID: session to drive.
func (r *Runner) Start(sessionID string) {
	r.mu.Lock()
	if _, running := r.active[sessionID]; running {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.active[sessionID] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.active, sessionID)
			r.mu.Unlock()
			cancel()
			r.wg.Done()
		}()
		r.drive(ctx, sessionID)
	}()
}

// Resume adopts every non-terminal session found in the store. Called at
// process startup so a restart re-enters each session at its last durable
// state, and periodically by the monitor to pick up newly created sessions.
// Sessions already driven by another live process are skipped inside drive:
// their lease is fresh and the claim fails.
// Parameters:
//   - ctx: context for the store lookup.
//
// Returns:
//   - error: non-nil if active sessions cannot be listed.
func (r *Runner) Resume(ctx context.Context) error {
	sessions, err := r.sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active sessions: %w", err)
	}
	for _, session := range sessions {
		r.Start(session.ID)
	}
	return nil
}

// Stop cancels a session's driving goroutine if one is active. The terminal
// status must already be persisted by the caller; the loop observes it and
// exits without marking the session failed.
func (r *Runner) Stop(sessionID string) {
	r.mu.Lock()
	cancel, ok := r.active[sessionID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels all driving goroutines and waits for them to exit.
// In-flight sessions keep their running status and are resumed on the next
// start.
// Parameters:
//   - ctx: deadline for the wait.
//
// Returns:
//   - error: ctx.Err() if the deadline expires first.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, cancel := range r.active {
		cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drive is the per-session driving loop: it walks the persisted plan from the
// first non-terminal iteration and advances it to a terminal session state.
func (r *Runner) drive(ctx context.Context, sessionID string) {
	ctx = logger.SetComponent(logger.SetSessionID(ctx, sessionID), "runner")

	session, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		logger.CtxError(ctx, "Failed to load session: %v", err)
		return
	}
	if session.Status.Terminal() {
		return
	}

	claimed, err := r.sessions.Claim(ctx, sessionID, r.driverID, r.cfg.ClaimTTL)
	if err != nil {
		logger.CtxError(ctx, "Failed to claim session: %v", err)
		return
	}
	if !claimed {
		logger.CtxDebug(ctx, "Session is driven by another process, skipping")
		return
	}
	// Release with a fresh context so a takeover does not have to wait out
	// the lease TTL after this loop exits for any reason.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.sessions.ReleaseClaim(releaseCtx, sessionID, r.driverID); err != nil {
			logger.CtxWarn(ctx, "Failed to release session claim: %v", err)
		}
	}()

	if session.Status == domain.SessionStatusPending {
		ok, err := r.sessions.TransitionStatus(ctx, sessionID,
			[]domain.SessionStatus{domain.SessionStatusPending}, domain.SessionStatusRunning)
		if err != nil {
			logger.CtxError(ctx, "Failed to transition session to running: %v", err)
			return
		}
		if !ok {
			// Lost the race; another observer moved the session.
			return
		}
		session.Status = domain.SessionStatusRunning
	}

	iterations, err := r.iterations.ListBySession(ctx, sessionID)
	if err != nil {
		logger.CtxError(ctx, "Failed to load iterations: %v", err)
		return
	}

	// A crash between session insert and plan insert leaves a plan-less
	// session; the plan is deterministic so it can be rebuilt.
	if len(iterations) == 0 {
		ranges, err := Plan(session.TotalPagesTarget, session.PagesPerIteration)
		if err != nil {
			r.failSession(ctx, sessionID, &domain.Iteration{IterationIndex: 1}, err)
			return
		}
		if err := r.iterations.CreateBatch(ctx, planIterations(sessionID, ranges)); err != nil {
			logger.CtxError(ctx, "Failed to materialize iteration plan: %v", err)
			return
		}
		iterations, err = r.iterations.ListBySession(ctx, sessionID)
		if err != nil {
			logger.CtxError(ctx, "Failed to reload iterations: %v", err)
			return
		}
	}

	// The iteration row and the session counter are separate writes, so a
	// crash between them can leave a completed iteration uncounted. The
	// completed iterations are the authoritative record; reconcile the
	// session counter from them before driving on.
	if reconciled, lastDone := completedPages(session, iterations); reconciled != session.PagesCompleted {
		logger.CtxWarn(ctx, "Reconciling page counter from completed iterations: %d -> %d",
			session.PagesCompleted, reconciled)
		session.PagesCompleted = reconciled
		if err := r.sessions.RecordProgress(ctx, sessionID, reconciled, lastDone); err != nil {
			logger.CtxError(ctx, "Failed to persist reconciled progress: %v", err)
			return
		}
	}

	logger.CtxInfo(ctx, "Driving session: %d/%d pages done, %d iterations planned",
		session.PagesCompleted, session.TotalPagesTarget, len(iterations))

	for idx := range iterations {
		iter := &iterations[idx]
		if iter.Status == domain.IterationStatusCompleted {
			continue
		}
		if iter.Status == domain.IterationStatusFailed {
			r.failSession(ctx, sessionID, iter, errors.New("iteration already failed"))
			return
		}

		if err := r.keepAlive(ctx, sessionID); err != nil {
			r.haltDrive(ctx, sessionID, err)
			return
		}

		if err := r.runIteration(ctx, session, iter); err != nil {
			if ctx.Err() != nil || errors.Is(err, errSessionHalted) || errors.Is(err, errClaimLost) {
				r.haltDrive(ctx, sessionID, err)
				return
			}
			r.failSession(ctx, sessionID, iter, err)
			return
		}

		pagesCompleted := session.PagesCompleted + iter.PageCount()
		if pagesCompleted > session.TotalPagesTarget {
			pagesCompleted = session.TotalPagesTarget
		}
		session.PagesCompleted = pagesCompleted
		if err := r.sessions.RecordProgress(ctx, sessionID, pagesCompleted, iter.IterationIndex); err != nil {
			logger.CtxError(ctx, "Failed to persist session progress: %v", err)
			return
		}
		logger.With(logger.Fields{logger.FieldPages: pagesCompleted}).
			Info(ctx, "Session progress: %d/%d pages", pagesCompleted, session.TotalPagesTarget)
	}

	ok, err := r.sessions.TransitionStatus(ctx, sessionID,
		[]domain.SessionStatus{domain.SessionStatusRunning}, domain.SessionStatusCompleted)
	if err != nil {
		logger.CtxError(ctx, "Failed to mark session completed: %v", err)
		return
	}
	if !ok {
		return
	}
	logger.CtxInfo(ctx, "Session completed: %d/%d pages", session.PagesCompleted, session.TotalPagesTarget)

	if r.archiver != nil {
		if _, err := r.archiver.ArchiveSession(ctx, sessionID); err != nil {
			// Archiving is best effort; the combined dataset stays queryable
			// from the store either way.
			logger.CtxWarn(ctx, "Failed to archive session dataset: %v", err)
		}
	}
}

// completedPages sums the planned ranges of completed iterations, clamped to
// the session target, and returns the highest completed iteration index.
func completedPages(session *domain.Session, iterations []domain.Iteration) (int, int) {
	pages := 0
	lastDone := session.CurrentIteration
	for _, iter := range iterations {
		if iter.Status != domain.IterationStatusCompleted {
			continue
		}
		pages += iter.PageCount()
		if iter.IterationIndex > lastDone {
			lastDone = iter.IterationIndex
		}
	}
	if pages > session.TotalPagesTarget {
		pages = session.TotalPagesTarget
	}
	return pages, lastDone
}

// keepAlive re-reads the persisted session and renews the driver lease. The
// store, not the in-process context, is the authority on whether this loop
// may keep going: a terminal status written by any process halts it, and a
// lost lease means another driver owns the session now.
func (r *Runner) keepAlive(ctx context.Context, sessionID string) error {
	session, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status.Terminal() {
		return errSessionHalted
	}
	claimed, err := r.sessions.Claim(ctx, sessionID, r.driverID, r.cfg.ClaimTTL)
	if err != nil {
		return err
	}
	if !claimed {
		return errClaimLost
	}
	return nil
}

// haltDrive logs why a driving loop stopped without reaching a terminal
// transition of its own. The session row already carries the outcome.
func (r *Runner) haltDrive(ctx context.Context, sessionID string, cause error) {
	switch {
	case errors.Is(cause, errSessionHalted):
		session, err := r.sessions.GetByID(ctx, sessionID)
		if err != nil {
			logger.CtxWarn(ctx, "Failed to reload halted session: %v", err)
			return
		}
		logger.CtxInfo(ctx, "Driving loop stopped: session is %s in the store", session.Status)
	case errors.Is(cause, errClaimLost):
		logger.CtxWarn(ctx, "Driving loop stopped: another driver holds the session lease")
	default:
		r.observeCancellation(sessionID)
	}
}

// runIteration drives one iteration to completion, consuming the retry budget
// across launch failures, stalls, and provider-side run failures. Every retry
// after confirmed progress launches from the resume point, never from the
// start of the range.
func (r *Runner) runIteration(ctx context.Context, session *domain.Session, iter *domain.Iteration) error {
	ctx = logger.SetIteration(ctx, iter.IterationIndex)

	for iter.Attempts < r.cfg.MaxRetries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		iter.Attempts++

		startURL, err := r.resolveStartURL(ctx, session, iter.ResumePage())
		if err != nil {
			logger.With(logger.Fields{logger.FieldAttempt: iter.Attempts}).
				Warn(ctx, "Failed to resolve start URL: %v", err)
			iter.ErrorLog = err.Error()
			if uerr := r.iterations.Update(ctx, iter); uerr != nil {
				return uerr
			}
			continue
		}

		startPage := iter.ResumePage()
		runToken, err := r.provider.StartRun(ctx, session.ProjectToken, provider.StartParams{
			StartURL:  startURL,
			StartPage: startPage,
			EndPage:   iter.PageEnd,
		})
		if err != nil {
			// A launch failure is an immediate failed attempt, distinct from
			// a stall ("started but made no progress").
			logger.With(logger.Fields{logger.FieldAttempt: iter.Attempts}).
				Warn(ctx, "Launch failed: %v", err)
			iter.ErrorLog = err.Error()
			iter.Status = domain.IterationStatusQueued
			if uerr := r.iterations.Update(ctx, iter); uerr != nil {
				return uerr
			}
			continue
		}

		now := time.Now()
		iter.RunToken = runToken
		iter.Status = domain.IterationStatusRunning
		iter.ErrorLog = ""
		if iter.StartedAt == nil {
			iter.StartedAt = &now
		}
		if err := r.iterations.Update(ctx, iter); err != nil {
			return err
		}

		logger.With(logger.Fields{
			logger.FieldRunToken: runToken,
			logger.FieldAttempt:  iter.Attempts,
		}).Info(ctx, "Iteration launched: pages %d-%d (resume point %d)",
			iter.PageStart, iter.PageEnd, startPage)

		err = r.awaitRun(ctx, session, iter, startPage)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, errSessionHalted) || errors.Is(err, errClaimLost) {
			return err
		}
		if errors.Is(err, errStalled) {
			iter.Status = domain.IterationStatusStalled
			if uerr := r.iterations.Update(ctx, iter); uerr != nil {
				return uerr
			}
			logger.With(logger.Fields{logger.FieldAttempt: iter.Attempts}).
				Warn(ctx, "Iteration stalled at page %d, will resume from page %d",
					iter.LastConfirmedPage, iter.ResumePage())
			continue
		}

		logger.With(logger.Fields{logger.FieldAttempt: iter.Attempts}).
			Warn(ctx, "Iteration run failed: %v", err)
		iter.ErrorLog = err.Error()
		iter.Status = domain.IterationStatusQueued
		if uerr := r.iterations.Update(ctx, iter); uerr != nil {
			return uerr
		}
	}

	iter.Status = domain.IterationStatusFailed
	if err := r.iterations.Update(ctx, iter); err != nil {
		return err
	}
	return fmt.Errorf("iteration %d failed after %d attempts: %s",
		iter.IterationIndex, iter.Attempts, iter.ErrorLog)
}

// awaitRun polls the run until it finishes or stalls. Forward progress is
// measured in confirmed pages; every confirmed advance is persisted so it
// survives a process restart as the resume point. Each tick also re-reads the
// session row, so a cancel persisted by any process stops the wait.
func (r *Runner) awaitRun(ctx context.Context, session *domain.Session, iter *domain.Iteration, startPage int) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	lastProgress := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := r.keepAlive(ctx, session.ID); err != nil {
			return err
		}

		status, err := r.provider.RunStatus(ctx, iter.RunToken)
		if err != nil {
			// Transient status failures do not reset the stall clock.
			logger.CtxWarn(ctx, "Failed to poll run status: %v", err)
			if time.Since(lastProgress) > r.cfg.StallTimeout {
				return errStalled
			}
			continue
		}

		if status.PagesScraped > 0 {
			confirmed := startPage + status.PagesScraped - 1
			if confirmed > iter.PageEnd {
				confirmed = iter.PageEnd
			}
			if confirmed > iter.LastConfirmedPage {
				iter.LastConfirmedPage = confirmed
				if err := r.iterations.Update(ctx, iter); err != nil {
					return err
				}
				lastProgress = time.Now()
			}
		}

		if status.Status.Finished() {
			if status.Status == provider.RunStateComplete {
				return r.completeIteration(ctx, session, iter)
			}
			return fmt.Errorf("provider run ended with status %q: %s", status.Status, status.ErrorLog)
		}

		if time.Since(lastProgress) > r.cfg.StallTimeout {
			return errStalled
		}
	}
}

// completeIteration fetches the finished run's data, folds it into the
// combined dataset, and marks the iteration completed.
func (r *Runner) completeIteration(ctx context.Context, session *domain.Session, iter *domain.Iteration) error {
	records, err := r.provider.RunData(ctx, iter.RunToken, provider.FormatCSV)
	if err != nil {
		return fmt.Errorf("failed to fetch run data: %w", err)
	}

	result, err := r.combiner.Fold(ctx, session.ID, iter.IterationIndex, records)
	if err != nil {
		return fmt.Errorf("failed to fold iteration results: %w", err)
	}

	now := time.Now()
	iter.Status = domain.IterationStatusCompleted
	iter.RecordsProduced += len(records)
	iter.LastConfirmedPage = iter.PageEnd
	iter.CompletedAt = &now
	if err := r.iterations.Update(ctx, iter); err != nil {
		return err
	}

	durationMs := int64(0)
	if iter.StartedAt != nil {
		durationMs = now.Sub(*iter.StartedAt).Milliseconds()
	}
	logger.With(logger.Fields{
		logger.FieldCount:      result.Added,
		logger.FieldPages:      iter.PageCount(),
		logger.FieldDurationMs: durationMs,
	}).Info(ctx, "Iteration completed: %d records (%d duplicates removed)",
		result.Added, result.Duplicates)

	return nil
}

// resolveStartURL returns the iteration's launch URL, lazily resolving the
// session's original URL from the provider's project template when it was
// not supplied at creation.
func (r *Runner) resolveStartURL(ctx context.Context, session *domain.Session, page int) (string, error) {
	if session.OriginalURL == "" {
		project, err := r.provider.GetProject(ctx, session.ProjectToken)
		if err != nil {
			return "", fmt.Errorf("failed to resolve original URL: %w", err)
		}
		if project.StartURL == "" {
			return "", fmt.Errorf("project %s has no start URL configured", session.ProjectToken)
		}
		session.OriginalURL = project.StartURL
		if err := r.sessions.SetOriginalURL(ctx, session.ID, project.StartURL); err != nil {
			return "", err
		}
		logger.CtxInfo(ctx, "Resolved original URL from provider project: %s", project.StartURL)
	}
	return pagination.PageURL(session.OriginalURL, page), nil
}

// failSession moves the session to failed, keeping the partial combined
// dataset queryable.
func (r *Runner) failSession(ctx context.Context, sessionID string, iter *domain.Iteration, cause error) {
	reason := fmt.Sprintf("iteration %d: %v", iter.IterationIndex, cause)
	if err := r.sessions.SetErrorLog(ctx, sessionID, reason); err != nil {
		logger.CtxError(ctx, "Failed to persist session error log: %v", err)
	}
	ok, err := r.sessions.TransitionStatus(ctx, sessionID,
		[]domain.SessionStatus{domain.SessionStatusRunning}, domain.SessionStatusFailed)
	if err != nil {
		logger.CtxError(ctx, "Failed to mark session failed: %v", err)
		return
	}
	if ok {
		logger.CtxError(ctx, "Session failed: %s (partial combined dataset retained)", reason)
	}
}

// observeCancellation logs the outcome of a context-cancelled driving loop.
// The cancelled status itself is written by the session service; a plain
// shutdown leaves the session running so a restart resumes it.
func (r *Runner) observeCancellation(sessionID string) {
	ctx := logger.SetSessionID(context.Background(), sessionID)
	session, err := r.sessions.GetByID(ctx, sessionID)
	if err != nil {
		logger.CtxWarn(ctx, "Failed to reload session after cancellation: %v", err)
		return
	}
	if session.Status == domain.SessionStatusCancelled {
		logger.CtxInfo(ctx, "Session cancelled, driving loop stopped")
	} else {
		logger.CtxInfo(ctx, "Driving loop stopped (status %s), session will resume on restart", session.Status)
	}
}
