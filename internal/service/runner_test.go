package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/timmy/scrapedeck/internal/domain"
	"github.com/timmy/scrapedeck/internal/provider"
)

func testRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PollInterval: time.Millisecond,
		StallTimeout: 50 * time.Millisecond,
		MaxRetries:   3,
		ClaimTTL:     time.Minute,
	}
}

func seedSession(t *testing.T, sessions *fakeSessionStore, iterations *fakeIterationStore, totalPages, perIteration int) *domain.Session {
	t.Helper()
	session := &domain.Session{
		ID:                "sess-1",
		ProjectToken:      "tok",
		ProjectName:       "listings",
		OriginalURL:       "https://example.com/list?page=1",
		TotalPagesTarget:  totalPages,
		PagesPerIteration: perIteration,
		Status:            domain.SessionStatusPending,
	}
	if err := sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("Create session: %v", err)
	}
	ranges, err := Plan(totalPages, perIteration)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if err := iterations.CreateBatch(context.Background(), planIterations(session.ID, ranges)); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	return session
}

func waitForStatus(t *testing.T, sessions *fakeSessionStore, id string, want domain.SessionStatus) *domain.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, err := sessions.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if session.Status == want {
			return session
		}
		time.Sleep(2 * time.Millisecond)
	}
	session, _ := sessions.GetByID(context.Background(), id)
	t.Fatalf("Session never reached status %q, last status %q", want, session.Status)
	return nil
}

// Every iteration completes on the first poll; the session should walk the
// whole plan and finish with the full page target accounted for.
func TestRunnerCompletesSession(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete, PagesScraped: 10}, nil
	}
	prov.dataFn = func(runToken string) ([]provider.Record, error) {
		return []provider.Record{
			{"title": "item " + runToken, "price": "10"},
			{"title": "other " + runToken, "price": "20"},
		}, nil
	}

	session := seedSession(t, sessions, iterations, 25, 10)

	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	runner.Start(session.ID)

	got := waitForStatus(t, sessions, session.ID, domain.SessionStatusCompleted)
	if got.PagesCompleted != 25 {
		t.Errorf("PagesCompleted = %d, want 25", got.PagesCompleted)
	}
	if got.CurrentIteration != 3 {
		t.Errorf("CurrentIteration = %d, want 3", got.CurrentIteration)
	}
	// 3 runs, 2 unique records each
	if got.RecordsTotal != 6 {
		t.Errorf("RecordsTotal = %d, want 6", got.RecordsTotal)
	}

	starts := prov.starts()
	if len(starts) != 3 {
		t.Fatalf("StartRun calls = %d, want 3", len(starts))
	}
	wantRanges := [][2]int{{1, 10}, {11, 20}, {21, 25}}
	for i, call := range starts {
		if call.StartPage != wantRanges[i][0] || call.EndPage != wantRanges[i][1] {
			t.Errorf("Launch %d covered %d-%d, want %d-%d",
				i+1, call.StartPage, call.EndPage, wantRanges[i][0], wantRanges[i][1])
		}
	}

	iters, _ := iterations.ListBySession(context.Background(), session.ID)
	for _, iter := range iters {
		if iter.Status != domain.IterationStatusCompleted {
			t.Errorf("Iteration %d status = %q, want completed", iter.IterationIndex, iter.Status)
		}
		if iter.LastConfirmedPage != iter.PageEnd {
			t.Errorf("Iteration %d LastConfirmedPage = %d, want %d",
				iter.IterationIndex, iter.LastConfirmedPage, iter.PageEnd)
		}
	}
}

// A run that confirms partial pages and then goes quiet must be relaunched
// from the page after the last confirmed one, never from the range start.
func TestRunnerResumesStalledIterationFromConfirmedPage(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		if runToken == "run-1" {
			// Confirms 4 pages, then reports no further progress forever.
			return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateRunning, PagesScraped: 4}, nil
		}
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete, PagesScraped: 6}, nil
	}
	prov.dataFn = func(runToken string) ([]provider.Record, error) {
		return []provider.Record{{"title": "row", "page": runToken}}, nil
	}

	session := seedSession(t, sessions, iterations, 10, 10)

	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	runner.Start(session.ID)

	got := waitForStatus(t, sessions, session.ID, domain.SessionStatusCompleted)
	if got.PagesCompleted != 10 {
		t.Errorf("PagesCompleted = %d, want 10 (full planned range, no double count)", got.PagesCompleted)
	}

	starts := prov.starts()
	if len(starts) != 2 {
		t.Fatalf("StartRun calls = %d, want 2 (original + relaunch)", len(starts))
	}
	if starts[0].StartPage != 1 {
		t.Errorf("First launch StartPage = %d, want 1", starts[0].StartPage)
	}
	if starts[1].StartPage != 5 {
		t.Errorf("Relaunch StartPage = %d, want 5 (last confirmed page 4 + 1)", starts[1].StartPage)
	}
	if !strings.Contains(starts[1].StartURL, "page=5") {
		t.Errorf("Relaunch StartURL = %q, want pagination pointing at page 5", starts[1].StartURL)
	}

	iter, ok := iterations.get(session.ID, 1)
	if !ok {
		t.Fatal("Iteration 1 not found")
	}
	if iter.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", iter.Attempts)
	}
	if iter.Status != domain.IterationStatusCompleted {
		t.Errorf("Iteration status = %q, want completed", iter.Status)
	}
}

// Exhausting the retry budget on a single iteration fails the whole session
// and keeps already-combined records available.
func TestRunnerFailsSessionAfterRetryBudget(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		if runToken == "run-1" {
			return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete, PagesScraped: 5}, nil
		}
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateError, ErrorLog: "crawler crashed"}, nil
	}
	prov.dataFn = func(runToken string) ([]provider.Record, error) {
		return []provider.Record{{"title": "kept row"}}, nil
	}

	session := seedSession(t, sessions, iterations, 10, 5)

	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	runner.Start(session.ID)

	got := waitForStatus(t, sessions, session.ID, domain.SessionStatusFailed)
	if !strings.Contains(got.ErrorLog, "iteration 2") {
		t.Errorf("ErrorLog = %q, want mention of iteration 2", got.ErrorLog)
	}

	iter, ok := iterations.get(session.ID, 2)
	if !ok {
		t.Fatal("Iteration 2 not found")
	}
	if iter.Status != domain.IterationStatusFailed {
		t.Errorf("Iteration 2 status = %q, want failed", iter.Status)
	}
	if iter.Attempts != 3 {
		t.Errorf("Iteration 2 attempts = %d, want 3", iter.Attempts)
	}

	// Iteration 1 data survives the failure
	kept, err := records.ListBySession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("Combined records after failure = %d, want 1", len(kept))
	}
}

// Launch failures consume the retry budget the same way stalls do.
func TestRunnerRetriesLaunchFailures(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.startFn = func(call int, params provider.StartParams) (string, error) {
		if call < 3 {
			return "", errors.New("provider 503")
		}
		return "", nil
	}
	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete, PagesScraped: 5}, nil
	}

	session := seedSession(t, sessions, iterations, 5, 5)

	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	runner.Start(session.ID)

	waitForStatus(t, sessions, session.ID, domain.SessionStatusCompleted)

	iter, ok := iterations.get(session.ID, 1)
	if !ok {
		t.Fatal("Iteration 1 not found")
	}
	if iter.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3 (two launch failures + one success)", iter.Attempts)
	}
}

// A cancelled session's driving loop must stop without overwriting the
// cancelled status.
func TestRunnerStopLeavesCancelledStatus(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		// Never finishes on its own.
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateRunning, PagesScraped: 1}, nil
	}

	session := seedSession(t, sessions, iterations, 10, 10)

	cfg := testRunnerConfig()
	cfg.StallTimeout = time.Minute
	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, cfg)
	runner.Start(session.ID)

	waitForStatus(t, sessions, session.ID, domain.SessionStatusRunning)

	ok, err := sessions.TransitionStatus(context.Background(), session.ID,
		[]domain.SessionStatus{domain.SessionStatusRunning}, domain.SessionStatusCancelled)
	if err != nil || !ok {
		t.Fatalf("TransitionStatus: ok=%v err=%v", ok, err)
	}
	runner.Stop(session.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	got, err := sessions.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.SessionStatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
}

// Resume adopts every pending and running session found in the store.
func TestRunnerResumeAdoptsActiveSessions(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete, PagesScraped: 5}, nil
	}

	for i, status := range []domain.SessionStatus{
		domain.SessionStatusPending,
		domain.SessionStatusRunning,
		domain.SessionStatusCompleted,
	} {
		id := fmt.Sprintf("sess-%d", i+1)
		_ = sessions.Create(context.Background(), &domain.Session{
			ID:                id,
			ProjectToken:      "tok",
			OriginalURL:       "https://example.com/list?page=1",
			TotalPagesTarget:  5,
			PagesPerIteration: 5,
			Status:            status,
		})
		ranges, _ := Plan(5, 5)
		_ = iterations.CreateBatch(context.Background(), planIterations(id, ranges))
	}

	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	if err := runner.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	waitForStatus(t, sessions, "sess-1", domain.SessionStatusCompleted)
	waitForStatus(t, sessions, "sess-2", domain.SessionStatusCompleted)
}

// Two processes sharing one store must never drive the same session at the
// same time: the driver lease lets exactly one of them claim it, so every
// iteration is launched exactly once.
func TestRunnerLeaseKeepsSingleDriverAcrossProcesses(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		if poll < 15 {
			return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateRunning}, nil
		}
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete, PagesScraped: 10}, nil
	}

	session := seedSession(t, sessions, iterations, 20, 10)

	first := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	second := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())

	first.Start(session.ID)
	waitForStatus(t, sessions, session.ID, domain.SessionStatusRunning)

	// A second process adopting mid-flight must bounce off the fresh lease.
	if err := second.Resume(context.Background()); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	waitForStatus(t, sessions, session.ID, domain.SessionStatusCompleted)

	starts := prov.starts()
	if len(starts) != 2 {
		t.Fatalf("StartRun calls = %d, want 2 (one per iteration): %+v", len(starts), starts)
	}
	launched := map[int]int{}
	for _, call := range starts {
		launched[call.StartPage]++
	}
	for _, page := range []int{1, 11} {
		if launched[page] != 1 {
			t.Errorf("Iteration starting at page %d launched %d times, want 1", page, launched[page])
		}
	}
}

// A cancel written straight to the store by another process must halt the
// driving loop at the next poll tick: no further launches, no progress writes
// on the cancelled session.
func TestRunnerHaltsOnStoreCancelledSession(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		// Never finishes on its own.
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateRunning, PagesScraped: 1}, nil
	}

	session := seedSession(t, sessions, iterations, 30, 10)

	cfg := testRunnerConfig()
	cfg.StallTimeout = time.Minute
	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, cfg)
	runner.Start(session.ID)

	waitForStatus(t, sessions, session.ID, domain.SessionStatusRunning)

	// No runner.Stop: only the store knows about this cancel.
	ok, err := sessions.TransitionStatus(context.Background(), session.ID,
		[]domain.SessionStatus{domain.SessionStatusRunning}, domain.SessionStatusCancelled)
	if err != nil || !ok {
		t.Fatalf("TransitionStatus: ok=%v err=%v", ok, err)
	}

	// The loop releases its lease on exit; that is the observable sign it
	// actually stopped.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := sessions.GetByID(context.Background(), session.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.ClaimedBy == "" {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := sessions.GetByID(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.ClaimedBy != "" {
		t.Fatal("Driving loop never released the session lease after the cancel")
	}
	if got.Status != domain.SessionStatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
	if got.PagesCompleted != 0 {
		t.Errorf("PagesCompleted = %d, want 0 (no writes after cancel)", got.PagesCompleted)
	}
	if starts := prov.starts(); len(starts) != 1 {
		t.Errorf("StartRun calls = %d, want 1 (no launches after cancel)", len(starts))
	}
}

// A crash between the iteration-completed write and the session progress
// write leaves the iteration counted in its own row but not on the session.
// The restart must reconcile the counter from completed iterations so the
// session cannot finish with fewer pages than it actually covered.
func TestRunnerReconcilesUncountedCompletedIteration(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete, PagesScraped: 10}, nil
	}

	session := seedSession(t, sessions, iterations, 20, 10)
	if ok, err := sessions.TransitionStatus(context.Background(), session.ID,
		[]domain.SessionStatus{domain.SessionStatusPending}, domain.SessionStatusRunning); err != nil || !ok {
		t.Fatalf("TransitionStatus: ok=%v err=%v", ok, err)
	}

	// Iteration 1 finished before the crash; the session counter did not.
	iter, ok := iterations.get(session.ID, 1)
	if !ok {
		t.Fatal("Iteration 1 not found")
	}
	now := time.Now()
	iter.Status = domain.IterationStatusCompleted
	iter.LastConfirmedPage = iter.PageEnd
	iter.Attempts = 1
	iter.StartedAt = &now
	iter.CompletedAt = &now
	if err := iterations.Update(context.Background(), &iter); err != nil {
		t.Fatalf("Update: %v", err)
	}

	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	runner.Start(session.ID)

	got := waitForStatus(t, sessions, session.ID, domain.SessionStatusCompleted)
	if got.PagesCompleted != 20 {
		t.Errorf("PagesCompleted = %d, want 20 (10 reconciled + 10 driven)", got.PagesCompleted)
	}

	starts := prov.starts()
	if len(starts) != 1 {
		t.Fatalf("StartRun calls = %d, want 1 (iteration 1 already done)", len(starts))
	}
	if starts[0].StartPage != 11 {
		t.Errorf("Launch StartPage = %d, want 11", starts[0].StartPage)
	}
}

// An abandoned lease (driver crashed without releasing) must not block the
// session forever: a claim older than the TTL is up for adoption.
func TestRunnerAdoptsSessionWithExpiredLease(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	prov.statusFn = func(runToken string, poll int) (*provider.RunStatus, error) {
		return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete, PagesScraped: 5}, nil
	}

	stale := time.Now().Add(-10 * time.Minute)
	_ = sessions.Create(context.Background(), &domain.Session{
		ID:                "sess-stale",
		ProjectToken:      "tok",
		OriginalURL:       "https://example.com/list?page=1",
		TotalPagesTarget:  5,
		PagesPerIteration: 5,
		Status:            domain.SessionStatusRunning,
		ClaimedBy:         "driver-gone",
		ClaimedAt:         &stale,
	})
	ranges, _ := Plan(5, 5)
	_ = iterations.CreateBatch(context.Background(), planIterations("sess-stale", ranges))

	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	runner.Start("sess-stale")

	waitForStatus(t, sessions, "sess-stale", domain.SessionStatusCompleted)
}

// A fresh lease held by another driver blocks adoption entirely: the loop
// exits before touching the session.
func TestRunnerSkipsSessionWithFreshLease(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	records := &fakeRecordStore{}
	prov := newFakeProvider()

	now := time.Now()
	_ = sessions.Create(context.Background(), &domain.Session{
		ID:                "sess-claimed",
		ProjectToken:      "tok",
		OriginalURL:       "https://example.com/list?page=1",
		TotalPagesTarget:  5,
		PagesPerIteration: 5,
		Status:            domain.SessionStatusPending,
		ClaimedBy:         "other-driver",
		ClaimedAt:         &now,
	})
	ranges, _ := Plan(5, 5)
	_ = iterations.CreateBatch(context.Background(), planIterations("sess-claimed", ranges))

	runner := NewRunner(sessions, iterations, prov, NewCombiner(sessions, records), nil, testRunnerConfig())
	runner.Start("sess-claimed")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := runner.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	got, err := sessions.GetByID(context.Background(), "sess-claimed")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.SessionStatusPending {
		t.Errorf("Status = %q, want pending (other driver owns the session)", got.Status)
	}
	if starts := prov.starts(); len(starts) != 0 {
		t.Errorf("StartRun calls = %d, want 0", len(starts))
	}
}
