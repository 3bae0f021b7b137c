package service

import (
	"context"
	"testing"
	"time"

	"github.com/timmy/scrapedeck/internal/domain"
)

func TestPercentage(t *testing.T) {
	testCases := []struct {
		name      string
		completed int
		target    int
		want      float64
	}{
		{"zero", 0, 100, 0},
		{"third", 1, 3, 33.3},
		{"two thirds", 2, 3, 66.7},
		{"done", 100, 100, 100},
		{"overcount clamps", 120, 100, 100},
		{"zero target", 5, 0, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentage(tc.completed, tc.target); got != tc.want {
				t.Errorf("percentage(%d, %d) = %v, want %v", tc.completed, tc.target, got, tc.want)
			}
		})
	}
}

func TestFormatMinutes(t *testing.T) {
	testCases := []struct {
		minutes int
		want    string
	}{
		{0, "< 1 minute"},
		{1, "1 minutes"},
		{45, "45 minutes"},
		{60, "1h 0m"},
		{90, "1h 30m"},
		{150, "2h 30m"},
	}

	for _, tc := range testCases {
		if got := formatMinutes(tc.minutes); got != tc.want {
			t.Errorf("formatMinutes(%d) = %q, want %q", tc.minutes, got, tc.want)
		}
	}
}

func TestReportBeforeFirstCompletedIteration(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	seedSession(t, sessions, iterations, 25, 10)

	_, _ = sessions.TransitionStatus(context.Background(), "sess-1",
		[]domain.SessionStatus{domain.SessionStatusPending}, domain.SessionStatusRunning)

	report, err := NewProgressService(sessions, iterations).Report(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	if report.Percentage != 0 {
		t.Errorf("Percentage = %v, want 0", report.Percentage)
	}
	if report.EstimatedRemaining != "unknown" {
		t.Errorf("EstimatedRemaining = %q, want unknown before first completed iteration", report.EstimatedRemaining)
	}
	if report.IterationsNeeded != 3 {
		t.Errorf("IterationsNeeded = %d, want 3", report.IterationsNeeded)
	}
	if len(report.Iterations) != 3 {
		t.Errorf("Iteration summaries = %d, want 3", len(report.Iterations))
	}
	if report.Iterations[0].Pages != "1-10" {
		t.Errorf("First iteration pages = %q, want 1-10", report.Iterations[0].Pages)
	}
}

func TestReportEstimatesFromCompletedThroughput(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	seedSession(t, sessions, iterations, 30, 10)
	ctx := context.Background()

	_, _ = sessions.TransitionStatus(ctx, "sess-1",
		[]domain.SessionStatus{domain.SessionStatusPending}, domain.SessionStatusRunning)
	_ = sessions.RecordProgress(ctx, "sess-1", 10, 1)

	// First iteration took 2 minutes for 10 pages: 5 pages/minute
	iter, _ := iterations.get("sess-1", 1)
	started := time.Now().Add(-10 * time.Minute)
	completed := started.Add(2 * time.Minute)
	iter.Status = domain.IterationStatusCompleted
	iter.StartedAt = &started
	iter.CompletedAt = &completed
	iter.RecordsProduced = 40
	if err := iterations.Update(ctx, &iter); err != nil {
		t.Fatalf("Update: %v", err)
	}

	report, err := NewProgressService(sessions, iterations).Report(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}

	if report.Percentage != 33.3 {
		t.Errorf("Percentage = %v, want 33.3", report.Percentage)
	}
	if report.IterationsCompleted != 1 {
		t.Errorf("IterationsCompleted = %d, want 1", report.IterationsCompleted)
	}
	if report.PagesPerMinute != 5 {
		t.Errorf("PagesPerMinute = %v, want 5", report.PagesPerMinute)
	}
	// 20 pages remain at 5 pages/minute
	if report.EstimatedRemaining != "4 minutes" {
		t.Errorf("EstimatedRemaining = %q, want \"4 minutes\"", report.EstimatedRemaining)
	}
}

// The report is a pure read: issuing it repeatedly must return identical
// state and never advance anything.
func TestReportIsReadOnly(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	seedSession(t, sessions, iterations, 25, 10)
	ctx := context.Background()

	svc := NewProgressService(sessions, iterations)
	first, err := svc.Report(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := svc.Report(ctx, "sess-1")
		if err != nil {
			t.Fatalf("Report: %v", err)
		}
		if again.PagesCompleted != first.PagesCompleted ||
			again.Status != first.Status ||
			again.Percentage != first.Percentage ||
			again.EstimatedRemaining != first.EstimatedRemaining {
			t.Fatalf("Report changed between reads: %+v vs %+v", again, first)
		}
	}
}

func TestReportUnknownSession(t *testing.T) {
	sessions := newFakeSessionStore()
	iterations := &fakeIterationStore{}
	if _, err := NewProgressService(sessions, iterations).Report(context.Background(), "missing"); err != domain.ErrSessionNotFound {
		t.Errorf("Report(missing) error = %v, want ErrSessionNotFound", err)
	}
}
