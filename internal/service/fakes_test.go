package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timmy/scrapedeck/internal/domain"
	"github.com/timmy/scrapedeck/internal/provider"
)

// In-memory store fakes so the state machine can be exercised without a
// database. They mirror the conditional-update semantics of the real
// repositories, including the compare-and-swap status transitions.

type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*domain.Session)}
}

func (s *fakeSessionStore) Create(_ context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	s.sessions[session.ID] = &cp
	return nil
}

func (s *fakeSessionStore) GetByID(_ context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *fakeSessionStore) List(_ context.Context, status domain.SessionStatus, limit, offset int) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for _, session := range s.sessions {
		if status == "" || session.Status == status {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) ListActive(_ context.Context) ([]domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Session
	for _, session := range s.sessions {
		if session.Status == domain.SessionStatusPending || session.Status == domain.SessionStatusRunning {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) TransitionStatus(_ context.Context, id string, from []domain.SessionStatus, to domain.SessionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	for _, f := range from {
		if session.Status == f {
			session.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeSessionStore) Claim(_ context.Context, id, driverID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return false, domain.ErrSessionNotFound
	}
	if session.Status != domain.SessionStatusPending && session.Status != domain.SessionStatusRunning {
		return false, nil
	}
	now := time.Now()
	if session.ClaimedBy != "" && session.ClaimedBy != driverID &&
		session.ClaimedAt != nil && now.Sub(*session.ClaimedAt) < ttl {
		return false, nil
	}
	session.ClaimedBy = driverID
	session.ClaimedAt = &now
	return true, nil
}

func (s *fakeSessionStore) ReleaseClaim(_ context.Context, id, driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if session.ClaimedBy == driverID {
		session.ClaimedBy = ""
		session.ClaimedAt = nil
	}
	return nil
}

func (s *fakeSessionStore) RecordProgress(_ context.Context, id string, pagesCompleted, currentIteration int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	// Mirrors the repository's status guard: no progress writes on a
	// session that is no longer running.
	if session.Status != domain.SessionStatusRunning {
		return nil
	}
	session.PagesCompleted = pagesCompleted
	session.CurrentIteration = currentIteration
	return nil
}

func (s *fakeSessionStore) AddCombineCounters(_ context.Context, id string, added, duplicates int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.RecordsTotal += added
	session.DuplicatesRemoved += duplicates
	return nil
}

func (s *fakeSessionStore) SetOriginalURL(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.OriginalURL = url
	return nil
}

func (s *fakeSessionStore) SetErrorLog(_ context.Context, id, errorLog string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.ErrorLog = errorLog
	return nil
}

func (s *fakeSessionStore) SetArchiveURL(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.ArchiveURL = url
	return nil
}

type fakeIterationStore struct {
	mu         sync.Mutex
	iterations []domain.Iteration
}

func (s *fakeIterationStore) CreateBatch(_ context.Context, iterations []domain.Iteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range iterations {
		iterations[i].ID = uint(len(s.iterations) + 1)
		s.iterations = append(s.iterations, iterations[i])
	}
	return nil
}

func (s *fakeIterationStore) ListBySession(_ context.Context, sessionID string) ([]domain.Iteration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Iteration
	for _, iter := range s.iterations {
		if iter.SessionID == sessionID {
			out = append(out, iter)
		}
	}
	return out, nil
}

func (s *fakeIterationStore) Update(_ context.Context, iteration *domain.Iteration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.iterations {
		if s.iterations[i].ID == iteration.ID {
			s.iterations[i] = *iteration
			return nil
		}
	}
	return fmt.Errorf("iteration %d not found", iteration.ID)
}

func (s *fakeIterationStore) get(sessionID string, index int) (domain.Iteration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, iter := range s.iterations {
		if iter.SessionID == sessionID && iter.IterationIndex == index {
			return iter, true
		}
	}
	return domain.Iteration{}, false
}

type fakeRecordStore struct {
	mu      sync.Mutex
	records []domain.CombinedRecord
}

func (s *fakeRecordStore) CreateBatch(_ context.Context, records []domain.CombinedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *fakeRecordStore) Fingerprints(_ context.Context, sessionID string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for _, rec := range s.records {
		if rec.SessionID == sessionID {
			out[rec.Fingerprint] = struct{}{}
		}
	}
	return out, nil
}

func (s *fakeRecordStore) ListBySession(_ context.Context, sessionID string) ([]domain.CombinedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CombinedRecord
	for _, rec := range s.records {
		if rec.SessionID == sessionID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeRecordStore) MaxPosition(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	max := 0
	for _, rec := range s.records {
		if rec.SessionID == sessionID && rec.Position > max {
			max = rec.Position
		}
	}
	return max, nil
}

// fakeProvider is a scripted provider. Behavior is injected per test through
// the function fields; unset fields succeed with trivial defaults.
type fakeProvider struct {
	mu         sync.Mutex
	startCalls []provider.StartParams
	runSeq     int

	startFn  func(call int, params provider.StartParams) (string, error)
	statusFn func(runToken string, poll int) (*provider.RunStatus, error)
	dataFn   func(runToken string) ([]provider.Record, error)
	project  *provider.Project

	polls map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{polls: make(map[string]int)}
}

func (p *fakeProvider) StartRun(_ context.Context, _ string, params provider.StartParams) (string, error) {
	p.mu.Lock()
	p.startCalls = append(p.startCalls, params)
	call := len(p.startCalls)
	p.runSeq++
	token := fmt.Sprintf("run-%d", p.runSeq)
	p.mu.Unlock()

	if p.startFn != nil {
		custom, err := p.startFn(call, params)
		if err != nil {
			return "", err
		}
		if custom != "" {
			token = custom
		}
	}
	return token, nil
}

func (p *fakeProvider) RunStatus(_ context.Context, runToken string) (*provider.RunStatus, error) {
	p.mu.Lock()
	p.polls[runToken]++
	poll := p.polls[runToken]
	p.mu.Unlock()

	if p.statusFn != nil {
		return p.statusFn(runToken, poll)
	}
	return &provider.RunStatus{RunToken: runToken, Status: provider.RunStateComplete}, nil
}

func (p *fakeProvider) RunData(_ context.Context, runToken string, _ provider.DataFormat) ([]provider.Record, error) {
	if p.dataFn != nil {
		return p.dataFn(runToken)
	}
	return nil, nil
}

func (p *fakeProvider) ListProjects(_ context.Context) ([]provider.Project, error) {
	if p.project != nil {
		return []provider.Project{*p.project}, nil
	}
	return nil, nil
}

func (p *fakeProvider) GetProject(_ context.Context, token string) (*provider.Project, error) {
	if p.project != nil {
		return p.project, nil
	}
	return &provider.Project{Token: token, StartURL: "https://example.com/list?page=1"}, nil
}

func (p *fakeProvider) starts() []provider.StartParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]provider.StartParams, len(p.startCalls))
	copy(out, p.startCalls)
	return out
}
