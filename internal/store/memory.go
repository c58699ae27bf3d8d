package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

// MemoryStore keeps everything in process memory. Suitable for tests and local runs.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]tutoring.Session
	turns       map[string][]tutoring.Turn
	documents   map[string]tutoring.Document
	performance map[string]map[tutoring.Mode]tutoring.PerformanceCounter
}

// NewMemory bootstraps an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions:    make(map[string]tutoring.Session),
		turns:       make(map[string][]tutoring.Turn),
		documents:   make(map[string]tutoring.Document),
		performance: make(map[string]map[tutoring.Mode]tutoring.PerformanceCounter),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *tutoring.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	session.Version = 1

	s.mu.Lock()
	s.sessions[session.ID] = cloneSession(*session)
	s.turns[session.ID] = make([]tutoring.Turn, 0, 16)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*tutoring.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := cloneSession(session)
	return &copied, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, userID string) ([]tutoring.Session, error) {
	s.mu.RLock()
	result := make([]tutoring.Session, 0)
	for _, session := range s.sessions {
		if session.UserID == userID {
			result = append(result, cloneSession(session))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	return result, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, session *tutoring.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[session.ID]
	if !ok {
		return ErrNotFound
	}

	stored.Title = session.Title
	stored.Mode = session.Mode
	stored.SpeechEnabled = session.SpeechEnabled
	stored.Challenge = session.Challenge
	stored.UpdatedAt = time.Now().UTC()
	s.sessions[session.ID] = stored

	session.UpdatedAt = stored.UpdatedAt
	return nil
}

func (s *MemoryStore) CommitCanvas(_ context.Context, id string, canvas []lesson.Command, expectedVersion int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return 0, ErrNotFound
	}
	if expectedVersion >= 0 && stored.Version != expectedVersion {
		return stored.Version, ErrVersionConflict
	}

	stored.CanvasState = append([]lesson.Command(nil), canvas...)
	stored.Version++
	stored.UpdatedAt = time.Now().UTC()
	s.sessions[id] = stored
	return stored.Version, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, turn *tutoring.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[turn.SessionID]; !ok {
		return ErrNotFound
	}
	copied := *turn
	copied.DocumentIDs = append([]string(nil), turn.DocumentIDs...)
	s.turns[turn.SessionID] = append(s.turns[turn.SessionID], copied)
	return nil
}

func (s *MemoryStore) ListTurns(_ context.Context, sessionID string) ([]tutoring.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrNotFound
	}

	copied := make([]tutoring.Turn, len(turns))
	copy(copied, turns)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].CreatedAt.Before(copied[j].CreatedAt)
	})
	return copied, nil
}

func (s *MemoryStore) SaveDocument(_ context.Context, doc *tutoring.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.documents[doc.ID] = *doc
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetDocuments(_ context.Context, ids []string) ([]tutoring.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tutoring.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.documents[id]; ok {
			result = append(result, doc)
		}
	}
	return result, nil
}

func (s *MemoryStore) ListDocuments(_ context.Context, userID string) ([]tutoring.Document, error) {
	s.mu.RLock()
	result := make([]tutoring.Document, 0)
	for _, doc := range s.documents {
		if doc.UserID == userID {
			result = append(result, doc)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) IncrementPerformance(_ context.Context, userID string, mode tutoring.Mode, negative bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byMode, ok := s.performance[userID]
	if !ok {
		byMode = make(map[tutoring.Mode]tutoring.PerformanceCounter)
		s.performance[userID] = byMode
	}

	counter := byMode[mode]
	counter.UserID = userID
	counter.Mode = mode
	counter.ResponseCount++
	if negative {
		counter.NegativeCount++
	}
	byMode[mode] = counter
	return nil
}

func (s *MemoryStore) ListPerformance(_ context.Context, userID string) ([]tutoring.PerformanceCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]tutoring.PerformanceCounter, 0, len(tutoring.AllModes))
	for _, mode := range tutoring.AllModes {
		if counter, ok := s.performance[userID][mode]; ok {
			result = append(result, counter)
		}
	}
	return result, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneSession(session tutoring.Session) tutoring.Session {
	session.CanvasState = append([]lesson.Command{}, session.CanvasState...)
	return session
}
