// Package store persists tutoring sessions, turns, documents and performance counters.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned when a canvas commit loses an optimistic lock.
	ErrVersionConflict = errors.New("session version conflict")
)

// Repository defines the persistence contract used by the tutoring service.
type Repository interface {
	// CreateSession inserts a new session. Version starts at 1.
	CreateSession(ctx context.Context, session *tutoring.Session) error

	// GetSession retrieves a session by id.
	GetSession(ctx context.Context, id string) (*tutoring.Session, error)

	// ListSessions returns the user's sessions ordered by UpdatedAt, newest first.
	ListSessions(ctx context.Context, userID string) ([]tutoring.Session, error)

	// UpdateSession writes title, mode, speech flag and challenge, bumping UpdatedAt.
	// Canvas state is only changed through CommitCanvas.
	UpdateSession(ctx context.Context, session *tutoring.Session) error

	// CommitCanvas replaces the session canvas.
	// If expectedVersion is non-negative, the update only happens if the stored
	// version matches (optimistic locking). Returns the new version.
	CommitCanvas(ctx context.Context, id string, canvas []lesson.Command, expectedVersion int64) (int64, error)

	// AppendTurn stores an immutable turn.
	AppendTurn(ctx context.Context, turn *tutoring.Turn) error

	// ListTurns returns a session's turns in creation order.
	ListTurns(ctx context.Context, sessionID string) ([]tutoring.Turn, error)

	// SaveDocument stores document metadata and extracted text.
	SaveDocument(ctx context.Context, doc *tutoring.Document) error

	// GetDocuments returns the documents with the given ids; unknown ids are skipped.
	GetDocuments(ctx context.Context, ids []string) ([]tutoring.Document, error)

	// ListDocuments returns the user's documents, newest first.
	ListDocuments(ctx context.Context, userID string) ([]tutoring.Document, error)

	// IncrementPerformance bumps the per-user per-mode counters, creating them on first use.
	IncrementPerformance(ctx context.Context, userID string, mode tutoring.Mode, negative bool) error

	// ListPerformance returns every counter recorded for the user.
	ListPerformance(ctx context.Context, userID string) ([]tutoring.PerformanceCounter, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
