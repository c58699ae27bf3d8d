package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		mode TEXT NOT NULL,
		speech_enabled INTEGER NOT NULL DEFAULT 0,
		canvas_json TEXT NOT NULL DEFAULT '[]',
		challenge_json TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, updated_at);

	CREATE TABLE IF NOT EXISTS turns (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		sender TEXT NOT NULL,
		text TEXT NOT NULL,
		document_ids TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		filename TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		path TEXT NOT NULL,
		mime_type TEXT NOT NULL,
		size INTEGER NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_user ON documents(user_id, created_at);

	CREATE TABLE IF NOT EXISTS performance (
		user_id TEXT NOT NULL,
		mode TEXT NOT NULL,
		response_count INTEGER NOT NULL DEFAULT 0,
		negative_count INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, mode)
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *tutoring.Session) error {
	now := time.Now().UTC()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}
	session.Version = 1

	canvasJSON, err := encodeCanvas(session.CanvasState)
	if err != nil {
		return err
	}
	challengeJSON, err := encodeChallenge(session.Challenge)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sessions (id, user_id, title, mode, speech_enabled, canvas_json, challenge_json, version, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.UserID, session.Title, string(session.Mode), boolToInt(session.SpeechEnabled),
		canvasJSON, challengeJSON, session.Version,
		session.CreatedAt.UnixNano(), session.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

const sessionColumns = `id, user_id, title, mode, speech_enabled, canvas_json, challenge_json, version, created_at, updated_at`

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*tutoring.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns the user's sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context, userID string) ([]tutoring.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	result := make([]tutoring.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *session)
	}
	return result, rows.Err()
}

// UpdateSession writes the mutable session metadata.
func (s *SQLiteStore) UpdateSession(ctx context.Context, session *tutoring.Session) error {
	challengeJSON, err := encodeChallenge(session.Challenge)
	if err != nil {
		return err
	}

	updatedAt := time.Now().UTC()
	query := `UPDATE sessions SET title = ?, mode = ?, speech_enabled = ?, challenge_json = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query,
		session.Title, string(session.Mode), boolToInt(session.SpeechEnabled), challengeJSON,
		updatedAt.UnixNano(), session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	session.UpdatedAt = updatedAt
	return nil
}

// CommitCanvas replaces the canvas, optionally guarded by the expected version.
func (s *SQLiteStore) CommitCanvas(ctx context.Context, id string, canvas []lesson.Command, expectedVersion int64) (int64, error) {
	canvasJSON, err := encodeCanvas(canvas)
	if err != nil {
		return 0, err
	}

	query := `UPDATE sessions SET canvas_json = ?, version = version + 1, updated_at = ? WHERE id = ?`
	args := []interface{}{canvasJSON, time.Now().UTC().UnixNano(), id}
	if expectedVersion >= 0 {
		query += ` AND version = ?`
		args = append(args, expectedVersion)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("update canvas: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}

	var version int64
	if err := s.db.QueryRowContext(ctx, `SELECT version FROM sessions WHERE id = ?`, id).Scan(&version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("read session version: %w", err)
	}

	if rows == 0 {
		log.Printf("[store] canvas commit lost optimistic lock: session=%s expected=%d current=%d", id, expectedVersion, version)
		return version, ErrVersionConflict
	}
	return version, nil
}

// AppendTurn stores a turn.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *tutoring.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, turn.SessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}

	var documentIDs interface{}
	if len(turn.DocumentIDs) > 0 {
		documentIDs = strings.Join(turn.DocumentIDs, ",")
	}

	query := `INSERT INTO turns (id, session_id, sender, text, document_ids, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		turn.ID, turn.SessionID, string(turn.Sender), turn.Text, documentIDs, turn.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

// ListTurns returns a session's turns ordered by creation time.
func (s *SQLiteStore) ListTurns(ctx context.Context, sessionID string) ([]tutoring.Turn, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender, text, document_ids, created_at
		FROM turns WHERE session_id = ? ORDER BY created_at, seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	result := make([]tutoring.Turn, 0)
	for rows.Next() {
		var (
			turn        tutoring.Turn
			sender      string
			documentIDs sql.NullString
			createdAt   int64
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &sender, &turn.Text, &documentIDs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		turn.Sender = tutoring.Sender(sender)
		if documentIDs.Valid && documentIDs.String != "" {
			turn.DocumentIDs = strings.Split(documentIDs.String, ",")
		}
		turn.CreatedAt = time.Unix(0, createdAt).UTC()
		result = append(result, turn)
	}
	return result, rows.Err()
}

// SaveDocument stores document metadata and extracted text.
func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *tutoring.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	query := `
	INSERT INTO documents (id, user_id, filename, original_filename, path, mime_type, size, text, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text,
		size = excluded.size`

	if _, err := s.db.ExecContext(ctx, query,
		doc.ID, doc.UserID, doc.Filename, doc.OriginalFilename, doc.Path, doc.MimeType, doc.Size, doc.Text,
		doc.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

const documentColumns = `id, user_id, filename, original_filename, path, mime_type, size, text, created_at`

// GetDocuments returns documents by id, skipping unknown ids.
func (s *SQLiteStore) GetDocuments(ctx context.Context, ids []string) ([]tutoring.Document, error) {
	result := make([]tutoring.Document, 0, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]tutoring.Document, len(ids))
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		byID[doc.ID] = doc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// keep the caller's order
	for _, id := range ids {
		if doc, ok := byID[id]; ok {
			result = append(result, doc)
		}
	}
	return result, nil
}

// ListDocuments returns the user's documents, newest first.
func (s *SQLiteStore) ListDocuments(ctx context.Context, userID string) ([]tutoring.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	result := make([]tutoring.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, doc)
	}
	return result, rows.Err()
}

// IncrementPerformance bumps the counters for a user and mode.
func (s *SQLiteStore) IncrementPerformance(ctx context.Context, userID string, mode tutoring.Mode, negative bool) error {
	query := `
	INSERT INTO performance (user_id, mode, response_count, negative_count)
	VALUES (?, ?, 1, ?)
	ON CONFLICT(user_id, mode) DO UPDATE SET
		response_count = response_count + 1,
		negative_count = negative_count + excluded.negative_count`

	if _, err := s.db.ExecContext(ctx, query, userID, string(mode), boolToInt(negative)); err != nil {
		return fmt.Errorf("increment performance: %w", err)
	}
	return nil
}

// ListPerformance returns the user's counters.
func (s *SQLiteStore) ListPerformance(ctx context.Context, userID string) ([]tutoring.PerformanceCounter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, mode, response_count, negative_count FROM performance WHERE user_id = ? ORDER BY mode`, userID)
	if err != nil {
		return nil, fmt.Errorf("query performance: %w", err)
	}
	defer rows.Close()

	result := make([]tutoring.PerformanceCounter, 0, len(tutoring.AllModes))
	for rows.Next() {
		var (
			counter tutoring.PerformanceCounter
			mode    string
		)
		if err := rows.Scan(&counter.UserID, &mode, &counter.ResponseCount, &counter.NegativeCount); err != nil {
			return nil, fmt.Errorf("scan performance row: %w", err)
		}
		counter.Mode = tutoring.Mode(mode)
		result = append(result, counter)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*tutoring.Session, error) {
	var (
		session       tutoring.Session
		mode          string
		speechEnabled int
		canvasJSON    string
		challengeJSON sql.NullString
		createdAt     int64
		updatedAt     int64
	)

	err := row.Scan(
		&session.ID, &session.UserID, &session.Title, &mode, &speechEnabled,
		&canvasJSON, &challengeJSON, &session.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	session.Mode = tutoring.Mode(mode)
	session.SpeechEnabled = speechEnabled != 0
	session.CreatedAt = time.Unix(0, createdAt).UTC()
	session.UpdatedAt = time.Unix(0, updatedAt).UTC()

	session.CanvasState = []lesson.Command{}
	if canvasJSON != "" {
		if err := json.Unmarshal([]byte(canvasJSON), &session.CanvasState); err != nil {
			return nil, fmt.Errorf("decode canvas for session %s: %w", session.ID, err)
		}
	}

	if challengeJSON.Valid && challengeJSON.String != "" {
		var challenge tutoring.KinestheticChallenge
		if err := json.Unmarshal([]byte(challengeJSON.String), &challenge); err != nil {
			return nil, fmt.Errorf("decode challenge for session %s: %w", session.ID, err)
		}
		session.Challenge = &challenge
	}

	return &session, nil
}

func scanDocument(row rowScanner) (tutoring.Document, error) {
	var (
		doc       tutoring.Document
		createdAt int64
	)
	if err := row.Scan(
		&doc.ID, &doc.UserID, &doc.Filename, &doc.OriginalFilename, &doc.Path,
		&doc.MimeType, &doc.Size, &doc.Text, &createdAt,
	); err != nil {
		return tutoring.Document{}, fmt.Errorf("scan document row: %w", err)
	}
	doc.CreatedAt = time.Unix(0, createdAt).UTC()
	return doc, nil
}

func encodeCanvas(canvas []lesson.Command) (string, error) {
	if canvas == nil {
		canvas = []lesson.Command{}
	}
	raw, err := json.Marshal(canvas)
	if err != nil {
		return "", fmt.Errorf("encode canvas: %w", err)
	}
	return string(raw), nil
}

func encodeChallenge(challenge *tutoring.KinestheticChallenge) (interface{}, error) {
	if challenge == nil {
		return nil, nil
	}
	raw, err := json.Marshal(challenge)
	if err != nil {
		return nil, fmt.Errorf("encode challenge: %w", err)
	}
	return string(raw), nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
