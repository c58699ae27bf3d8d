package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()

	sqlite, err := NewSQLite(filepath.Join(t.TempDir(), "data", "citta.db"))
	if err != nil {
		t.Fatalf("NewSQLite err: %v", err)
	}
	t.Cleanup(func() { _ = sqlite.Close() })

	return map[string]Repository{
		"memory": NewMemory(),
		"sqlite": sqlite,
	}
}

func TestSessionLifecycle(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

			first := &tutoring.Session{ID: "s1", UserID: "u1", Title: "Cells", Mode: tutoring.ModeReading, CreatedAt: base}
			second := &tutoring.Session{ID: "s2", UserID: "u1", Title: "Atoms", Mode: tutoring.ModeVisual, CreatedAt: base.Add(time.Minute)}
			other := &tutoring.Session{ID: "s3", UserID: "u2", Title: "Other", Mode: tutoring.ModeReading, CreatedAt: base}
			for _, s := range []*tutoring.Session{first, second, other} {
				if err := repo.CreateSession(ctx, s); err != nil {
					t.Fatalf("CreateSession err: %v", err)
				}
			}
			if first.Version != 1 {
				t.Fatalf("expected version 1, got %d", first.Version)
			}

			first.Mode = tutoring.ModeKinesthetic
			first.Challenge = &tutoring.KinestheticChallenge{
				Elements:  []tutoring.ChallengeElement{{ID: "a", Label: "Nucleus"}},
				DropZones: []tutoring.DropZone{{ElementID: "a", X: 10, Y: 20, Tolerance: 50}},
			}
			if err := repo.UpdateSession(ctx, first); err != nil {
				t.Fatalf("UpdateSession err: %v", err)
			}

			sessions, err := repo.ListSessions(ctx, "u1")
			if err != nil {
				t.Fatalf("ListSessions err: %v", err)
			}
			if len(sessions) != 2 || sessions[0].ID != "s1" {
				t.Fatalf("expected s1 first after update, got %+v", sessions)
			}

			got, err := repo.GetSession(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSession err: %v", err)
			}
			if got.Mode != tutoring.ModeKinesthetic {
				t.Fatalf("expected mode K, got %s", got.Mode)
			}
			if zone, ok := got.Challenge.ZoneFor("a"); !ok || zone.X != 10 {
				t.Fatalf("challenge not persisted: %+v", got.Challenge)
			}
			if got.CanvasState == nil {
				t.Fatal("canvas should be an empty list, not nil")
			}

			if _, err := repo.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestCommitCanvasOptimisticLock(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			session := &tutoring.Session{ID: "s1", UserID: "u1", Title: "t", Mode: tutoring.ModeVisual}
			if err := repo.CreateSession(ctx, session); err != nil {
				t.Fatalf("CreateSession err: %v", err)
			}

			canvas := []lesson.Command{{Kind: lesson.KindDrawCircle, Payload: json.RawMessage(`{"x":1,"y":2,"radius":3}`)}}
			version, err := repo.CommitCanvas(ctx, "s1", canvas, 1)
			if err != nil {
				t.Fatalf("CommitCanvas err: %v", err)
			}
			if version != 2 {
				t.Fatalf("expected version 2, got %d", version)
			}

			// a second writer still holding version 1 loses
			if _, err := repo.CommitCanvas(ctx, "s1", nil, 1); !errors.Is(err, ErrVersionConflict) {
				t.Fatalf("expected ErrVersionConflict, got %v", err)
			}

			if _, err := repo.CommitCanvas(ctx, "s1", nil, -1); err != nil {
				t.Fatalf("unconditional commit err: %v", err)
			}

			got, err := repo.GetSession(ctx, "s1")
			if err != nil {
				t.Fatalf("GetSession err: %v", err)
			}
			if len(got.CanvasState) != 0 || got.Version != 3 {
				t.Fatalf("unexpected session after commits: %+v", got)
			}

			if _, err := repo.CommitCanvas(ctx, "missing", nil, -1); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestTurnsKeepCreationOrder(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if err := repo.CreateSession(ctx, &tutoring.Session{ID: "s1", UserID: "u1", Title: "t", Mode: tutoring.ModeReading}); err != nil {
				t.Fatalf("CreateSession err: %v", err)
			}

			at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
			turns := []tutoring.Turn{
				{ID: "t1", SessionID: "s1", Sender: tutoring.SenderUser, Text: "hi", DocumentIDs: []string{"d1", "d2"}, CreatedAt: at},
				{ID: "t2", SessionID: "s1", Sender: tutoring.SenderAI, Text: "hello", CreatedAt: at},
				{ID: "t3", SessionID: "s1", Sender: tutoring.SenderUser, Text: "more", CreatedAt: at.Add(time.Second)},
			}
			for i := range turns {
				if err := repo.AppendTurn(ctx, &turns[i]); err != nil {
					t.Fatalf("AppendTurn err: %v", err)
				}
			}

			got, err := repo.ListTurns(ctx, "s1")
			if err != nil {
				t.Fatalf("ListTurns err: %v", err)
			}
			if len(got) != 3 || got[0].ID != "t1" || got[1].ID != "t2" || got[2].ID != "t3" {
				t.Fatalf("unexpected order: %+v", got)
			}
			if len(got[0].DocumentIDs) != 2 || got[0].DocumentIDs[1] != "d2" {
				t.Fatalf("document ids not persisted: %+v", got[0].DocumentIDs)
			}

			if err := repo.AppendTurn(ctx, &tutoring.Turn{ID: "x", SessionID: "missing"}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestDocumentsAndPerformance(t *testing.T) {
	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			docs := []tutoring.Document{
				{ID: "d1", UserID: "u1", Filename: "a.txt", OriginalFilename: "a.txt", MimeType: "text/plain", Size: 3, Text: "abc"},
				{ID: "d2", UserID: "u2", Filename: "b.txt", OriginalFilename: "b.txt", MimeType: "text/plain", Size: 3, Text: "def"},
			}
			for i := range docs {
				if err := repo.SaveDocument(ctx, &docs[i]); err != nil {
					t.Fatalf("SaveDocument err: %v", err)
				}
			}

			got, err := repo.GetDocuments(ctx, []string{"d2", "unknown", "d1"})
			if err != nil {
				t.Fatalf("GetDocuments err: %v", err)
			}
			if len(got) != 2 || got[0].ID != "d2" || got[1].Text != "abc" {
				t.Fatalf("unexpected documents: %+v", got)
			}

			mine, err := repo.ListDocuments(ctx, "u1")
			if err != nil {
				t.Fatalf("ListDocuments err: %v", err)
			}
			if len(mine) != 1 || mine[0].ID != "d1" {
				t.Fatalf("unexpected user documents: %+v", mine)
			}

			for _, negative := range []bool{true, false, true} {
				if err := repo.IncrementPerformance(ctx, "u1", tutoring.ModeVisual, negative); err != nil {
					t.Fatalf("IncrementPerformance err: %v", err)
				}
			}
			counters, err := repo.ListPerformance(ctx, "u1")
			if err != nil {
				t.Fatalf("ListPerformance err: %v", err)
			}
			if len(counters) != 1 || counters[0].ResponseCount != 3 || counters[0].NegativeCount != 2 {
				t.Fatalf("unexpected counters: %+v", counters)
			}
		})
	}
}
