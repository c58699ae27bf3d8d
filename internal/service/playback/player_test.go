package playback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
)

type recorder struct {
	mu      sync.Mutex
	sleeps  []time.Duration
	spoken  []string
	applied []lesson.Kind
	indexes []int
	commits [][]lesson.Command
}

func (r *recorder) options() Options {
	return Options{
		Sleep: func(_ context.Context, d time.Duration) error {
			r.mu.Lock()
			r.sleeps = append(r.sleeps, d)
			r.mu.Unlock()
			return nil
		},
		OnSpeak: func(text string) {
			r.spoken = append(r.spoken, text)
		},
		OnApply: func(index int, cmd lesson.Command, _ []lesson.Command) {
			r.applied = append(r.applied, cmd.Kind)
			r.indexes = append(r.indexes, index)
		},
		OnCommit: func(canvas []lesson.Command) error {
			r.commits = append(r.commits, canvas)
			return nil
		},
	}
}

func parseList(t *testing.T, raw string) []lesson.Command {
	t.Helper()
	var cmds []lesson.Command
	if err := json.Unmarshal([]byte(raw), &cmds); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}
	return cmds
}

func TestRunCommitsCanvasOnce(t *testing.T) {
	rec := &recorder{}
	player := NewPlayer(rec.options())

	cmds := parseList(t, `[
		{"command":"speak","payload":{"text":"Look at this"}},
		{"command":"createText","payload":{"x":1,"y":2,"text":"Cell"},"delay":800},
		{"command":"mysteryKind","payload":{}},
		{"command":"drawCircle","payload":{"x":5,"y":5,"radius":3}},
		{"command":"session_end","payload":{},"delay":0}
	]`)
	if err := player.Enqueue(cmds); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if err := player.Run(context.Background()); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	if player.State() != StateFinished {
		t.Fatalf("expected finished, got %s", player.State())
	}
	if len(rec.commits) != 1 {
		t.Fatalf("expected exactly one commit, got %d", len(rec.commits))
	}
	// mysteryKind 被跳过，后续指令仍报告原列表位置
	if len(rec.indexes) != 3 || rec.indexes[0] != 0 || rec.indexes[1] != 1 || rec.indexes[2] != 3 {
		t.Fatalf("expected list positions [0 1 3], got %v", rec.indexes)
	}
	canvas := rec.commits[0]
	if len(canvas) != 2 || canvas[0].Kind != lesson.KindCreateText || canvas[1].Kind != lesson.KindDrawCircle {
		t.Fatalf("unexpected committed canvas: %+v", canvas)
	}
	if len(rec.spoken) != 1 || rec.spoken[0] != "Look at this" {
		t.Fatalf("unexpected spoken texts: %v", rec.spoken)
	}
	// speak without delay does not hold; createText holds 800ms; drawCircle holds the default
	if len(rec.sleeps) != 2 || rec.sleeps[0] != 800*time.Millisecond || rec.sleeps[1] != 500*time.Millisecond {
		t.Fatalf("unexpected pacing: %v", rec.sleeps)
	}
	if len(rec.applied) != 3 {
		t.Fatalf("unknown kind should be skipped, applied=%v", rec.applied)
	}

	// further steps are no-ops
	if cmd, err := player.Step(context.Background()); cmd != nil || err != nil {
		t.Fatalf("expected nil step after finish, got %v %v", cmd, err)
	}
	if len(rec.commits) != 1 {
		t.Fatal("commit must not repeat")
	}
}

func TestRunWithoutSessionEndDoesNotCommit(t *testing.T) {
	rec := &recorder{}
	player := NewPlayer(rec.options())

	if err := player.Enqueue(parseList(t, `[{"command":"drawRectangle","payload":{"x":0,"y":0,"width":4,"height":2}}]`)); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if err := player.Run(context.Background()); err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if len(rec.commits) != 0 {
		t.Fatal("no commit expected without session_end")
	}
	if len(player.Canvas()) != 1 {
		t.Fatalf("canvas should still hold the rectangle, got %d", len(player.Canvas()))
	}
}

func TestEmptyListFinishesImmediately(t *testing.T) {
	rec := &recorder{}
	player := NewPlayer(rec.options())
	if err := player.Enqueue(nil); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if player.State() != StateFinished {
		t.Fatalf("expected finished, got %s", player.State())
	}
	if cmd, err := player.Step(context.Background()); cmd != nil || err != nil {
		t.Fatalf("expected nil step, got %v %v", cmd, err)
	}
	if len(rec.commits) != 0 || len(rec.sleeps) != 0 {
		t.Fatal("empty list must not commit or wait")
	}
}

func TestClearCanvasAndFillTable(t *testing.T) {
	rec := &recorder{}
	player := NewPlayer(rec.options())

	cmds := parseList(t, `[
		{"command":"drawCircle","payload":{"x":5,"y":5,"radius":3}},
		{"command":"clearCanvas","payload":{}},
		{"command":"createTable","payload":{"id":"t1","x":0,"y":0,"rows":2,"cols":2}},
		{"command":"fillTable","payload":{"tableId":"t1","row":1,"col":0,"text":"ATP"}},
		{"command":"fillTable","payload":{"tableId":"missing","row":0,"col":0,"text":"x"}},
		{"command":"session_end","payload":{}}
	]`)
	if err := player.Enqueue(cmds); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}
	if err := player.Run(context.Background()); err != nil {
		t.Fatalf("Run err: %v", err)
	}

	canvas := rec.commits[0]
	if len(canvas) != 1 || canvas[0].Kind != lesson.KindCreateTable {
		t.Fatalf("expected only the table after clear, got %+v", canvas)
	}
	var table lesson.TablePayload
	if err := canvas[0].Decode(&table); err != nil {
		t.Fatalf("Decode err: %v", err)
	}
	if len(table.Cells) != 2 || table.Cells[1][0] != "ATP" {
		t.Fatalf("fillTable not applied: %+v", table.Cells)
	}
}

func TestEnqueueRejectsMisplacedSessionEnd(t *testing.T) {
	player := NewPlayer(Options{})
	err := player.Enqueue(parseList(t, `[{"command":"session_end"},{"command":"clearCanvas"}]`))
	if !errors.Is(err, ErrMisplacedSessionEnd) {
		t.Fatalf("expected ErrMisplacedSessionEnd, got %v", err)
	}
}

func TestCancelStopsPlaybackWithoutCommit(t *testing.T) {
	started := make(chan struct{})
	committed := false

	player := NewPlayer(Options{
		Sleep: func(ctx context.Context, _ time.Duration) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		},
		OnCommit: func([]lesson.Command) error {
			committed = true
			return nil
		},
	})

	if err := player.Enqueue(parseList(t, `[
		{"command":"drawCircle","payload":{"x":1,"y":1,"radius":1}},
		{"command":"session_end","payload":{}}
	]`)); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- player.Run(context.Background()) }()

	<-started
	player.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Cancel")
	}
	if committed {
		t.Fatal("cancelled playback must not commit")
	}
	if player.State() != StateCancelled {
		t.Fatalf("expected cancelled, got %s", player.State())
	}
}

func TestPauseBlocksUntilResume(t *testing.T) {
	rec := &recorder{}
	player := NewPlayer(rec.options())
	if err := player.Enqueue(parseList(t, `[
		{"command":"drawCircle","payload":{"x":1,"y":1,"radius":1}},
		{"command":"session_end","payload":{}}
	]`)); err != nil {
		t.Fatalf("Enqueue err: %v", err)
	}

	if _, err := player.Step(context.Background()); err != nil {
		t.Fatalf("Step err: %v", err)
	}
	player.Pause()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := player.Step(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected paused step to block, got %v", err)
	}

	player.Resume()
	cmd, err := player.Step(context.Background())
	if err != nil || cmd == nil || cmd.Kind != lesson.KindSessionEnd {
		t.Fatalf("expected session_end after resume, got %v %v", cmd, err)
	}
	if len(rec.commits) != 1 {
		t.Fatal("expected commit after resume")
	}
}
