// Package playback plays presentation command lists one command at a time with pacing.
package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
)

var (
	ErrBusy                = errors.New("playback already in progress")
	ErrCancelled           = errors.New("playback cancelled")
	ErrMisplacedSessionEnd = errors.New("session_end must be the last command")
)

// State 播放状态。
type State string

const (
	StateIdle      State = "idle"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateFinished  State = "finished"
	StateCancelled State = "cancelled"
)

// Options 注入节奏控制与回调，便于测试与服务端推送。
type Options struct {
	// Sleep 等待一条指令的节奏；默认使用真实计时器。
	Sleep func(ctx context.Context, d time.Duration) error
	// DefaultDelay 指令未指定 delay 时的等待时长。
	DefaultDelay time.Duration
	// OnApply 每应用一条指令（session_end 除外）后回调，index 为指令在原列表中的位置，canvas 为当前快照。
	OnApply func(index int, cmd lesson.Command, canvas []lesson.Command)
	// OnSpeak 接收 speak 指令的文本。
	OnSpeak func(text string)
	// OnCommit 在遇到 session_end 时以最终画布回调，至多一次。
	OnCommit func(canvas []lesson.Command) error
}

// Player 顺序播放一组演示指令并维护画布状态。
type Player struct {
	opts Options

	mu        sync.Mutex
	state     State
	queue     []lesson.Command
	pos       int
	canvas    []lesson.Command
	committed bool
	resume    chan struct{}

	life     context.Context
	stopLife context.CancelFunc
}

// NewPlayer creates an idle player.
func NewPlayer(opts Options) *Player {
	if opts.Sleep == nil {
		opts.Sleep = sleep
	}
	if opts.DefaultDelay <= 0 {
		opts.DefaultDelay = lesson.DefaultDelayMs * time.Millisecond
	}

	life, stop := context.WithCancel(context.Background())
	return &Player{
		opts:     opts,
		state:    StateIdle,
		canvas:   []lesson.Command{},
		life:     life,
		stopLife: stop,
	}
}

// Enqueue loads a command list. An empty list finishes immediately without commit.
func (p *Player) Enqueue(cmds []lesson.Command) error {
	for i, cmd := range cmds {
		if cmd.Kind == lesson.KindSessionEnd && i != len(cmds)-1 {
			return fmt.Errorf("%w: found at index %d of %d", ErrMisplacedSessionEnd, i, len(cmds))
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StatePlaying, StatePaused:
		return ErrBusy
	case StateCancelled:
		return ErrCancelled
	}

	p.queue = append([]lesson.Command(nil), cmds...)
	p.pos = 0
	p.committed = false
	p.state = StateIdle
	if len(cmds) == 0 {
		p.state = StateFinished
	}
	return nil
}

// Step applies exactly one command and holds for its delay.
// It returns nil once the list is exhausted or session_end was applied.
func (p *Player) Step(ctx context.Context) (*lesson.Command, error) {
	for {
		if err := p.waitWhilePaused(ctx); err != nil {
			return nil, err
		}

		p.mu.Lock()
		switch p.state {
		case StateCancelled:
			p.mu.Unlock()
			return nil, ErrCancelled
		case StateFinished:
			p.mu.Unlock()
			return nil, nil
		case StatePaused:
			p.mu.Unlock()
			continue
		}

		if p.pos >= len(p.queue) {
			p.state = StateFinished
			p.mu.Unlock()
			log.Printf("[playback] command list ended without session_end, canvas not committed")
			return nil, nil
		}

		index := p.pos
		cmd := p.queue[index]
		p.pos++
		p.state = StatePlaying

		if cmd.Kind == lesson.KindSessionEnd {
			p.state = StateFinished
			canvas := p.snapshotLocked()
			shouldCommit := !p.committed
			p.committed = true
			p.mu.Unlock()

			if shouldCommit && p.opts.OnCommit != nil {
				if err := p.opts.OnCommit(canvas); err != nil {
					return &cmd, fmt.Errorf("commit canvas: %w", err)
				}
			}
			return &cmd, nil
		}

		applied, hold := p.applyLocked(cmd)
		if !applied {
			p.mu.Unlock()
			continue
		}
		canvas := p.snapshotLocked()
		p.mu.Unlock()

		if cmd.Kind == lesson.KindSpeak && p.opts.OnSpeak != nil {
			var payload lesson.SpeakPayload
			if err := cmd.Decode(&payload); err == nil && payload.Text != "" {
				p.opts.OnSpeak(payload.Text)
			}
		}
		if p.opts.OnApply != nil {
			p.opts.OnApply(index, cmd, canvas)
		}

		if hold > 0 {
			if err := p.hold(ctx, hold); err != nil {
				return &cmd, err
			}
		}
		return &cmd, nil
	}
}

// Run steps through the list until it finishes.
func (p *Player) Run(ctx context.Context) error {
	for {
		cmd, err := p.Step(ctx)
		if err != nil {
			return err
		}
		if cmd == nil {
			return nil
		}
	}
}

// Pause 暂停播放，当前指令的等待结束后不再前进。
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePlaying && p.state != StateIdle {
		return
	}
	p.state = StatePaused
	p.resume = make(chan struct{})
}

// Resume 继续播放。
func (p *Player) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StatePaused {
		return
	}
	p.state = StatePlaying
	close(p.resume)
	p.resume = nil
}

// Cancel 终止播放，不提交画布。
func (p *Player) Cancel() {
	p.mu.Lock()
	if p.state == StateFinished || p.state == StateCancelled {
		p.mu.Unlock()
		return
	}
	p.state = StateCancelled
	if p.resume != nil {
		close(p.resume)
		p.resume = nil
	}
	p.mu.Unlock()
	p.stopLife()
}

// State 返回当前状态。
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Canvas 返回当前画布的副本。
func (p *Player) Canvas() []lesson.Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Player) waitWhilePaused(ctx context.Context) error {
	p.mu.Lock()
	resume := p.resume
	paused := p.state == StatePaused
	p.mu.Unlock()
	if !paused || resume == nil {
		return nil
	}

	select {
	case <-resume:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyLocked 更新画布，返回是否应用以及需要等待的时长。
func (p *Player) applyLocked(cmd lesson.Command) (bool, time.Duration) {
	switch cmd.Kind {
	case lesson.KindSpeak:
		if cmd.Delay == nil {
			return true, 0
		}
		return true, p.delayOf(cmd)
	case lesson.KindClearCanvas:
		p.canvas = []lesson.Command{}
		return true, p.delayOf(cmd)
	case lesson.KindFillTable:
		if err := p.fillTableLocked(cmd); err != nil {
			log.Printf("[playback] skip fillTable: %v", err)
			return false, 0
		}
		return true, p.delayOf(cmd)
	}

	if !cmd.Kind.Known() {
		log.Printf("[playback] skip unknown command kind %q", cmd.Kind)
		return false, 0
	}

	p.canvas = append(p.canvas, cmd)
	return true, p.delayOf(cmd)
}

func (p *Player) fillTableLocked(cmd lesson.Command) error {
	var fill lesson.FillTablePayload
	if err := cmd.Decode(&fill); err != nil {
		return err
	}
	if fill.Row < 0 || fill.Col < 0 {
		return fmt.Errorf("table %s: negative cell index", fill.TableID)
	}

	for i := len(p.canvas) - 1; i >= 0; i-- {
		entry := p.canvas[i]
		if entry.Kind != lesson.KindCreateTable {
			continue
		}
		var table lesson.TablePayload
		if err := entry.Decode(&table); err != nil || table.ID != fill.TableID {
			continue
		}

		for len(table.Cells) <= fill.Row {
			table.Cells = append(table.Cells, nil)
		}
		for len(table.Cells[fill.Row]) <= fill.Col {
			table.Cells[fill.Row] = append(table.Cells[fill.Row], "")
		}
		table.Cells[fill.Row][fill.Col] = fill.Text

		raw, err := json.Marshal(table)
		if err != nil {
			return fmt.Errorf("table %s: %w", fill.TableID, err)
		}
		entry.Payload = raw
		p.canvas[i] = entry
		return nil
	}
	return fmt.Errorf("table %q not found on canvas", fill.TableID)
}

func (p *Player) delayOf(cmd lesson.Command) time.Duration {
	if cmd.Delay == nil || *cmd.Delay < 0 {
		return p.opts.DefaultDelay
	}
	return time.Duration(*cmd.Delay) * time.Millisecond
}

func (p *Player) hold(ctx context.Context, d time.Duration) error {
	holdCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.life, cancel)
	defer stop()

	if err := p.opts.Sleep(holdCtx, d); err != nil {
		if p.State() == StateCancelled {
			return ErrCancelled
		}
		return err
	}
	if p.State() == StateCancelled {
		return ErrCancelled
	}
	return nil
}

func (p *Player) snapshotLocked() []lesson.Command {
	return append([]lesson.Command{}, p.canvas...)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
