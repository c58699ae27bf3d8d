package session

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	domain "github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/playback"
	"github.com/zhouzirui/citta/backend/internal/service/tutoring"
)

// 出站事件名
const (
	EventSessionCreated   = "session_created"
	EventTextResponse     = "text_response"
	EventCommandStream    = "command_stream_received"
	EventCommand          = "command"
	EventPlaybackComplete = "playback_complete"
	EventSessionError     = "session_error"
	EventModeSuggestion   = "mode_suggestion"
	EventCanvasCommitted  = "canvas_committed"
)

type emitFunc func(event string, data any)

type startPayload struct {
	PromptText    string   `json:"promptText"`
	SessionID     string   `json:"sessionId,omitempty"`
	FileIDs       []string `json:"fileIds,omitempty"`
	Mode          string   `json:"mode,omitempty"`
	SpeechEnabled bool     `json:"speechEnabled"`
}

// toRequest 接受单字母或完整的模式名。
func (p startPayload) toRequest() (tutoring.StartRequest, error) {
	req := tutoring.StartRequest{
		PromptText:    p.PromptText,
		SessionID:     strings.TrimSpace(p.SessionID),
		DocumentIDs:   p.FileIDs,
		SpeechEnabled: p.SpeechEnabled,
	}
	if strings.TrimSpace(p.Mode) != "" {
		mode, err := domain.ParseMode(p.Mode)
		if err != nil {
			return req, errors.Join(tutoring.ErrInvalidMode, err)
		}
		req.Mode = mode
	}
	return req, nil
}

// SessionCreated session_created 事件负载。
type SessionCreated struct {
	SessionID string      `json:"sessionId"`
	Title     string      `json:"title"`
	Mode      domain.Mode `json:"mode"`
}

// TextResponse text_response 事件负载。
type TextResponse struct {
	SessionID     string      `json:"sessionId"`
	Mode          domain.Mode `json:"mode"`
	Text          string      `json:"text"`
	SpeechEnabled bool        `json:"speechEnabled"`
}

// CommandStream command_stream_received 事件负载。
type CommandStream struct {
	SessionID     string                       `json:"sessionId"`
	Mode          domain.Mode                  `json:"mode"`
	Commands      []lesson.Command             `json:"commands"`
	Kinesthetic   *domain.KinestheticChallenge `json:"kinestheticData,omitempty"`
	SpeechEnabled bool                         `json:"speechEnabled"`
	ServerPaced   bool                         `json:"serverPaced"`
}

// CommandEvent command 事件负载。Index 是指令在 command_stream_received 列表中的位置。
type CommandEvent struct {
	Index   int            `json:"index"`
	Command lesson.Command `json:"command"`
}

// PlaybackComplete playback_complete 事件负载。
type PlaybackComplete struct {
	SessionID   string           `json:"sessionId"`
	Committed   bool             `json:"committed"`
	Version     int64            `json:"version,omitempty"`
	CanvasState []lesson.Command `json:"canvasState"`
}

// SessionError session_error 事件负载。
type SessionError struct {
	Message string `json:"message"`
}

// runTurn 执行一轮教学并通过 emit 推送结果；开启服务端节奏时随后逐条播放指令。
func (h *Handler) runTurn(ctx context.Context, userID string, payload startPayload, emit emitFunc) {
	req, err := payload.toRequest()
	if err != nil {
		emit(EventSessionError, SessionError{Message: messageFor(err)})
		return
	}

	res, err := h.svc.StartTurn(ctx, userID, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[session] turn for user %s failed: %v", userID, err)
		emit(EventSessionError, SessionError{Message: messageFor(err)})
		return
	}

	session := res.Session
	if res.Created {
		emit(EventSessionCreated, SessionCreated{SessionID: session.ID, Title: session.Title, Mode: session.Mode})
	}

	if !session.Mode.Structured() {
		emit(EventTextResponse, TextResponse{
			SessionID:     session.ID,
			Mode:          session.Mode,
			Text:          res.Outcome.Text,
			SpeechEnabled: session.SpeechEnabled,
		})
	} else {
		emit(EventCommandStream, CommandStream{
			SessionID:     session.ID,
			Mode:          session.Mode,
			Commands:      res.Outcome.Commands,
			Kinesthetic:   res.Outcome.Challenge,
			SpeechEnabled: session.SpeechEnabled,
			ServerPaced:   h.opts.ServerPaced,
		})
	}

	if suggestion, err := h.svc.SuggestMode(ctx, userID, session.Mode); err != nil {
		log.Printf("[session] mode suggestion for user %s failed: %v", userID, err)
	} else if suggestion.ShouldSwitch {
		emit(EventModeSuggestion, suggestion)
	}

	if session.Mode.Structured() && h.opts.ServerPaced {
		h.play(ctx, userID, session, res.Outcome.Commands, emit)
	}
}

// play 按节奏推送指令，遇到 session_end 时以当前会话版本提交画布。
func (h *Handler) play(ctx context.Context, userID string, session domain.Session, cmds []lesson.Command, emit emitFunc) {
	var (
		committed bool
		version   int64
	)

	player := playback.NewPlayer(playback.Options{
		Sleep:        h.opts.Sleep,
		DefaultDelay: h.opts.DefaultDelay,
		OnApply: func(index int, cmd lesson.Command, _ []lesson.Command) {
			emit(EventCommand, CommandEvent{Index: index, Command: cmd})
		},
		OnCommit: func(canvas []lesson.Command) error {
			v, err := h.svc.CommitCanvas(ctx, userID, session.ID, canvas, session.Version)
			if err != nil {
				return err
			}
			committed, version = true, v
			return nil
		},
	})

	if err := player.Enqueue(cmds); err != nil {
		emit(EventSessionError, SessionError{Message: err.Error()})
		return
	}
	if err := player.Run(ctx); err != nil {
		if ctx.Err() != nil || errors.Is(err, playback.ErrCancelled) {
			return
		}
		log.Printf("[session] playback for %s failed: %v", session.ID, err)
		emit(EventSessionError, SessionError{Message: messageFor(err)})
	}

	emit(EventPlaybackComplete, PlaybackComplete{
		SessionID:   session.ID,
		Committed:   committed,
		Version:     version,
		CanvasState: player.Canvas(),
	})
}
