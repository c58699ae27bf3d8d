// Package session exposes scripted tutoring sessions over REST, SSE and websocket.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/citta/backend/internal/handler/socket"
	"github.com/zhouzirui/citta/backend/internal/middleware"
	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	"github.com/zhouzirui/citta/backend/internal/service/ai"
	"github.com/zhouzirui/citta/backend/internal/service/tutoring"
	"github.com/zhouzirui/citta/backend/pkg/utils"
)

// Options 控制服务端推送的播放节奏。
type Options struct {
	// ServerPaced 为 true 时服务端逐条推送 command 事件并在结束时提交画布。
	ServerPaced  bool
	DefaultDelay time.Duration
	// Sleep 替换播放等待，测试中用来跳过真实计时。
	Sleep func(ctx context.Context, d time.Duration) error
}

// Handler 教学会话处理器
type Handler struct {
	svc      *tutoring.Service
	opts     Options
	upgrader websocket.Upgrader
}

// New 创建会话处理器
func New(svc *tutoring.Service, opts Options) *Handler {
	return &Handler{svc: svc, opts: opts, upgrader: socket.NewUpgrader()}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(sr chi.Router) {
		sr.Get("/", h.handleList)
		sr.Get("/stream", h.handleStream)
		sr.Get("/ws", h.handleWebSocket)
		sr.Get("/{sessionID}", h.handleGet)
		sr.Put("/{sessionID}/canvas", h.handleCommitCanvas)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.svc.ListSessions(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	session, turns, err := h.svc.GetSession(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"session": session,
		"turns":   turns,
	})
}

type canvasRequest struct {
	SessionID   string           `json:"sessionId,omitempty"`
	CanvasState []lesson.Command `json:"canvasState"`
	Version     *int64           `json:"version,omitempty"`
}

// expected 未带版本号时不做乐观锁校验。
func (c canvasRequest) expected() int64 {
	if c.Version == nil {
		return -1
	}
	return *c.Version
}

func (h *Handler) handleCommitCanvas(w http.ResponseWriter, r *http.Request) {
	var payload canvasRequest
	if err := utils.DecodeJSON(w, r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	version, err := h.svc.CommitCanvas(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "sessionID"), payload.CanvasState, payload.expected())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int64{"version": version})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tutoring.ErrPromptRequired), errors.Is(err, tutoring.ErrInvalidMode):
		return http.StatusBadRequest
	case errors.Is(err, tutoring.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, tutoring.ErrDocumentForbidden):
		return http.StatusForbidden
	case errors.Is(err, tutoring.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, tutoring.ErrDecodeFailed):
		return http.StatusBadGateway
	case errors.Is(err, ai.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// messageFor 返回可以直接展示给学习者的错误描述。
func messageFor(err error) string {
	switch {
	case errors.Is(err, tutoring.ErrPromptRequired):
		return "promptText is required"
	case errors.Is(err, tutoring.ErrInvalidMode):
		return "mode must be one of V, A, R, K"
	case errors.Is(err, tutoring.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, tutoring.ErrDocumentForbidden):
		return "one or more files are not accessible"
	case errors.Is(err, tutoring.ErrVersionConflict):
		return "canvas was updated elsewhere"
	case errors.Is(err, tutoring.ErrDecodeFailed):
		return "the tutor's answer could not be understood, please try again"
	case errors.Is(err, ai.ErrModelUnavailable):
		return "tutor is unavailable"
	default:
		return "failed to process prompt"
	}
}

func respondServiceError(w http.ResponseWriter, err error) {
	utils.RespondError(w, statusFor(err), messageFor(err))
}
