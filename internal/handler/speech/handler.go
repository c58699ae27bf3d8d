package speech

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/citta/backend/internal/middleware"
	"github.com/zhouzirui/citta/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/citta/backend/internal/service/speech"
	"github.com/zhouzirui/citta/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	Synthesize(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
	Configured() bool
}

// VoiceResolver 根据会话推断发音人
type VoiceResolver interface {
	VoiceFor(ctx context.Context, userID, sessionID string) string
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	voices    VoiceResolver
}

// New 创建语音处理器，speechSvc 为空时合成接口返回 503。
func New(speechSvc SpeechService, voices VoiceResolver) *Handler {
	return &Handler{speechSvc: speechSvc, voices: voices}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleSynthesize 处理文本转语音请求
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "speech service unavailable")
		return
	}

	var req speech.TTSRequest
	if err := utils.DecodeJSON(w, r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	if strings.TrimSpace(req.Voice) == "" && h.voices != nil {
		if resolved := h.voices.VoiceFor(r.Context(), middleware.UserID(r.Context()), req.SessionID); resolved != "" {
			req.Voice = speechsvc.NormalizeVoiceAlias(resolved)
		}
	}

	resp, err := h.speechSvc.Synthesize(r.Context(), &req)
	if err != nil {
		log.Printf("[speech] TTS error: %v", err)
		status := http.StatusInternalServerError
		if errors.Is(err, speechsvc.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		utils.RespondError(w, status, "speech synthesis failed")
		return
	}

	if len(resp.AudioData) == 0 {
		utils.RespondJSON(w, http.StatusOK, resp)
		return
	}

	format := resp.Format
	if format == "" {
		format = "octet-stream"
	}
	w.Header().Set("Content-Type", "audio/"+format)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		log.Printf("[speech] write audio response failed: %v", err)
	}
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if h.speechSvc == nil || !h.speechSvc.Configured() {
		status = "unconfigured"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"service": "speech",
	})
}
