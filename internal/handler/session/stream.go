package session

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/zhouzirui/citta/backend/internal/middleware"
	"github.com/zhouzirui/citta/backend/pkg/utils"
)

// handleStream 以 SSE 执行一轮教学：
// GET /sessions/stream?promptText=..&sessionId=..&mode=..&speechEnabled=..&fileIds=a,b
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	query := r.URL.Query()
	payload := startPayload{
		PromptText: query.Get("promptText"),
		SessionID:  query.Get("sessionId"),
		Mode:       query.Get("mode"),
	}
	if strings.TrimSpace(payload.PromptText) == "" {
		utils.RespondError(w, http.StatusBadRequest, "promptText query parameter is required")
		return
	}
	if raw := query.Get("speechEnabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			utils.RespondError(w, http.StatusBadRequest, "speechEnabled must be a boolean")
			return
		}
		payload.SpeechEnabled = enabled
	}
	for _, id := range strings.Split(query.Get("fileIds"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			payload.FileIDs = append(payload.FileIDs, id)
		}
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	utils.SendSSEChunk(w, flusher, map[string]any{
		"event":   "status",
		"message": "stream established",
	})

	h.runTurn(r.Context(), middleware.UserID(r.Context()), payload, func(event string, data any) {
		utils.SendSSEEvent(w, flusher, event, data)
	})
}
