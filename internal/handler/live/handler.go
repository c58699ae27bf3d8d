// Package live exposes the real-time voice conversation over websocket.
package live

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/citta/backend/internal/handler/socket"
	"github.com/zhouzirui/citta/backend/internal/middleware"
	liveService "github.com/zhouzirui/citta/backend/internal/service/live"
)

// Handler 实时语音对话处理器
type Handler struct {
	coord    *liveService.Coordinator
	upgrader websocket.Upgrader
}

// New 创建实时对话处理器
func New(coord *liveService.Coordinator) *Handler {
	return &Handler{coord: coord, upgrader: socket.NewUpgrader()}
}

// RegisterRoutes 注册实时对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/live/ws", h.handleWebSocket)
}

type startMessage struct {
	SessionID string `json:"sessionId"`
}

type audioMessage struct {
	Audio []byte `json:"audio"`
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	conn, err := socket.Upgrade(&h.upgrader, w, r, "live")
	if err != nil {
		log.Printf("[live] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.PingLoop(ctx)

	connID := uuid.NewString()
	conv := h.coord.Connect(connID, userID, conn)
	defer conv.Disconnect()

	for {
		msg, err := conn.Read()
		if err != nil {
			return
		}

		switch msg.Type {
		case "start_conversation":
			var payload startMessage
			if len(msg.Data) > 0 {
				if err := json.Unmarshal(msg.Data, &payload); err != nil {
					conn.Emit(liveService.EventConversationError, liveService.ErrorEvent{Message: "invalid start_conversation payload"})
					continue
				}
			}
			sessionID := strings.TrimSpace(payload.SessionID)
			if sessionID == "" {
				sessionID = msg.SessionID
			}
			conn.SetSessionID(sessionID)
			if err := conv.Start(ctx, sessionID); err != nil && !errors.Is(err, liveService.ErrDisconnected) {
				log.Printf("[live] start conversation %s failed: %v", connID, err)
			}

		case "audio_chunk":
			var payload audioMessage
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				conn.Emit(liveService.EventConversationError, liveService.ErrorEvent{Message: "invalid audio_chunk payload"})
				continue
			}
			conv.Audio(payload.Audio)

		case "client_interruption":
			conv.Interrupt()

		default:
			conn.Emit(liveService.EventConversationError, liveService.ErrorEvent{Message: "unsupported message type: " + msg.Type})
		}
	}
}
