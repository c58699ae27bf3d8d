package session

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/zhouzirui/citta/backend/internal/handler/socket"
	"github.com/zhouzirui/citta/backend/internal/middleware"
)

// connection 一个 websocket 连接上至多有一轮教学（含播放）在进行。
type connection struct {
	conn   *socket.Conn
	userID string

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// handleWebSocket 处理脚本化教学的 websocket 连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())

	conn, err := socket.Upgrade(&h.upgrader, w, r, "websocket")
	if err != nil {
		log.Printf("[websocket] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.PingLoop(ctx)

	c := &connection{conn: conn, userID: userID}
	defer c.stop()

	log.Printf("[websocket] scripted session connection opened for user %s", userID)

	for {
		msg, err := conn.Read()
		if err != nil {
			return
		}
		h.handleMessage(ctx, c, msg)
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *connection, msg *socket.Inbound) {
	switch msg.Type {
	case "start_session":
		var payload startPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.emit(EventSessionError, SessionError{Message: "invalid start_session payload"})
			return
		}
		if payload.SessionID == "" {
			payload.SessionID = msg.SessionID
		}
		c.start(ctx, func(turnCtx context.Context) {
			h.runTurn(turnCtx, c.userID, payload, c.emit)
		})

	case "canvas_commit":
		var payload canvasRequest
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			c.emit(EventSessionError, SessionError{Message: "invalid canvas_commit payload"})
			return
		}
		sessionID := payload.SessionID
		if sessionID == "" {
			sessionID = msg.SessionID
		}
		version, err := h.svc.CommitCanvas(ctx, c.userID, sessionID, payload.CanvasState, payload.expected())
		if err != nil {
			c.emit(EventSessionError, SessionError{Message: messageFor(err)})
			return
		}
		c.emit(EventCanvasCommitted, map[string]any{"sessionId": sessionID, "version": version})

	default:
		c.emit(EventSessionError, SessionError{Message: "unsupported message type: " + msg.Type})
	}
}

// start 取消上一轮（包括其播放），在新的 goroutine 中执行本轮。
func (c *connection) start(parent context.Context, run func(ctx context.Context)) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		run(ctx)
	}()
}

func (c *connection) stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *connection) emit(event string, data any) {
	if sessionID := sessionIDOf(data); sessionID != "" {
		c.conn.SetSessionID(sessionID)
	}
	_ = c.conn.Emit(event, data)
}

func sessionIDOf(data any) string {
	switch v := data.(type) {
	case SessionCreated:
		return v.SessionID
	case TextResponse:
		return v.SessionID
	case CommandStream:
		return v.SessionID
	}
	return ""
}
