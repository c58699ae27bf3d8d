// Package socket wraps gorilla websocket connections with the JSON envelope
// shared by the scripted and live endpoints.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// ErrClosed 连接已关闭。
var ErrClosed = errors.New("websocket closed")

// Inbound 客户端消息信封。
type Inbound struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Outbound 服务端消息信封。
type Outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewUpgrader 返回接受任意来源的 upgrader，来源校验交给 CORS 中间件与身份头。
func NewUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin:     func(r *http.Request) bool { return true },
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
}

// Conn 串行化写入的 websocket 连接。
type Conn struct {
	ws  *websocket.Conn
	tag string

	writeMu sync.Mutex
	closed  bool

	mu        sync.RWMutex
	sessionID string
}

// Upgrade 升级 HTTP 连接并设置读超时与 pong 处理。
func Upgrade(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, tag string) (*Conn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})
	return &Conn{ws: ws, tag: tag}, nil
}

// SetSessionID 设置后续出站消息默认携带的会话 ID。
func (c *Conn) SetSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

// SessionID 当前会话 ID。
func (c *Conn) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Emit 发送一条事件；实现 live.Emitter。
func (c *Conn) Emit(event string, data any) error {
	return c.Send(Outbound{Type: event, SessionID: c.SessionID(), Data: data})
}

// Send 写出一条信封，时间戳为空时补当前毫秒。
func (c *Conn) Send(msg Outbound) error {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		log.Printf("[%s] write %s failed: %v", c.tag, msg.Type, err)
		return err
	}
	return nil
}

// Read 读取下一条信封并刷新读超时。返回错误时连接应被关闭。
func (c *Conn) Read() (*Inbound, error) {
	var msg Inbound
	if err := c.ws.ReadJSON(&msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
			log.Printf("[%s] read error: %v", c.tag, err)
		}
		return nil, err
	}
	c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	return &msg, nil
}

// PingLoop 定期发送 ping，直到 ctx 结束或写失败。
func (c *Conn) PingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

// Close 关闭连接，之后的 Send 返回 ErrClosed。
func (c *Conn) Close() error {
	c.writeMu.Lock()
	c.closed = true
	c.writeMu.Unlock()
	return c.ws.Close()
}
