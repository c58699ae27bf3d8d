package tutoring

import (
	"time"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
)

// Sender 标识一条对话的发送方。
type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Session captures one tutoring conversation and its last committed canvas.
type Session struct {
	ID            string                `json:"id"`
	UserID        string                `json:"userId"`
	Title         string                `json:"title"`
	Mode          Mode                  `json:"currentMode"`
	SpeechEnabled bool                  `json:"speechEnabled"`
	CanvasState   []lesson.Command      `json:"canvasState"`
	Challenge     *KinestheticChallenge `json:"kinestheticData,omitempty"`
	Version       int64                 `json:"version"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// Turn is a single immutable message within a session.
type Turn struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Sender      Sender    `json:"sender"`
	Text        string    `json:"text"`
	DocumentIDs []string  `json:"fileIds,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Document is an uploaded file together with its extracted text.
type Document struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"originalFilename"`
	Path             string    `json:"-"`
	MimeType         string    `json:"mimetype"`
	Size             int64     `json:"size"`
	Text             string    `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
}
