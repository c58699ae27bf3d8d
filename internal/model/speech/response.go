package speech

import "time"

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Duration  int64     `json:"duration"` // milliseconds
	Format    string    `json:"format"`
	RequestID string    `json:"requestId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Transcript 流式识别的一条结果，IsFinal 为 false 时会被后续结果覆盖。
type Transcript struct {
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	StartTime int64     `json:"startTime"` // milliseconds from stream start
	EndTime   int64     `json:"endTime"`
	CreatedAt time.Time `json:"createdAt"`
}
