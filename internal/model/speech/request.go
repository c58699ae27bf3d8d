package speech

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"`    // 声音类型或模式别名
	Speed     float32 `json:"speed"`    // 语速倍率 0.5-2.0
	Volume    float32 `json:"volume"`   // 音量 0.0-1.0
	Format    string  `json:"format"`   // mp3, pcm, ogg_opus
	Language  string  `json:"language"` // en-US, id-ID, zh-CN
	Emotion   string  `json:"emotion,omitempty"`
}

// StreamRequest 打开一路流式识别所需的参数
type StreamRequest struct {
	ConnectID  string `json:"connectId"`
	UserID     string `json:"userId,omitempty"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Language   string `json:"language"`
}
