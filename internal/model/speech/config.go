package speech

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	// Volcengine 配置
	AppID          string `json:"appId"`            // 火山引擎 APP ID
	AccessToken    string `json:"accessToken"`      // 火山引擎 Access Token
	APIKey         string `json:"apiKey,omitempty"` // 兼容旧配置的 API Key
	ConcurrentMode bool   `json:"concurrentMode"`   // ASR并发模式（false为小时版）

	// 流式 ASR 配置
	ASRLanguage   string `json:"asrLanguage"`
	ASRFormat     string `json:"asrFormat"`     // pcm / ogg
	ASRSampleRate int    `json:"asrSampleRate"` // 默认16000
	ASREndWindow  int    `json:"asrEndWindow"`  // 判停窗口，毫秒

	// TTS 配置
	TTSVoice    string  `json:"ttsVoice"`
	TTSSpeed    float32 `json:"ttsSpeed"`
	TTSVolume   float32 `json:"ttsVolume"`
	TTSLanguage string  `json:"ttsLanguage"`
	TTSFormat   string  `json:"ttsFormat"`

	// 通用配置
	Timeout int `json:"timeout"` // seconds
}
