package speech

import (
	"context"
	"strings"

	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
	speechmodel "github.com/zhouzirui/citta/backend/internal/model/speech"
)

// Service 语音服务门面：流式识别、整段合成与连接级流注册。
type Service struct {
	config      *speechmodel.SpeechConfig
	recognizer  *Recognizer
	synthesizer *Synthesizer
	streams     *StreamRegistry
}

// NewService 创建语音服务实例。
func NewService(config *speechmodel.SpeechConfig) *Service {
	return &Service{
		config:      config,
		recognizer:  NewRecognizer(config),
		synthesizer: NewSynthesizer(config),
		streams:     NewStreamRegistry(),
	}
}

// Configured 返回凭证是否齐全。
func (s *Service) Configured() bool {
	_, _, err := resolveCredentials(s.config)
	return err == nil
}

// Streams 返回连接级识别流注册表。
func (s *Service) Streams() *StreamRegistry { return s.streams }

// OpenStream 打开一路流式识别。
func (s *Service) OpenStream(ctx context.Context, req speechmodel.StreamRequest) (*Stream, error) {
	return s.recognizer.Open(ctx, req)
}

// Synthesize 按请求合成语音。
func (s *Service) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if req.Format == "" {
		req.Format = s.config.TTSFormat
	}
	return s.synthesizer.Synthesize(ctx, req)
}

// Reply 用默认发音人合成导师回复，情绪随学习者最近一句话调整。
func (s *Service) Reply(ctx context.Context, sessionID, text string, signal learner.Signal) (*speechmodel.TTSResponse, error) {
	voice := strings.TrimSpace(s.config.TTSVoice)
	return s.Synthesize(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Language:  s.config.TTSLanguage,
		Emotion:   ToneFor(voice, signal),
	})
}

// Cleanup 关闭所有识别流。
func (s *Service) Cleanup() {
	s.streams.CloseAll()
}
