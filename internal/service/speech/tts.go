package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	speechmodel "github.com/zhouzirui/citta/backend/internal/model/speech"
)

// ErrEmptyText 待合成文本为空。
var ErrEmptyText = errors.New("tts text is empty")

const resourceMismatch = "resource ID is mismatched with speaker related resource"

// Synthesizer 火山引擎单向流式语音合成客户端。
type Synthesizer struct {
	dialer   dialer
	cfg      *speechmodel.SpeechConfig
	endpoint string
	backoff  func() retry.Backoff
}

// NewSynthesizer 创建语音合成客户端，握手失败时最多重连两次。
func NewSynthesizer(cfg *speechmodel.SpeechConfig) *Synthesizer {
	return &Synthesizer{
		dialer:   newDialer(cfg),
		cfg:      cfg,
		endpoint: ttsEndpoint,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
		},
	}
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
	Addition struct {
		Duration string `json:"duration,omitempty"`
	} `json:"addition,omitempty"`
}

type ttsRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string         `json:"speaker"`
		Text        string         `json:"text"`
		AudioParams ttsAudioParams `json:"audio_params"`
		Additions   string         `json:"additions,omitempty"`
		Language    string         `json:"language,omitempty"`
	} `json:"req_params"`
}

type ttsAudioParams struct {
	Format          string  `json:"format"`
	SampleRate      int     `json:"sample_rate"`
	EnableTimestamp bool    `json:"enable_timestamp"`
	SpeedRatio      float32 `json:"speed_ratio,omitempty"`
	VolumeRatio     float32 `json:"volume_ratio,omitempty"`
	Emotion         string  `json:"emotion,omitempty"`
	EmotionScale    float32 `json:"emotion_scale,omitempty"`
}

// Synthesize 合成整段音频。依次尝试候选发音人与资源 ID，资源不匹配时换下一个。
func (s *Synthesizer) Synthesize(ctx context.Context, req *speechmodel.TTSRequest) (*speechmodel.TTSResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if _, _, err := resolveCredentials(s.cfg); err != nil {
		return nil, err
	}

	encoding := strings.TrimSpace(req.Format)
	if encoding == "" || encoding == "wav" {
		encoding = "mp3"
	}

	speakers := speakerCandidates(req.Voice, s.defaultVoice())
	var lastMismatch error

	for _, speaker := range speakers {
		for idx, resourceID := range resourceCandidates(speaker) {
			resp, err := s.attempt(ctx, req, speaker, encoding, resourceID)
			if err == nil {
				if idx > 0 {
					log.Printf("[TTS] voice %s succeeded with fallback resource %s", speaker, resourceID)
				}
				return resp, nil
			}
			if !isResourceMismatch(err) {
				return nil, err
			}
			log.Printf("[TTS] voice %s resource %s mismatch: %v", speaker, resourceID, err)
			lastMismatch = err
		}
	}

	if lastMismatch != nil {
		return nil, lastMismatch
	}
	return nil, fmt.Errorf("tts: no compatible resource for voices %v", speakers)
}

// attempt 对单个发音人与资源组合合成，握手失败可重试。
func (s *Synthesizer) attempt(ctx context.Context, req *speechmodel.TTSRequest, speaker, encoding, resourceID string) (*speechmodel.TTSResponse, error) {
	connectID := uuid.NewString()

	var conn *websocket.Conn
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		c, err := s.dialer.dial(ctx, s.endpoint, resourceID, connectID, "TTS")
		if err != nil {
			if errors.Is(err, ErrNotConfigured) {
				return err
			}
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	body, uid := s.buildRequest(req, speaker, encoding)
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal TTS request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, FullRequest(payload, NoCompression).Encode()); err != nil {
		return nil, fmt.Errorf("send TTS request: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var (
		audio    bytes.Buffer
		reqID    string
		duration int64
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read TTS response: %w", err)
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("decode TTS frame: %w", err)
		}

		switch frame.Header.Type {
		case ErrorMessage:
			detail, _ := Decompress(frame.Payload, frame.Header.Compression)
			return nil, fmt.Errorf("TTS error %d: %s", frame.ErrorCode, string(detail))

		case AudioOnlyServerResponse:
			chunk, err := Decompress(frame.Payload, frame.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("decompress audio chunk: %w", err)
			}
			audio.Write(chunk)

		case FullServerResponse:
			body, err := Decompress(frame.Payload, frame.Header.Compression)
			if err != nil {
				return nil, fmt.Errorf("decompress TTS payload: %w", err)
			}

			var msg ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &msg); err != nil {
					log.Printf("[TTS] unmarshal response failed: %v", err)
				} else {
					if msg.Code != 0 && msg.Code != 3000 {
						return nil, fmt.Errorf("TTS API error %d: %s", msg.Code, msg.Message)
					}
					if msg.ReqID != "" {
						reqID = msg.ReqID
					}
					if msg.Addition.Duration != "" {
						if ms, err := strconv.ParseInt(msg.Addition.Duration, 10, 64); err == nil {
							duration = ms
						}
					}
					if msg.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(msg.Data)
						if err != nil {
							return nil, fmt.Errorf("decode base64 audio chunk: %w", err)
						}
						audio.Write(chunk)
					}
				}
			}

			finished := (frame.hasEvent() && frame.Event == EventSessionFinished) || frame.Last() || msg.Sequence < 0
			if !finished {
				continue
			}
			if audio.Len() == 0 {
				return nil, errors.New("TTS audio is empty")
			}
			if reqID == "" {
				reqID = connectID
			}
			return &speechmodel.TTSResponse{
				SessionID: firstNonEmpty(req.SessionID, uid),
				AudioData: audio.Bytes(),
				Duration:  duration,
				Format:    encoding,
				RequestID: reqID,
				CreatedAt: time.Now(),
			}, nil
		}
	}
}

func (s *Synthesizer) defaultVoice() string {
	if s.cfg == nil {
		return ""
	}
	return strings.TrimSpace(s.cfg.TTSVoice)
}

func (s *Synthesizer) buildRequest(req *speechmodel.TTSRequest, speaker, encoding string) (*ttsRequest, string) {
	out := &ttsRequest{}

	uid := strings.TrimSpace(req.SessionID)
	if uid == "" {
		uid = uuid.NewString()
	}
	out.User.UID = uid

	out.ReqParams.Speaker = speaker
	out.ReqParams.Text = req.Text
	out.ReqParams.AudioParams = ttsAudioParams{
		Format:          encoding,
		SampleRate:      24000,
		EnableTimestamp: true,
	}

	var cfg speechmodel.SpeechConfig
	if s.cfg != nil {
		cfg = *s.cfg
	}
	if speed := pickRatio(req.Speed, cfg.TTSSpeed); speed != 1 {
		out.ReqParams.AudioParams.SpeedRatio = speed
	}
	if volume := pickRatio(req.Volume, cfg.TTSVolume); volume != 1 {
		out.ReqParams.AudioParams.VolumeRatio = volume
	}
	if req.Emotion != "" && supportsEmotion(speaker) {
		out.ReqParams.AudioParams.Emotion = req.Emotion
		out.ReqParams.AudioParams.EmotionScale = 3
	}
	out.ReqParams.Language = firstNonEmpty(req.Language, cfg.TTSLanguage)
	out.ReqParams.Additions = `{"disable_markdown_filter":false}`

	return out, uid
}

// pickRatio 请求值优先，其次配置值；都未设置时为 1。
func pickRatio(requested, configured float32) float32 {
	switch {
	case requested > 0:
		return requested
	case configured > 0:
		return configured
	}
	return 1
}

func resourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}
	return []string{defaultResource, seedResource}
}

// voiceAliases 学习模式与友好名到发音人的映射。
var voiceAliases = map[string]string{
	"citta":             "en_female_amy_jupiter_bigtts",
	"en_default":        "en_female_amy_jupiter_bigtts",
	"tutor-warm":        "en_female_amy_jupiter_bigtts",
	"tutor-storyteller": "en_female_skye_emo_v2_mars_bigtts",
	"tutor-calm":        "en_male_glen_emo_v2_mars_bigtts",
	"tutor-coach":       "en_male_corey_emo_v2_mars_bigtts",
}

// NormalizeVoiceAlias 把别名解析为发音人 ID，未知值原样返回。
func NormalizeVoiceAlias(voice string) string {
	trimmed := strings.TrimSpace(voice)
	if mapped, ok := voiceAliases[strings.ToLower(trimmed)]; ok {
		return mapped
	}
	return trimmed
}

func speakerCandidates(requested, fallback string) []string {
	var out []string
	add := func(v string) {
		v = NormalizeVoiceAlias(v)
		if v == "" {
			return
		}
		for _, existing := range out {
			if strings.EqualFold(existing, v) {
				return
			}
		}
		out = append(out, v)
	}
	add(requested)
	add(fallback)
	if len(out) == 0 {
		out = append(out, voiceAliases["citta"])
	}
	return out
}

func isResourceMismatch(err error) bool {
	return err != nil && strings.Contains(err.Error(), resourceMismatch)
}
