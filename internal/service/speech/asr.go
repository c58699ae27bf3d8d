package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	speechmodel "github.com/zhouzirui/citta/backend/internal/model/speech"
)

// 16kHz 16bit mono 200ms。
const audioChunkSize = 6400

// ErrStreamClosed 向已结束或被取消的识别流写入。
var ErrStreamClosed = errors.New("recognition stream closed")

// Recognizer 打开火山引擎大模型流式识别会话。
type Recognizer struct {
	dialer   dialer
	cfg      *speechmodel.SpeechConfig
	endpoint string
}

// NewRecognizer 创建流式识别客户端。
func NewRecognizer(cfg *speechmodel.SpeechConfig) *Recognizer {
	return &Recognizer{dialer: newDialer(cfg), cfg: cfg, endpoint: asrEndpoint}
}

type asrRequest struct {
	User struct {
		UID string `json:"uid,omitempty"`
	} `json:"user"`
	Audio struct {
		Language string `json:"language,omitempty"`
		Format   string `json:"format"`
		Codec    string `json:"codec,omitempty"`
		Rate     int    `json:"rate,omitempty"`
		Bits     int    `json:"bits,omitempty"`
		Channel  int    `json:"channel,omitempty"`
	} `json:"audio"`
	Request struct {
		ModelName      string `json:"model_name"`
		EnableITN      bool   `json:"enable_itn,omitempty"`
		EnablePunc     bool   `json:"enable_punc,omitempty"`
		ShowUtterances bool   `json:"show_utterances,omitempty"`
		ResultType     string `json:"result_type,omitempty"`
		EndWindowSize  int    `json:"end_window_size,omitempty"`
	} `json:"request"`
}

type asrUtterance struct {
	Text      string `json:"text"`
	StartTime int64  `json:"start_time"`
	EndTime   int64  `json:"end_time"`
	Definite  bool   `json:"definite"`
}

type asrServerMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  struct {
		Text       string         `json:"text"`
		Utterances []asrUtterance `json:"utterances,omitempty"`
	} `json:"result"`
}

// Open 建立一路识别流并发送首帧参数。
func (r *Recognizer) Open(ctx context.Context, req speechmodel.StreamRequest) (*Stream, error) {
	connectID := strings.TrimSpace(req.ConnectID)
	if connectID == "" {
		connectID = uuid.NewString()
	}

	resourceID := "volc.bigasr.sauc.duration"
	if r.cfg != nil && r.cfg.ConcurrentMode {
		resourceID = "volc.bigasr.sauc.concurrent"
	}

	conn, err := r.dialer.dial(ctx, r.endpoint, resourceID, connectID, "ASR")
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(r.buildRequest(req))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal ASR request: %w", err)
	}
	compressed, err := Compress(payload, GzipCompression)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, FullRequest(compressed, GzipCompression).Encode()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send ASR request: %w", err)
	}

	s := &Stream{
		conn:      conn,
		connectID: connectID,
		seq:       2,
		results:   make(chan speechmodel.Transcript, 16),
		done:      make(chan struct{}),
		stop:      make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (r *Recognizer) buildRequest(req speechmodel.StreamRequest) *asrRequest {
	out := &asrRequest{}
	out.User.UID = req.UserID

	out.Audio.Format = firstNonEmpty(req.Format, "pcm")
	out.Audio.Language = req.Language
	if out.Audio.Language == "" && r.cfg != nil {
		out.Audio.Language = r.cfg.ASRLanguage
	}
	out.Audio.Codec = "raw"
	out.Audio.Rate = req.SampleRate
	if out.Audio.Rate <= 0 {
		out.Audio.Rate = 16000
	}
	out.Audio.Bits = 16
	out.Audio.Channel = 1

	out.Request.ModelName = "bigmodel"
	out.Request.EnableITN = true
	out.Request.EnablePunc = true
	out.Request.ShowUtterances = true
	out.Request.ResultType = "full"
	out.Request.EndWindowSize = 800
	if r.cfg != nil && r.cfg.ASREndWindow > 0 {
		out.Request.EndWindowSize = r.cfg.ASREndWindow
	}
	return out
}

// Stream 是一路已建立的识别会话。
// Write 与 Finish 可与 Results 的消费并发调用。
type Stream struct {
	conn      *websocket.Conn
	connectID string

	writeMu sync.Mutex
	pending []byte
	seq     int32
	closed  bool

	results chan speechmodel.Transcript
	done    chan struct{}
	stop    chan struct{}

	errMu sync.Mutex
	err   error

	cancelOnce sync.Once
}

// ConnectID 返回该流的连接标识。
func (s *Stream) ConnectID() string { return s.connectID }

// Write 缓冲音频，每满一个分片发送一次。
func (s *Stream) Write(chunk []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}

	s.pending = append(s.pending, chunk...)
	for len(s.pending) >= audioChunkSize {
		if err := s.sendLocked(s.pending[:audioChunkSize], false); err != nil {
			return err
		}
		s.pending = s.pending[audioChunkSize:]
	}
	return nil
}

// Finish 发送剩余音频并标记最后一包，服务端随后返回最终结果。
func (s *Stream) Finish() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed {
		return ErrStreamClosed
	}
	s.closed = true
	err := s.sendLocked(s.pending, true)
	s.pending = nil
	return err
}

func (s *Stream) sendLocked(audio []byte, last bool) error {
	compressed, err := Compress(audio, GzipCompression)
	if err != nil {
		return err
	}
	frame := AudioRequest(compressed, s.seq, last, GzipCompression)
	s.seq++

	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Encode()); err != nil {
		return fmt.Errorf("send audio chunk: %w", err)
	}
	return nil
}

// Results 依次产出转写结果，流结束后关闭。
func (s *Stream) Results() <-chan speechmodel.Transcript { return s.results }

// Done 在流结束（正常或出错）后关闭。
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err 返回导致流结束的错误；正常结束或被取消时为 nil。
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Cancel 立即断开，不等待最终结果。
func (s *Stream) Cancel() {
	s.cancelOnce.Do(func() {
		s.writeMu.Lock()
		s.closed = true
		s.writeMu.Unlock()
		close(s.stop)
		s.conn.Close()
	})
}

func (s *Stream) fail(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *Stream) cancelled() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Stream) readLoop() {
	defer close(s.done)
	defer close(s.results)
	defer s.Cancel()

	var (
		finalizedUntil int64
		interim        string
	)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !(s.cancelled() && isClosedConnError(err)) && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.fail(fmt.Errorf("read ASR response: %w", err))
			}
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			s.fail(fmt.Errorf("decode ASR frame: %w", err))
			return
		}

		switch frame.Header.Type {
		case ErrorMessage:
			payload, _ := Decompress(frame.Payload, frame.Header.Compression)
			s.fail(fmt.Errorf("ASR error %d: %s", frame.ErrorCode, string(payload)))
			return

		case FullServerResponse:
			payload, err := Decompress(frame.Payload, frame.Header.Compression)
			if err != nil {
				s.fail(fmt.Errorf("decompress ASR payload: %w", err))
				return
			}

			var msg asrServerMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				log.Printf("[ASR] unmarshal response failed: %v", err)
				continue
			}
			if msg.Code != 0 && msg.Code != 20000000 {
				s.fail(fmt.Errorf("ASR API error %d: %s", msg.Code, msg.Message))
				return
			}

			var out []speechmodel.Transcript
			out, finalizedUntil, interim = splitUtterances(msg, finalizedUntil)
			if frame.Last() && interim != "" {
				out = append(out, speechmodel.Transcript{Text: interim, IsFinal: true, CreatedAt: time.Now()})
				interim = ""
			}
			for _, t := range out {
				select {
				case s.results <- t:
				case <-s.stop:
					return
				}
			}
			if frame.Last() {
				return
			}
		}
	}
}

// splitUtterances 把全量结果拆成新的最终句与当前临时句。
// finalizedUntil 是已经产出过的最终句的结束时间。
func splitUtterances(msg asrServerMessage, finalizedUntil int64) ([]speechmodel.Transcript, int64, string) {
	var (
		out     []speechmodel.Transcript
		interim []string
	)
	now := time.Now()

	for _, u := range msg.Result.Utterances {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		if u.Definite {
			if u.EndTime > finalizedUntil {
				out = append(out, speechmodel.Transcript{Text: text, IsFinal: true, StartTime: u.StartTime, EndTime: u.EndTime, CreatedAt: now})
				finalizedUntil = u.EndTime
			}
			continue
		}
		interim = append(interim, text)
	}

	if len(msg.Result.Utterances) == 0 {
		if text := strings.TrimSpace(msg.Result.Text); text != "" {
			interim = append(interim, text)
		}
	}

	current := strings.Join(interim, " ")
	if current != "" {
		out = append(out, speechmodel.Transcript{Text: current, CreatedAt: now})
	}
	return out, finalizedUntil, current
}

func isClosedConnError(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return strings.Contains(err.Error(), "use of closed network connection")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
