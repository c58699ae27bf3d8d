// Package live coordinates real-time voice conversations: streaming recognition,
// voice decisions, speech synthesis and visualization hand-off per connection.
package live

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
	speechmodel "github.com/zhouzirui/citta/backend/internal/model/speech"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/speech"
	"github.com/zhouzirui/citta/backend/internal/service/voice"
)

// 对外事件名。
const (
	EventTranscriptUpdate     = "transcript_update"
	EventAIAudioResponse      = "ai_audio_response"
	EventTriggerVisualization = "trigger_visualization"
	EventConversationError    = "conversation_error"
)

const (
	msgRecognitionFailed = "speech recognition failed"
	msgSynthesisFailed   = "speech synthesis failed"
)

var (
	ErrDisconnected = errors.New("conversation disconnected")
	ErrNoRecognizer = errors.New("speech recognition not configured")
)

// Stream 一路流式识别。
type Stream interface {
	Write(chunk []byte) error
	Results() <-chan speechmodel.Transcript
	Done() <-chan struct{}
	Err() error
	Cancel()
}

// Recognizer 打开识别流。
type Recognizer interface {
	Open(ctx context.Context, req speechmodel.StreamRequest) (Stream, error)
}

// RecognizerFunc 把函数适配为 Recognizer。
type RecognizerFunc func(ctx context.Context, req speechmodel.StreamRequest) (Stream, error)

func (f RecognizerFunc) Open(ctx context.Context, req speechmodel.StreamRequest) (Stream, error) {
	return f(ctx, req)
}

// Decider 为一句最终转写做语音决策，永不失败。
type Decider interface {
	Decide(ctx context.Context, in voice.LiveInput) voice.Decision
}

// Synthesizer 把导师回复合成为音频。
type Synthesizer interface {
	Reply(ctx context.Context, sessionID, text string, signal learner.Signal) (*speechmodel.TTSResponse, error)
}

// ContextLoader 读取会话历史与附加文档文本。
type ContextLoader interface {
	LiveContext(ctx context.Context, userID, sessionID string) ([]tutoring.Turn, string, error)
}

// Emitter 向客户端推送事件。
type Emitter interface {
	Emit(event string, data any) error
}

// TranscriptUpdate 是 transcript_update 的负载。
type TranscriptUpdate struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// AudioResponse 是 ai_audio_response 的负载，Audio 序列化为 base64。
type AudioResponse struct {
	Audio  []byte `json:"audio"`
	Text   string `json:"text"`
	Format string `json:"format,omitempty"`
}

type Visualization struct {
	Prompt string `json:"prompt"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

// Config 控制实时对话行为。
type Config struct {
	// SuppressStale 打断时取消进行中的决策与合成，并丢弃旧轮次的回复。
	SuppressStale bool
	AudioFormat   string
	SampleRate    int
	Language      string
}

// Deps 是协调器的外部依赖；Synthesizer 与 ContextLoader 可为空。
type Deps struct {
	Recognizer  Recognizer
	Decider     Decider
	Synthesizer Synthesizer
	Loader      ContextLoader
	Streams     *speech.StreamRegistry
}

// Coordinator 进程级协调器，为每个连接创建 Conversation。
type Coordinator struct {
	deps Deps
	cfg  Config

	mu     sync.Mutex
	active map[string]*Conversation
}

// NewCoordinator 创建协调器。
func NewCoordinator(deps Deps, cfg Config) *Coordinator {
	if deps.Streams == nil {
		deps.Streams = speech.NewStreamRegistry()
	}
	if cfg.AudioFormat == "" {
		cfg.AudioFormat = "pcm"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Coordinator{deps: deps, cfg: cfg, active: make(map[string]*Conversation)}
}

// Connect 为新连接创建对话。同一连接 ID 的旧对话会被断开。
func (c *Coordinator) Connect(connID, userID string, emitter Emitter) *Conversation {
	life, stop := context.WithCancel(context.Background())
	epochCtx, epochCancel := context.WithCancel(life)

	conv := &Conversation{
		id:          connID,
		userID:      userID,
		coord:       c,
		emitter:     emitter,
		state:       StateConnected,
		life:        life,
		stopLife:    stop,
		epochCtx:    epochCtx,
		epochCancel: epochCancel,
	}

	c.mu.Lock()
	old := c.active[connID]
	c.active[connID] = conv
	c.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}
	log.Printf("[live] connection %s opened for user %s", connID, userID)
	return conv
}

// Active 返回当前连接数。
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Shutdown 断开所有对话。
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	convs := make([]*Conversation, 0, len(c.active))
	for _, conv := range c.active {
		convs = append(convs, conv)
	}
	c.mu.Unlock()

	for _, conv := range convs {
		conv.Disconnect()
	}
}

func (c *Coordinator) forget(conv *Conversation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[conv.id] == conv {
		delete(c.active, conv.id)
	}
}

// State 对话状态。
type State string

const (
	StateConnected    State = "connected"
	StateActive       State = "active"
	StateDisconnected State = "disconnected"
)

// Conversation 单个连接上的实时对话。
type Conversation struct {
	id      string
	userID  string
	coord   *Coordinator
	emitter Emitter

	startMu sync.Mutex

	mu          sync.Mutex
	state       State
	sessionID   string
	history     []voice.LiveTurn
	stream      Stream
	epoch       uint64
	epochCtx    context.Context
	epochCancel context.CancelFunc

	life     context.Context
	stopLife context.CancelFunc
	wg       sync.WaitGroup
}

// ID 返回连接 ID。
func (c *Conversation) ID() string { return c.id }

// State 返回当前状态。
func (c *Conversation) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StreamOpen 返回是否有可写的识别流。
func (c *Conversation) StreamOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// History 返回实时对话记录的副本。
func (c *Conversation) History() []voice.LiveTurn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]voice.LiveTurn(nil), c.history...)
}

// Start 开始一段对话：清空实时记录并打开唯一的识别流。
func (c *Conversation) Start(ctx context.Context, sessionID string) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.coord.deps.Recognizer == nil {
		c.emit(EventConversationError, ErrorEvent{Message: msgRecognitionFailed})
		return ErrNoRecognizer
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.sessionID = strings.TrimSpace(sessionID)
	c.history = nil
	c.stream = nil
	c.mu.Unlock()

	// 先硬取消旧流，再开新流。
	c.coord.deps.Streams.Remove(c.id)

	stream, err := c.coord.deps.Recognizer.Open(ctx, speechmodel.StreamRequest{
		ConnectID:  c.id,
		UserID:     c.userID,
		Format:     c.coord.cfg.AudioFormat,
		SampleRate: c.coord.cfg.SampleRate,
		Language:   c.coord.cfg.Language,
	})
	if err != nil {
		log.Printf("[live] open recognition stream for %s failed: %v", c.id, err)
		c.emit(EventConversationError, ErrorEvent{Message: msgRecognitionFailed})
		return fmt.Errorf("open recognition stream: %w", err)
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		stream.Cancel()
		return ErrDisconnected
	}
	c.stream = stream
	c.state = StateActive
	c.mu.Unlock()

	c.coord.deps.Streams.Put(c.id, stream)
	log.Printf("[live] conversation %s started (session=%q)", c.id, c.sessionID)

	c.wg.Add(1)
	go c.consume(stream)
	return nil
}

// Audio 转发一段音频；没有打开的流时丢弃。
func (c *Conversation) Audio(chunk []byte) {
	c.mu.Lock()
	stream := c.stream
	active := c.state == StateActive
	c.mu.Unlock()

	if !active || stream == nil || len(chunk) == 0 {
		return
	}
	if err := stream.Write(chunk); err != nil {
		log.Printf("[live] drop audio chunk for %s: %v", c.id, err)
	}
}

// Interrupt 立即取消识别流并回到已连接状态。
func (c *Conversation) Interrupt() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.stream = nil
	c.state = StateConnected
	c.epoch++
	if c.coord.cfg.SuppressStale {
		c.epochCancel()
		c.epochCtx, c.epochCancel = context.WithCancel(c.life)
	}
	c.mu.Unlock()

	c.coord.deps.Streams.Remove(c.id)
	log.Printf("[live] conversation %s interrupted", c.id)
}

// Disconnect 释放所有资源，之后不再发出任何事件。
func (c *Conversation) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.stream = nil
	c.mu.Unlock()

	c.coord.deps.Streams.Remove(c.id)
	c.stopLife()
	c.coord.forget(c)
	log.Printf("[live] connection %s closed", c.id)
}

// Wait 等待所有进行中的处理结束，测试与优雅关闭使用。
func (c *Conversation) Wait() {
	c.wg.Wait()
}

func (c *Conversation) consume(stream Stream) {
	defer c.wg.Done()

	for tr := range stream.Results() {
		text := strings.TrimSpace(tr.Text)
		if text == "" || !c.isCurrent(stream) {
			continue
		}
		c.emit(EventTranscriptUpdate, TranscriptUpdate{Text: text, IsFinal: tr.IsFinal})
		if !tr.IsFinal {
			continue
		}

		ctx, epoch, sessionID, history := c.acceptFinal(text)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.respond(ctx, epoch, sessionID, text, history)
		}()
	}

	<-stream.Done()
	c.coord.deps.Streams.Release(c.id, stream)

	if !c.isCurrent(stream) {
		return
	}
	c.mu.Lock()
	c.stream = nil
	c.mu.Unlock()

	if err := stream.Err(); err != nil {
		log.Printf("[live] recognition stream for %s failed: %v", c.id, err)
		c.emit(EventConversationError, ErrorEvent{Message: msgRecognitionFailed})
	}
}

// acceptFinal 把学习者的话记入实时记录并返回本轮处理所需的快照。
func (c *Conversation) acceptFinal(text string) (context.Context, uint64, string, []voice.LiveTurn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, voice.LiveTurn{Sender: tutoring.SenderUser, Text: text})
	return c.epochCtx, c.epoch, c.sessionID, append([]voice.LiveTurn(nil), c.history...)
}

func (c *Conversation) respond(ctx context.Context, epoch uint64, sessionID, transcript string, history []voice.LiveTurn) {
	in := voice.LiveInput{Transcript: transcript, LiveHistory: history}
	if loader := c.coord.deps.Loader; loader != nil && sessionID != "" {
		turns, docText, err := loader.LiveContext(ctx, c.userID, sessionID)
		if err != nil {
			log.Printf("[live] load context for session %s failed: %v", sessionID, err)
		}
		in.SessionHistory = turns
		in.DocumentText = docText
	}

	decision := voice.Fallback()
	if c.coord.deps.Decider != nil {
		decision = c.coord.deps.Decider.Decide(ctx, in)
	}
	if c.stale(epoch) {
		log.Printf("[live] drop stale decision for %s", c.id)
		return
	}

	reply := AudioResponse{Text: decision.VerbalResponse}
	if synth := c.coord.deps.Synthesizer; synth != nil {
		audio, err := synth.Reply(ctx, sessionID, decision.VerbalResponse, learner.Analyze(transcript))
		if c.stale(epoch) {
			return
		}
		if err != nil {
			log.Printf("[live] synthesis for %s failed: %v", c.id, err)
			c.emit(EventConversationError, ErrorEvent{Message: msgSynthesisFailed})
			return
		}
		reply.Audio = audio.AudioData
		reply.Format = audio.Format
	}

	c.emit(EventAIAudioResponse, reply)

	c.mu.Lock()
	c.history = append(c.history, voice.LiveTurn{Sender: tutoring.SenderAI, Text: decision.VerbalResponse})
	c.mu.Unlock()

	if decision.TriggerVisualization {
		c.emit(EventTriggerVisualization, Visualization{Prompt: decision.VisualizationPrompt})
	}
}

// stale 只有开启 SuppressStale 时才丢弃打断前的回复。
func (c *Conversation) stale(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		return true
	}
	return c.coord.cfg.SuppressStale && epoch != c.epoch
}

func (c *Conversation) isCurrent(stream Stream) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream == stream && c.state == StateActive
}

func (c *Conversation) emit(event string, data any) {
	c.mu.Lock()
	closed := c.state == StateDisconnected
	c.mu.Unlock()
	if closed {
		return
	}
	if err := c.emitter.Emit(event, data); err != nil {
		log.Printf("[live] emit %s to %s failed: %v", event, c.id, err)
	}
}
