// Package tutoring orchestrates scripted tutoring turns, canvas commits,
// learner performance tracking and document attachments.
package tutoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/citta/backend/internal/analysis/commands"
	"github.com/zhouzirui/citta/backend/internal/analysis/learner"
	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	domain "github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/ai"
	"github.com/zhouzirui/citta/backend/internal/store"
)

var (
	ErrPromptRequired    = errors.New("prompt text is required")
	ErrInvalidMode       = errors.New("invalid learning mode")
	ErrSessionNotFound   = errors.New("session not found")
	ErrDocumentForbidden = errors.New("document not accessible")
	ErrDecodeFailed      = errors.New("model output could not be decoded")
	ErrVersionConflict   = store.ErrVersionConflict
	ErrChallengeNotFound = errors.New("session has no kinesthetic challenge")
)

// Tutor 生成导师回复与会话标题。
type Tutor interface {
	Decide(ctx context.Context, req ai.DecideRequest) (string, error)
	SummarizeTitle(ctx context.Context, prompt string) string
}

// Options 服务可选配置。
type Options struct {
	UploadDir string
	Now       func() time.Time
}

// Service 编排一轮教学对话以及会话、文档与学习表现的读写。
type Service struct {
	repo      store.Repository
	tutor     Tutor
	modes     domain.ModeStore
	uploadDir string
	now       func() time.Time
}

// NewService 创建教学服务；tutor 为空时 StartTurn 返回 ai.ErrModelUnavailable。
func NewService(repo store.Repository, tutor Tutor, modes domain.ModeStore, opts Options) *Service {
	if modes == nil {
		modes = domain.NewMemoryModeStore(domain.Seed())
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.UploadDir == "" {
		opts.UploadDir = "uploads"
	}
	return &Service{repo: repo, tutor: tutor, modes: modes, uploadDir: opts.UploadDir, now: opts.Now}
}

// StartRequest 发起一轮教学。
type StartRequest struct {
	PromptText    string      `json:"promptText"`
	SessionID     string      `json:"sessionId,omitempty"`
	DocumentIDs   []string    `json:"fileIds,omitempty"`
	Mode          domain.Mode `json:"mode"`
	SpeechEnabled bool        `json:"speechEnabled"`
}

// Outcome 是模型输出按模式解释后的结果。
type Outcome struct {
	Mode      domain.Mode                  `json:"mode"`
	Text      string                       `json:"text,omitempty"`
	Commands  []lesson.Command             `json:"commands,omitempty"`
	Challenge *domain.KinestheticChallenge `json:"kinestheticData,omitempty"`
}

// TurnResult 一轮教学的完整结果。
type TurnResult struct {
	Session  domain.Session `json:"session"`
	Created  bool           `json:"created"`
	UserTurn domain.Turn    `json:"userTurn"`
	AITurn   domain.Turn    `json:"aiTurn"`
	Outcome  Outcome        `json:"outcome"`
}

// StartTurn 执行一轮教学：校验、鉴权文档、解析会话、记录用户发言、调用模型并解释输出。
// 解码失败时只保留用户发言。
func (s *Service) StartTurn(ctx context.Context, userID string, req StartRequest) (*TurnResult, error) {
	prompt := strings.TrimSpace(req.PromptText)
	if prompt == "" {
		return nil, ErrPromptRequired
	}
	if req.Mode != "" && !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if s.tutor == nil {
		return nil, ai.ErrModelUnavailable
	}

	docs, err := s.authorizeDocuments(ctx, userID, req.DocumentIDs)
	if err != nil {
		return nil, err
	}

	session, created, err := s.resolveSession(ctx, userID, req.SessionID, prompt)
	if err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = session.Mode
	}

	prior, err := s.repo.ListTurns(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	userTurn := domain.Turn{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		Sender:      domain.SenderUser,
		Text:        req.PromptText,
		DocumentIDs: req.DocumentIDs,
		CreatedAt:   s.now(),
	}
	if err := s.repo.AppendTurn(ctx, &userTurn); err != nil {
		return nil, fmt.Errorf("save user turn: %w", err)
	}

	raw, err := s.tutor.Decide(ctx, ai.DecideRequest{
		Input:        req.PromptText,
		Mode:         mode,
		History:      ai.FormatHistory(prior),
		DocumentText: joinDocumentText(docs),
	})
	if err != nil {
		return nil, fmt.Errorf("decide: %w", err)
	}

	outcome, err := Interpret(mode, raw)
	if err != nil {
		log.Printf("[tutoring] session %s mode %s: %v", session.ID, mode, err)
		return nil, err
	}

	aiText := outcome.Text
	if mode.Structured() {
		canonical, err := json.Marshal(outcome.Commands)
		if err != nil {
			return nil, fmt.Errorf("encode commands: %w", err)
		}
		aiText = string(canonical)
	}
	aiTurn := domain.Turn{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		Sender:    domain.SenderAI,
		Text:      aiText,
		CreatedAt: s.now(),
	}
	if err := s.repo.AppendTurn(ctx, &aiTurn); err != nil {
		return nil, fmt.Errorf("save ai turn: %w", err)
	}

	session.Mode = mode
	session.SpeechEnabled = req.SpeechEnabled
	if mode == domain.ModeKinesthetic {
		session.Challenge = outcome.Challenge
	}
	if err := s.repo.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}

	return &TurnResult{Session: *session, Created: created, UserTurn: userTurn, AITurn: aiTurn, Outcome: outcome}, nil
}

// Interpret 按模式解释原始模型输出：阅读模式原样返回文本，其余模式解析并校验指令列表。
func Interpret(mode domain.Mode, raw string) (Outcome, error) {
	if !mode.Structured() {
		return Outcome{Mode: mode, Text: raw}, nil
	}

	cmds, err := commands.Parse(raw)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}
	if err := commands.Validate(mode, cmds); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	out := Outcome{Mode: mode, Commands: cmds}
	if mode == domain.ModeKinesthetic {
		out.Challenge = commands.ExtractChallenge(cmds)
		if out.Challenge == nil || len(out.Challenge.Elements) == 0 || len(out.Challenge.DropZones) == 0 {
			log.Printf("[tutoring] kinesthetic answer without a complete drag and drop pair")
		}
	}
	return out, nil
}

func (s *Service) authorizeDocuments(ctx context.Context, userID string, ids []string) ([]domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := s.repo.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	if len(docs) != len(ids) {
		return nil, ErrDocumentForbidden
	}
	for _, doc := range docs {
		if doc.UserID != userID {
			return nil, ErrDocumentForbidden
		}
	}
	return docs, nil
}

func (s *Service) resolveSession(ctx context.Context, userID, sessionID, prompt string) (*domain.Session, bool, error) {
	if sessionID != "" {
		session, err := s.ownedSession(ctx, userID, sessionID)
		return session, false, err
	}

	now := s.now()
	session := &domain.Session{
		ID:          uuid.NewString(),
		UserID:      userID,
		Title:       s.tutor.SummarizeTitle(ctx, prompt),
		Mode:        domain.DefaultMode,
		CanvasState: []lesson.Command{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, false, fmt.Errorf("create session: %w", err)
	}
	log.Printf("[tutoring] created session %s for user %s", session.ID, userID)
	return session, true, nil
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListSessions 按更新时间倒序列出用户会话。
func (s *Service) ListSessions(ctx context.Context, userID string) ([]domain.Session, error) {
	return s.repo.ListSessions(ctx, userID)
}

// GetSession 返回会话及其按时间排序的全部发言。
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*domain.Session, []domain.Turn, error) {
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	turns, err := s.repo.ListTurns(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("load turns: %w", err)
	}
	return session, turns, nil
}

// CommitCanvas 保存播放结束时的画布。expectedVersion 小于 0 时不做版本校验。
func (s *Service) CommitCanvas(ctx context.Context, userID, sessionID string, canvas []lesson.Command, expectedVersion int64) (int64, error) {
	if _, err := s.ownedSession(ctx, userID, sessionID); err != nil {
		return 0, err
	}
	if canvas == nil {
		canvas = []lesson.Command{}
	}
	version, err := s.repo.CommitCanvas(ctx, sessionID, canvas, expectedVersion)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrSessionNotFound
	}
	return version, err
}

// Modes 返回学习模式目录。
func (s *Service) Modes() []domain.ModeProfile {
	return s.modes.List()
}

// VoiceFor 返回会话当前模式对应的发音人别名，无法确定时为空。
func (s *Service) VoiceFor(ctx context.Context, userID, sessionID string) string {
	if strings.TrimSpace(sessionID) == "" {
		return ""
	}
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return ""
	}
	profile, ok := s.modes.FindByID(session.Mode)
	if !ok {
		return ""
	}
	return profile.VoiceID
}

func (s *Service) modeName(mode domain.Mode) string {
	if profile, ok := s.modes.FindByID(mode); ok {
		return profile.Name
	}
	return string(mode)
}

// TrackInteraction 累加一次互动计数。
func (s *Service) TrackInteraction(ctx context.Context, userID string, mode domain.Mode, negative bool) error {
	if !mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return s.repo.IncrementPerformance(ctx, userID, mode, negative)
}

// TrackUtterance 根据学习者的原话判断是否为负面反馈并计数。
func (s *Service) TrackUtterance(ctx context.Context, userID string, mode domain.Mode, text string) (learner.Signal, error) {
	signal := learner.Analyze(text)
	return signal, s.TrackInteraction(ctx, userID, mode, signal.Negative())
}

// Performance 按 VARK 顺序返回四种模式的表现统计，没有记录的模式计数为零。
func (s *Service) Performance(ctx context.Context, userID string) ([]learner.Stats, error) {
	counters, err := s.repo.ListPerformance(ctx, userID)
	if err != nil {
		return nil, err
	}
	byMode := learner.FromCounters(counters)
	out := make([]learner.Stats, 0, len(domain.AllModes))
	for _, mode := range domain.AllModes {
		stats := byMode[mode]
		stats.Mode = mode
		out = append(out, stats)
	}
	return out, nil
}

// SuggestMode 判断是否建议切换到表现更好的模式。
func (s *Service) SuggestMode(ctx context.Context, userID string, current domain.Mode) (learner.Suggestion, error) {
	if !current.Valid() {
		return learner.Suggestion{}, fmt.Errorf("%w: %q", ErrInvalidMode, current)
	}
	counters, err := s.repo.ListPerformance(ctx, userID)
	if err != nil {
		return learner.Suggestion{}, err
	}
	return learner.AnalyzeModeSwitch(current, learner.FromCounters(counters), s.modeName), nil
}

// DropResult 拖放判定结果。
type DropResult struct {
	Correct         bool      `json:"correct"`
	Distance        float64   `json:"distance,omitempty"`
	CorrectPosition *Position `json:"correctPosition,omitempty"`
}

// Position 画布坐标。
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ValidateDrop 校验一次拖放是否落在目标范围内。
// 会话没有练习时返回 ErrChallengeNotFound；元素没有对应落点时判为不正确。
func (s *Service) ValidateDrop(ctx context.Context, userID, sessionID, elementID string, x, y float64) (DropResult, error) {
	session, err := s.ownedSession(ctx, userID, sessionID)
	if err != nil {
		return DropResult{}, err
	}
	if session.Challenge == nil {
		return DropResult{}, ErrChallengeNotFound
	}
	zone, ok := session.Challenge.ZoneFor(elementID)
	if !ok {
		return DropResult{Correct: false}, nil
	}
	correct, distance := commands.ValidateDrop(zone, x, y)
	return DropResult{
		Correct:         correct,
		Distance:        distance,
		CorrectPosition: &Position{X: zone.X, Y: zone.Y},
	}, nil
}

// LiveContext 返回实时对话需要的会话历史与该会话附加过的全部文档文本。
func (s *Service) LiveContext(ctx context.Context, userID, sessionID string) ([]domain.Turn, string, error) {
	_, turns, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, "", err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, turn := range turns {
		for _, id := range turn.DocumentIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return turns, "", nil
	}

	docs, err := s.repo.GetDocuments(ctx, ids)
	if err != nil {
		return turns, "", fmt.Errorf("load documents: %w", err)
	}
	owned := docs[:0]
	for _, doc := range docs {
		if doc.UserID == userID {
			owned = append(owned, doc)
		}
	}
	return turns, joinDocumentText(owned), nil
}

func joinDocumentText(docs []domain.Document) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		if text := strings.TrimSpace(doc.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}
