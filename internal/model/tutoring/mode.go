package tutoring

import (
	"fmt"
	"strings"
)

// Mode 表示 VARK 学习风格。
type Mode string

const (
	ModeVisual      Mode = "V"
	ModeAuditory    Mode = "A"
	ModeReading     Mode = "R"
	ModeKinesthetic Mode = "K"
)

// DefaultMode 新会话默认使用阅读模式。
const DefaultMode = ModeReading

// AllModes 按 VARK 顺序列出全部模式。
var AllModes = []Mode{ModeVisual, ModeAuditory, ModeReading, ModeKinesthetic}

// ParseMode 接受单字母或完整名称（不区分大小写）。
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "v", "visual":
		return ModeVisual, nil
	case "a", "auditory":
		return ModeAuditory, nil
	case "r", "reading", "read/write":
		return ModeReading, nil
	case "k", "kinesthetic":
		return ModeKinesthetic, nil
	default:
		return "", fmt.Errorf("unknown learning mode %q", raw)
	}
}

// Valid 报告是否为四种模式之一。
func (m Mode) Valid() bool {
	switch m {
	case ModeVisual, ModeAuditory, ModeReading, ModeKinesthetic:
		return true
	default:
		return false
	}
}

// Structured 报告该模式下模型是否需要输出指令列表。
func (m Mode) Structured() bool {
	return m == ModeVisual || m == ModeAuditory || m == ModeKinesthetic
}

// ModeProfile 描述一种学习模式在前端和提示词中的呈现。
type ModeProfile struct {
	ID          Mode     `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	VoiceID     string   `json:"voiceId,omitempty"`
	Hints       []string `json:"hints,omitempty"`
}

// Seed 返回内置的四种学习模式。
func Seed() []ModeProfile {
	return []ModeProfile{
		{
			ID:          ModeVisual,
			Name:        "Visual",
			Description: "Diagrams, shapes and arrows drawn step by step on the canvas.",
			VoiceID:     "tutor-warm",
			Hints: []string{
				"Prefer spatial layouts: boxes for concepts, arrows for relationships.",
				"Keep each speak step short and tied to what was just drawn.",
			},
		},
		{
			ID:          ModeAuditory,
			Name:        "Auditory",
			Description: "A narrated walkthrough where the spoken explanation leads and visuals support it.",
			VoiceID:     "tutor-storyteller",
			Hints: []string{
				"Let speak commands carry most of the explanation, like a short lecture.",
				"Use rhythm and repetition of key terms so they are easy to remember by ear.",
			},
		},
		{
			ID:          ModeReading,
			Name:        "Reading",
			Description: "Clear written explanations in plain text.",
			VoiceID:     "tutor-calm",
			Hints: []string{
				"Structure the answer with short paragraphs and simple lists.",
			},
		},
		{
			ID:          ModeKinesthetic,
			Name:        "Kinesthetic",
			Description: "Hands-on drag and drop exercises.",
			VoiceID:     "tutor-coach",
			Hints: []string{
				"Turn the concept into a matching task the learner solves by dragging items.",
				"Place drop targets far enough apart that each one is clearly distinct.",
			},
		},
	}
}

// ModeStore 提供模式目录的查询。
type ModeStore interface {
	List() []ModeProfile
	FindByID(id Mode) (ModeProfile, bool)
}

// MemoryModeStore 基于内存切片的 ModeStore 实现。
type MemoryModeStore struct {
	items []ModeProfile
}

// NewMemoryModeStore 使用给定的模式列表创建目录。
func NewMemoryModeStore(items []ModeProfile) *MemoryModeStore {
	return &MemoryModeStore{items: append([]ModeProfile(nil), items...)}
}

// List 返回模式目录的副本。
func (s *MemoryModeStore) List() []ModeProfile {
	return append([]ModeProfile(nil), s.items...)
}

// FindByID 按模式查找目录项。
func (s *MemoryModeStore) FindByID(id Mode) (ModeProfile, bool) {
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return ModeProfile{}, false
}
