package lesson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind 表示一条演示指令的类型。
type Kind string

const (
	KindSpeak           Kind = "speak"
	KindCreateText      Kind = "createText"
	KindDrawRectangle   Kind = "drawRectangle"
	KindDrawCircle      Kind = "drawCircle"
	KindDrawArrow       Kind = "drawArrow"
	KindCreateDraggable Kind = "createDraggable"
	KindSetDropTarget   Kind = "setDropTarget"
	KindClearCanvas     Kind = "clearCanvas"
	KindSessionEnd      Kind = "session_end"

	// 前端额外支持的表格指令
	KindCreateTable Kind = "createTable"
	KindFillTable   Kind = "fillTable"
)

// DefaultDelayMs 指令未指定 delay 时的默认节奏。
const DefaultDelayMs = 500

// Known 报告该类型是否为已知指令。
func (k Kind) Known() bool {
	switch k {
	case KindSpeak, KindCreateText, KindDrawRectangle, KindDrawCircle, KindDrawArrow,
		KindCreateDraggable, KindSetDropTarget, KindClearCanvas, KindSessionEnd,
		KindCreateTable, KindFillTable:
		return true
	default:
		return false
	}
}

// KinestheticOnly 报告该类型是否只允许在动觉模式下出现。
func (k Kind) KinestheticOnly() bool {
	return k == KindCreateDraggable || k == KindSetDropTarget
}

// Renders 报告该指令是否会写入画布状态。
func (k Kind) Renders() bool {
	switch k {
	case KindSpeak, KindSessionEnd, KindClearCanvas, KindFillTable:
		return false
	default:
		return k.Known()
	}
}

// Command 是模型输出中的一条演示指令。
type Command struct {
	Kind    Kind            `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Delay   *int            `json:"delay,omitempty"`
}

// UnmarshalJSON 容忍模型给出的小数或字符串 delay；无法识别的值视为未指定。
func (c *Command) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind    Kind            `json:"command"`
		Payload json.RawMessage `json:"payload"`
		Delay   json.RawMessage `json:"delay"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Kind = raw.Kind
	c.Payload = raw.Payload
	c.Delay = parseDelay(raw.Delay)
	return nil
}

func parseDelay(raw json.RawMessage) *int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var text string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return nil
		}
	} else {
		text = string(raw)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 {
		return nil
	}
	ms := int(math.Round(f))
	return &ms
}

// DelayMs 返回指令的节奏，未指定或为负时使用默认值。
func (c Command) DelayMs() int {
	if c.Delay == nil || *c.Delay < 0 {
		return DefaultDelayMs
	}
	return *c.Delay
}

// Decode 将 payload 解码到指定结构。
func (c Command) Decode(target any) error {
	if len(c.Payload) == 0 {
		return fmt.Errorf("%s: payload is empty", c.Kind)
	}
	if err := json.Unmarshal(c.Payload, target); err != nil {
		return fmt.Errorf("%s: decode payload: %w", c.Kind, err)
	}
	return nil
}

// New 使用给定 payload 构造指令，主要用于测试与服务端生成的指令。
func New(kind Kind, payload any, delay *int) (Command, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Command{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Command{Kind: kind, Payload: raw, Delay: delay}, nil
}

// SpeakTexts 返回指令列表中所有 speak 的文本。
func SpeakTexts(cmds []Command) []string {
	var texts []string
	for _, cmd := range cmds {
		if cmd.Kind != KindSpeak {
			continue
		}
		var p SpeakPayload
		if err := cmd.Decode(&p); err != nil || p.Text == "" {
			continue
		}
		texts = append(texts, p.Text)
	}
	return texts
}
