package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zhouzirui/citta/backend/internal/model/lesson"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

// UnprocessableTurn 无法还原的 AI 历史回复在上下文中的占位文本。
const UnprocessableTurn = "AI: (response could not be processed)"

const tutorPersona = `You are Citta, an expert tutor AI. Your personality is enthusiastic, patient, and incredibly supportive. You are passionate about making complex topics easy to understand. Your goal is to be a helpful and engaging learning companion.`

const knowledgeSourceBlock = `**Primary Knowledge Source:**
The user has provided the following document(s) as the main source of truth. Base your entire explanation on this content. Do not use outside knowledge unless absolutely necessary to clarify a concept from the document. If the user's question cannot be answered from the document(s), say so.

**Document(s) Content:**
"""
%s
"""`

var modeInstructions = map[tutoring.Mode]string{
	tutoring.ModeReading:     "Respond ONLY with plain text. Do not use JSON or any other format. Your response should be a direct, comprehensive textual answer to the user's query.",
	tutoring.ModeKinesthetic: "Your mission is to create an interactive exercise. Respond with a JSON array of commands. Include at least one `createDraggable` command and one `setDropTarget` command. Explain the task to the user using a `speak` command.",
	tutoring.ModeVisual:      "Your mission is to transform this explanation into a dynamic, visual, and verbal presentation. You must respond with a JSON array of command objects. Each object represents a single action in the presentation.",
	tutoring.ModeAuditory:    "Your mission is to transform this explanation into a dynamic, visual, and verbal presentation. You must respond with a JSON array of command objects. Each object represents a single action in the presentation.",
}

const commandReference = "**Available Commands (for V, A, K modes):**\n\n" +
	"1.  **`speak`**: Provides the verbal part of the explanation.\n" +
	"    - `payload`: { \"text\": \"Your explanation for the current step.\" }\n\n" +
	"2.  **`createText`**: Renders text on the canvas.\n" +
	"    - `payload`: { \"x\": <number>, \"y\": <number>, \"text\": \"Label or title\", \"fontSize\": <number>, \"color\": \"<string>\" }\n" +
	"    - `delay`: <milliseconds>\n\n" +
	"3.  **`drawRectangle`**: Draws a rectangle.\n" +
	"    - `payload`: { \"x\": <number>, \"y\": <number>, \"width\": <number>, \"height\": <number>, \"color\": \"<string>\", \"label\": \"<string>\" }\n" +
	"    - `delay`: <milliseconds>\n\n" +
	"4.  **`drawCircle`**: Draws a circle.\n" +
	"    - `payload`: { \"x\": <number>, \"y\": <number>, \"radius\": <number>, \"color\": \"<string>\", \"label\": \"<string>\" }\n" +
	"    - `delay`: <milliseconds>\n\n" +
	"5.  **`drawArrow`**: Draws an arrow to connect elements.\n" +
	"    - `payload`: { \"points\": [<x1>, <y1>, <x2>, <y2>], \"color\": \"<string>\" }\n" +
	"    - `delay`: <milliseconds>\n\n" +
	"6.  **`createDraggable`** (K-Mode Only): Creates a draggable component.\n" +
	"    - `payload`: { \"id\": \"<string>\", \"type\": \"image\" | \"text\", \"src\": \"<url_if_image>\", \"text\": \"<text_if_text>\", \"x\": <number>, \"y\": <number> }\n" +
	"    - `delay`: <milliseconds>\n\n" +
	"7.  **`setDropTarget`** (K-Mode Only): Defines a target area for a draggable component.\n" +
	"    - `payload`: { \"id\": \"<string>\", \"x\": <number>, \"y\": <number>, \"width\": <number>, \"height\": <number>, \"correctComponentId\": \"<string>\" }\n" +
	"    - `delay`: <milliseconds>\n\n" +
	"8.  **`clearCanvas`**: Clears all elements from the canvas.\n" +
	"    - `payload`: {}\n" +
	"    - `delay`: <milliseconds>\n\n" +
	"9.  **`session_end`**: Signals that the presentation is complete. Must be the last command.\n" +
	"    - `payload`: {}\n" +
	"    - `delay`: 0"

// Composer 根据学习模式、历史与文档拼装发给模型的完整指令。
type Composer struct {
	modes tutoring.ModeStore
}

// NewComposer creates a composer. A nil catalog means no per-mode hints.
func NewComposer(modes tutoring.ModeStore) *Composer {
	return &Composer{modes: modes}
}

// Compose builds the tutoring instruction. It has no side effects.
func (c *Composer) Compose(userInput string, mode tutoring.Mode, history, documentText string) string {
	var b strings.Builder

	b.WriteString(tutorPersona)
	b.WriteString("\n\n")

	if strings.TrimSpace(documentText) != "" {
		b.WriteString(fmt.Sprintf(knowledgeSourceBlock, documentText))
		b.WriteString("\n\n")
	}

	b.WriteString("Below is the full conversation history. Your task is to provide a response to the LAST user message, using the context of the entire conversation and adhering to the specified mode.\n\n")
	b.WriteString("--- CONVERSATION HISTORY ---\n")
	if history = strings.TrimSpace(history); history != "" {
		b.WriteString(history)
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(userInput)
	b.WriteString("\n--- END OF HISTORY ---\n\n")

	b.WriteString("**MODE INSTRUCTIONS:**\n")
	b.WriteString(c.instructionsFor(mode))
	b.WriteString("\n\n")

	b.WriteString(commandReference)
	return b.String()
}

func (c *Composer) instructionsFor(mode tutoring.Mode) string {
	instruction, ok := modeInstructions[mode]
	if !ok {
		instruction = modeInstructions[tutoring.ModeVisual]
	}
	if c == nil || c.modes == nil {
		return instruction
	}

	profile, ok := c.modes.FindByID(mode)
	if !ok || len(profile.Hints) == 0 {
		return instruction
	}
	return instruction + "\n- " + strings.Join(profile.Hints, "\n- ")
}

// FormatHistory renders stored turns as "User:"/"AI:" lines.
// AI turns are reduced to the text of their speak commands.
func FormatHistory(turns []tutoring.Turn) string {
	if len(turns) == 0 {
		return ""
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		if turn.Sender == tutoring.SenderUser {
			lines = append(lines, "User: "+turn.Text)
			continue
		}

		var cmds []lesson.Command
		// null 解码为 nil 切片，同样视为无法处理
		if err := json.Unmarshal([]byte(turn.Text), &cmds); err != nil || cmds == nil {
			lines = append(lines, UnprocessableTurn)
			continue
		}
		lines = append(lines, "AI: "+strings.Join(lesson.SpeakTexts(cmds), " "))
	}
	return strings.Join(lines, "\n")
}
