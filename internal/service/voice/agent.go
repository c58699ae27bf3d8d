package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/citta/backend/internal/analysis/commands"
	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
	"github.com/zhouzirui/citta/backend/internal/service/ai"
)

// FallbackResponse 决策失败时说给学习者听的固定回复。
const FallbackResponse = "I'm sorry, I seem to be having a little trouble. Could you please say that again?"

const documentContextLimit = 10000

// 语音决策的三种动作。
const (
	ActionAnswer  = "answer"
	ActionOffer   = "offer"
	ActionTrigger = "trigger"
)

// Config 控制语音决策服务。
type Config struct {
	Timeout time.Duration
}

// LiveTurn 实时对话中的一轮。
type LiveTurn struct {
	Sender tutoring.Sender `json:"sender"`
	Text   string          `json:"text"`
}

// LiveInput 是一次语音决策的上下文。
type LiveInput struct {
	Transcript     string
	LiveHistory    []LiveTurn
	SessionHistory []tutoring.Turn
	DocumentText   string
}

// Decision 是语音决策的结果。
type Decision struct {
	VerbalResponse       string `json:"verbalResponse"`
	TriggerVisualization bool   `json:"triggerVisualization"`
	VisualizationPrompt  string `json:"visualizationPrompt,omitempty"`
}

// Fallback 返回固定的兜底决策。
func Fallback() Decision {
	return Decision{VerbalResponse: FallbackResponse}
}

// Agent 使用大模型在 answer / offer / trigger 之间做选择，失败时永远回退到兜底回复。
type Agent struct {
	timeout    time.Duration
	classifier compose.Runnable[map[string]any, *schema.Message]
}

// NewAgent 创建语音决策服务。chatModel 为空时只返回兜底回复。
func NewAgent(ctx context.Context, chatModel model.BaseChatModel, cfg Config) (*Agent, error) {
	agent := &Agent{timeout: cfg.Timeout}
	if chatModel == nil {
		return agent, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{instructions}"),
		schema.UserMessage("{context}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile voice decision chain: %w", err)
	}

	agent.classifier = runnable
	return agent, nil
}

// Enabled 返回是否配置了模型。
func (a *Agent) Enabled() bool {
	return a != nil && a.classifier != nil
}

// Decide 为一句最终转写选择动作。它不会返回错误。
func (a *Agent) Decide(ctx context.Context, in LiveInput) Decision {
	if !a.Enabled() {
		return Fallback()
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	log.Printf("[voice] processing transcript: %q", in.Transcript)
	msg, err := a.classifier.Invoke(ctx, map[string]any{
		"instructions": decisionInstructions,
		"context":      BuildContext(in),
	})
	if err != nil {
		log.Printf("[voice] decision invoke failed, use fallback: %v", err)
		return Fallback()
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return Fallback()
	}

	decision, err := ParseDecision(msg.Content)
	if err != nil {
		log.Printf("[voice] decision parse failed, use fallback: %v", err)
		return Fallback()
	}

	log.Printf("[voice] decision trigger=%t length=%d", decision.TriggerVisualization, len(decision.VerbalResponse))
	return decision
}

type decisionPayload struct {
	Action              string `json:"action"`
	VerbalResponse      string `json:"verbalResponse"`
	VisualizationPrompt string `json:"visualizationPrompt"`
}

// ParseDecision 解析模型返回的 JSON 对象；trigger 必须带 visualizationPrompt。
func ParseDecision(content string) (Decision, error) {
	trimmed := strings.TrimSpace(commands.StripCodeFences(content))
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return Decision{}, fmt.Errorf("missing json object")
	}

	var payload decisionPayload
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return Decision{}, err
	}

	verbal := CleanVerbalResponse(payload.VerbalResponse)
	if strings.TrimSpace(verbal) == "" {
		return Decision{}, fmt.Errorf("action %q without verbalResponse", payload.Action)
	}

	if strings.EqualFold(strings.TrimSpace(payload.Action), ActionTrigger) {
		visualization := strings.TrimSpace(payload.VisualizationPrompt)
		if visualization == "" {
			return Decision{}, fmt.Errorf("trigger without visualizationPrompt")
		}
		return Decision{VerbalResponse: verbal, TriggerVisualization: true, VisualizationPrompt: visualization}, nil
	}

	return Decision{VerbalResponse: verbal}, nil
}

// CleanVerbalResponse 去掉会被语音合成读出来的 markdown 标记。
func CleanVerbalResponse(text string) string {
	return strings.NewReplacer("*", "", "_", "", "#", "").Replace(text)
}

// BuildContext 拼装决策上下文。
func BuildContext(in LiveInput) string {
	sessionHistory := ai.FormatHistory(in.SessionHistory)
	if sessionHistory == "" {
		sessionHistory = "No main session history."
	}

	document := "None"
	if in.DocumentText != "" {
		document = truncateRunes(in.DocumentText, documentContextLimit) + "..."
	}

	var b strings.Builder
	b.WriteString("**CONTEXT:**\n")
	b.WriteString(fmt.Sprintf("- **User's Latest Request (latest transcript):** %q\n", in.Transcript))
	b.WriteString("- **Main Session History (previous, separate session, ONLY TO PROVIDE CONTEXT ON THE PREVIOUS SESSION):** ")
	b.WriteString(sessionHistory)
	b.WriteString("\n- **Current Live Conversation (BASE YOUR NATURAL AND CHARACTERISTIC DIALOG / REPLY FROM THIS):** ")
	b.WriteString(formatLiveHistory(in.LiveHistory))
	b.WriteString("\n- **Document Context:** ")
	b.WriteString(document)
	b.WriteString("\n\nAnalyze the context and your character, then provide your JSON response now.")
	return b.String()
}

func formatLiveHistory(turns []LiveTurn) string {
	if len(turns) == 0 {
		return "No live conversation history yet."
	}

	lines := make([]string, 0, len(turns))
	for _, turn := range turns {
		role := "AI"
		if turn.Sender == tutoring.SenderUser {
			role = "User"
		}
		lines = append(lines, role+": "+turn.Text)
	}
	return strings.Join(lines, "\n")
}

func truncateRunes(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}

const decisionInstructions = "**YOUR CHARACTER:**\n" +
	"You are Citta, an AI LIVE Tutor Voice Agent. Your personality is enthusiastic, patient, and incredibly supportive. You are passionate about making complex topics easy to understand. Your goal is to be a helpful and engaging learning companion.\n\n" +
	"**YOUR TASK:**\n" +
	"Analyze the user's request, the conversation history, and any provided documents to decide on the best course of action. Respond with a valid JSON object describing your chosen action.\n\n" +
	"**AVAILABLE ACTIONS:**\n\n" +
	"1.  **\"answer\"**: For questions, greetings, or follow-ups that don't need a visual. Your answer should be explanatory and encouraging. NOTE: This is your primary task.\n" +
	"    - **JSON Format:** `{\"action\": \"answer\", \"verbalResponse\": \"Great question! The answer is...\"}`\n\n" +
	"2.  **\"offer\"**: ONLY IF the topic IN THE CURRENT LIVE CONVERSATION is complex and would benefit from a visual, but the user hasn't explicitly asked for one, offer to create it in an encouraging way.\n" +
	"    - **JSON Format:** `{\"action\": \"offer\", \"verbalResponse\": \"That's a fantastic topic! It might be easier to understand with a diagram. Would you like me to draw it out on the canvas for you?\"}`\n\n" +
	"3.  **\"trigger\"**: ONLY IF the user explicitly asks for a visual (e.g. \"show me\", \"draw that\", \"explain with a diagram\") in the CURRENT LIVE CONVERSATION, or accepts your previous offer, you must do two things:\n" +
	"    a.  Provide a brief, enthusiastic confirmation as the `verbalResponse`.\n" +
	"    b.  Write a detailed, new prompt for a separate Visual AI in the `visualizationPrompt` field. It must be a clear, comprehensive set of instructions that synthesizes the user's request with the full context. Suggest analogies, recommend a step-by-step approach, and specify key elements to highlight.\n" +
	"    - **JSON Format:** `{\"action\": \"trigger\", \"verbalResponse\": \"Absolutely! Let's break that down on the canvas. Here we go!\", \"visualizationPrompt\": \"Explain ... step-by-step.\"}`\n\n" +
	"Return exactly one JSON object and nothing else."
