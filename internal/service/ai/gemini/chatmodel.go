// Package gemini adapts Google's Gemini models to the eino ChatModel interface.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// Config 描述 Gemini 模型配置。
type Config struct {
	APIKey      string
	Model       string
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
}

// ChatModel 通过 genai SDK 调用 Gemini。
type ChatModel struct {
	models *genai.Models
	cfg    Config
}

// NewChatModel 创建 Gemini 聊天模型。
func NewChatModel(ctx context.Context, cfg *Config) (*ChatModel, error) {
	if cfg == nil || cfg.APIKey == "" || cfg.Model == "" {
		return nil, errors.New("gemini api key and model are required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &ChatModel{models: client.Models, cfg: *cfg}, nil
}

// Generate 发送一次完整请求。
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	modelName, contents, genCfg := m.buildRequest(input, opts...)

	resp, err := m.models.GenerateContent(ctx, modelName, contents, genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	return schema.AssistantMessage(resp.Text(), nil), nil
}

// Stream 以流式方式返回增量文本。
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	modelName, contents, genCfg := m.buildRequest(input, opts...)

	reader, writer := schema.Pipe[*schema.Message](8)
	go func() {
		defer writer.Close()
		for resp, err := range m.models.GenerateContentStream(ctx, modelName, contents, genCfg) {
			if err != nil {
				writer.Send(nil, fmt.Errorf("gemini stream: %w", err))
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if closed := writer.Send(schema.AssistantMessage(text, nil), nil); closed {
				return
			}
		}
	}()

	return reader, nil
}

// BindTools Gemini 适配器目前只用于纯文本对话。
func (m *ChatModel) BindTools(tools []*schema.ToolInfo) error {
	if len(tools) > 0 {
		return errors.New("gemini adapter does not support tool binding")
	}
	return nil
}

func (m *ChatModel) buildRequest(input []*schema.Message, opts ...model.Option) (string, []*genai.Content, *genai.GenerateContentConfig) {
	options := model.GetCommonOptions(&model.Options{
		Model:       &m.cfg.Model,
		Temperature: m.cfg.Temperature,
		TopP:        m.cfg.TopP,
		MaxTokens:   m.cfg.MaxTokens,
	}, opts...)

	system, contents := toContents(input)

	genCfg := &genai.GenerateContentConfig{
		Temperature: options.Temperature,
		TopP:        options.TopP,
	}
	if options.MaxTokens != nil {
		genCfg.MaxOutputTokens = int32(*options.MaxTokens)
	}
	if len(options.Stop) > 0 {
		genCfg.StopSequences = options.Stop
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	modelName := m.cfg.Model
	if options.Model != nil && *options.Model != "" {
		modelName = *options.Model
	}
	return modelName, contents, genCfg
}

// toContents 把 eino 消息映射为 Gemini 的 user/model 轮次，system 消息合并为系统指令。
func toContents(input []*schema.Message) (string, []*genai.Content) {
	var system []string
	contents := make([]*genai.Content, 0, len(input))

	for _, msg := range input {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case schema.System:
			system = append(system, msg.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}

	return strings.Join(system, "\n\n"), contents
}
