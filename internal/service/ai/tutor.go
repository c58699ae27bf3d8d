package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/sethvargo/go-retry"

	"github.com/zhouzirui/citta/backend/internal/model/tutoring"
)

// ErrModelUnavailable 表示模型未配置或调用失败。
var ErrModelUnavailable = errors.New("generative model unavailable")

const (
	titleMaxRunes = 60
	retryBackoff  = 500 * time.Millisecond
)

const titleSystemPrompt = `Summarize the learner's request into a short, descriptive session title of at most six words. Reply with the title only, without quotes or punctuation at the end.`

// Config 控制模型调用的超时与重试。
type Config struct {
	Timeout time.Duration
	Retry   bool
}

// DecideRequest is the input of one scripted tutoring turn.
type DecideRequest struct {
	Input        string
	Mode         tutoring.Mode
	History      string
	DocumentText string
}

// Service 负责脚本模式下的决策：拼装提示词、调用模型并返回原始文本。
type Service struct {
	composer *Composer
	cfg      Config
	chain    compose.Runnable[map[string]any, *schema.Message]
	titles   compose.Runnable[map[string]any, *schema.Message]
}

// NewService creates a new scripted decision service.
func NewService(ctx context.Context, chatModel model.BaseChatModel, modes tutoring.ModeStore, cfg Config) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required: %w", ErrModelUnavailable)
	}

	tutorTemplate := prompt.FromMessages(
		schema.FString,
		schema.UserMessage("{instruction}"),
	)
	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tutorTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile tutor chain: %w", err)
	}

	titleTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage("{prompt}"),
	)
	titleChain := compose.NewChain[map[string]any, *schema.Message]()
	titleChain.AppendChatTemplate(titleTemplate)
	titleChain.AppendChatModel(chatModel)

	titles, err := titleChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}

	return &Service{
		composer: NewComposer(modes),
		cfg:      cfg,
		chain:    runnable,
		titles:   titles,
	}, nil
}

// Composer 返回服务使用的提示词拼装器。
func (s *Service) Composer() *Composer {
	return s.composer
}

// Decide composes the instruction for the turn and returns the model's raw text.
// One logical invocation: a failed attempt is retried once when retries are enabled.
func (s *Service) Decide(ctx context.Context, req DecideRequest) (string, error) {
	instruction := s.composer.Compose(req.Input, req.Mode, req.History, req.DocumentText)

	msg, err := s.invoke(ctx, s.chain, map[string]any{"instruction": instruction})
	if err != nil {
		return "", fmt.Errorf("failed to run tutor chain: %w", err)
	}

	log.Printf("[ai] decided turn mode=%s length=%d", req.Mode, len(msg.Content))
	return msg.Content, nil
}

// SummarizeTitle 为新会话生成标题，失败时退回到提示词的前 60 个字符。
func (s *Service) SummarizeTitle(ctx context.Context, promptText string) string {
	fallback := FallbackTitle(promptText)
	if s == nil || s.titles == nil {
		return fallback
	}

	msg, err := s.invoke(ctx, s.titles, map[string]any{"prompt": promptText})
	if err != nil {
		log.Printf("[ai] title summary failed, use fallback: %v", err)
		return fallback
	}

	title := strings.Trim(strings.TrimSpace(msg.Content), `"'`)
	if title == "" {
		return fallback
	}
	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = string([]rune(title)[:titleMaxRunes])
	}
	return title
}

// FallbackTitle 截取提示词作为标题。
func FallbackTitle(promptText string) string {
	title := strings.Join(strings.Fields(promptText), " ")
	if title == "" {
		return "New session"
	}
	if utf8.RuneCountInString(title) > titleMaxRunes {
		return string([]rune(title)[:titleMaxRunes])
	}
	return title
}

func (s *Service) invoke(ctx context.Context, runnable compose.Runnable[map[string]any, *schema.Message], input map[string]any) (*schema.Message, error) {
	attempt := func(ctx context.Context) (*schema.Message, error) {
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}
		msg, err := runnable.Invoke(ctx, input)
		if err != nil {
			return nil, err
		}
		if msg == nil {
			return nil, errors.New("model returned no message")
		}
		return msg, nil
	}

	if !s.cfg.Retry {
		return attempt(ctx)
	}

	var result *schema.Message
	backoff := retry.WithMaxRetries(1, retry.NewConstant(retryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		msg, err := attempt(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			log.Printf("[ai] model invocation attempt failed: %v", err)
			return retry.RetryableError(err)
		}
		result = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
