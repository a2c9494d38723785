package polish

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"voicenote-ingest-go/internal/platform/logging"
)

// DefaultPrompt 默认润色提示词
const DefaultPrompt = "You are an editor. Clean up the following speech-to-text transcript: fix punctuation, " +
	"remove filler words and obvious recognition errors, keep the original language and meaning. " +
	"Reply with the cleaned transcript only."

// ErrEmptyResponse 模型没有返回内容
var ErrEmptyResponse = errors.New("polish: empty completion")

// Polisher 对转写文本做后处理
type Polisher interface {
	Polish(ctx context.Context, text string) (string, error)
}

// Config OpenAI 兼容接口配置
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Prompt  string
	Timeout time.Duration
}

// OpenAI 通过 chat completions 润色文本
type OpenAI struct {
	client *openai.Client
	model  string
	prompt string
	logger *logging.Logger
}

// New 创建润色器
func New(cfg Config, logger *logging.Logger) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("polish: api_key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("polish: model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	prompt := cfg.Prompt
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
		prompt: prompt,
		logger: logging.OrDefault(logger),
	}, nil
}

// Polish 返回润色后的文本；空文本原样返回
func (p *OpenAI) Polish(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.prompt},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("polish: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyResponse
	}
	p.logger.DebugTag("润色", "润色完成，%d -> %d 字符，消耗 %d tokens",
		len([]rune(text)), len([]rune(out)), resp.Usage.TotalTokens)
	return out, nil
}

// Func 将普通函数适配为 Polisher
type Func func(ctx context.Context, text string) (string, error)

func (f Func) Polish(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}
