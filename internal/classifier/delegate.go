package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type Response struct {
	Response string `json:"response"`
}

// Delegate is the remote language model. Callers treat Response either as
// free text or as JSON that may fail to parse.
type Delegate interface {
	Run(ctx context.Context, model string, req Request) (Response, error)
}

type OpenAIDelegate struct {
	client  *openai.Client
	timeout time.Duration
	logger  *zap.Logger
}

func NewOpenAIDelegate(client *openai.Client, timeout time.Duration, logger *zap.Logger) *OpenAIDelegate {
	return &OpenAIDelegate{
		client:  client,
		timeout: timeout,
		logger:  logger,
	}
}

func (d *OpenAIDelegate) Run(ctx context.Context, model string, req Request) (Response, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	started := time.Now()
	resp, err := d.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       model,
			Messages:    messages,
			MaxTokens:   req.MaxTokens,
			Temperature: float32(req.Temperature),
		},
	)
	if err != nil {
		return Response{}, fmt.Errorf("chat completion failed: %w", err)
	}

	d.logger.Debug("Chat completion finished",
		zap.String("model", model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(started)))

	if len(resp.Choices) == 0 {
		return Response{}, nil
	}
	return Response{Response: strings.TrimSpace(resp.Choices[0].Message.Content)}, nil
}

// ExtractJSON pulls the outermost JSON object out of a model reply, which may
// be wrapped in prose or a fenced code block.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
