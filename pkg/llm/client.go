// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"docqa-go/internal/config"
	"docqa-go/pkg/log"
)

// Client defines the interface for an LLM client.
type Client interface {
	// Generate 以 role-based 消息与可选生成参数调用聊天接口，返回完整回答。
	Generate(ctx context.Context, messages []Message, gen *GenerationParams) (string, error)
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client openai.Client
}

// NewClient creates a chat completion client for any OpenAI-compatible endpoint.
func NewClient(cfg config.LLMConfig, opts ...option.RequestOption) Client {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)
	return &openAICompatibleClient{cfg: cfg, client: openai.NewClient(reqOpts...)}
}

// ParamsFromConfig 从配置构建生成参数，零值字段保持为空。
func ParamsFromConfig(g config.LLMGenerationConfig) *GenerationParams {
	p := &GenerationParams{}
	if g.Temperature != 0 {
		t := g.Temperature
		p.Temperature = &t
	}
	if g.TopP != 0 {
		v := g.TopP
		p.TopP = &v
	}
	if g.MaxTokens != 0 {
		m := g.MaxTokens
		p.MaxTokens = &m
	}
	return p
}

func (c *openAICompatibleClient) Generate(ctx context.Context, messages []Message, gen *GenerationParams) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.cfg.Model),
		Messages: toParams(messages),
	}
	// 传参优先，否则使用全局配置
	if gen == nil {
		gen = ParamsFromConfig(c.cfg.Generation)
	}
	if gen.Temperature != nil {
		params.Temperature = openai.Float(*gen.Temperature)
	}
	if gen.TopP != nil {
		params.TopP = openai.Float(*gen.TopP)
	}
	if gen.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*gen.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		log.Errorf("[LLMClient] 调用 chat api 失败: %v", err)
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}
	log.Debugf("[LLMClient] 生成完成, model: %s, tokens: %d", completion.Model, completion.Usage.TotalTokens)
	return completion.Choices[0].Message.Content, nil
}

func toParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
