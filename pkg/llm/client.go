// Package llm provides a client for interacting with Large Language Models.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"synapse-go/internal/config"
	"synapse-go/pkg/log"
)

// 角色常量，对应 OpenAI 兼容接口的 role 字段。
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrEmptyCompletion 模型没有返回任何内容。
var ErrEmptyCompletion = errors.New("llm returned empty completion")

// Client defines the interface for an LLM client.
type Client interface {
	// Complete 以 role-based 消息调用聊天接口并返回完整文本。
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	// CompleteJSON 要求模型按给定 schema 输出 JSON，并解析到 out。
	CompleteJSON(ctx context.Context, req CompletionRequest, schema Schema, out any) error
}

type openAICompatibleClient struct {
	cfg    config.LLMConfig
	client *http.Client
}

// NewClient creates a new LLM client based on the provider in the config.
func NewClient(cfg config.LLMConfig) Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return &openAICompatibleClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Message 表示一条角色消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationParams 控制生成行为，nil 字段使用配置中的值。
type GenerationParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// CompletionRequest 是一次非流式调用的输入。
type CompletionRequest struct {
	Messages   []Message
	Generation *GenerationParams
}

// Schema 描述严格 JSON 输出的结构。
type Schema struct {
	Name   string
	Schema json.RawMessage
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Stream         bool            `json:"stream"`
	Temperature    *float64        `json:"temperature,omitempty"`
	TopP           *float64        `json:"top_p,omitempty"`
	MaxTokens      *int            `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *openAICompatibleClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return c.do(ctx, c.buildRequest(req, nil))
}

func (c *openAICompatibleClient) CompleteJSON(ctx context.Context, req CompletionRequest, schema Schema, out any) error {
	body := c.buildRequest(req, &responseFormat{
		Type: "json_schema",
		JSONSchema: &jsonSchema{
			Name:   schema.Name,
			Strict: true,
			Schema: schema.Schema,
		},
	})
	content, err := c.do(ctx, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), out); err != nil {
		log.Warnf("[LLMClient] 结构化输出解析失败, schema: %s, content: %.200s", schema.Name, content)
		return fmt.Errorf("failed to decode structured output: %w", err)
	}
	return nil
}

func (c *openAICompatibleClient) buildRequest(req CompletionRequest, format *responseFormat) chatRequest {
	body := chatRequest{
		Model:          c.cfg.Model,
		Messages:       req.Messages,
		ResponseFormat: format,
	}
	// 从全局配置注入（若非零值），传参优先生效
	if c.cfg.Generation.Temperature != 0 {
		t := c.cfg.Generation.Temperature
		body.Temperature = &t
	}
	if c.cfg.Generation.TopP != 0 {
		p := c.cfg.Generation.TopP
		body.TopP = &p
	}
	if c.cfg.Generation.MaxTokens != 0 {
		m := c.cfg.Generation.MaxTokens
		body.MaxTokens = &m
	}
	if gen := req.Generation; gen != nil {
		if gen.Temperature != nil {
			body.Temperature = gen.Temperature
		}
		if gen.TopP != nil {
			body.TopP = gen.TopP
		}
		if gen.MaxTokens != nil {
			body.MaxTokens = gen.MaxTokens
		}
	}
	return body
}

func (c *openAICompatibleClient) do(ctx context.Context, body chatRequest) (string, error) {
	reqBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat api returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	log.Debugf("[LLMClient] 调用完成, model: %s, 耗时: %s", c.cfg.Model, time.Since(start))

	if len(parsed.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	choice := parsed.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return choice.Message.Content, nil
}

// 部分兼容接口会把 JSON 包在 ```json 代码块里
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
