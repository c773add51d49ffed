package service

import (
	"context"
	"fmt"
	"strings"

	"synapse-go/internal/model"
	"synapse-go/pkg/llm"
	"synapse-go/pkg/log"
)

// QueryRewriter 把依赖上下文的追问改写为独立的检索查询。
type QueryRewriter interface {
	Rewrite(ctx context.Context, question string, history []model.ChatMessage) (string, error)
}

type queryRewriter struct {
	llmClient llm.Client
}

// NewQueryRewriter 创建一个新的 QueryRewriter 实例。
func NewQueryRewriter(llmClient llm.Client) QueryRewriter {
	return &queryRewriter{llmClient: llmClient}
}

// Rewrite 没有历史时直接返回原问题，不调用模型。
func (r *queryRewriter) Rewrite(ctx context.Context, question string, history []model.ChatMessage) (string, error) {
	if len(history) == 0 {
		return question, nil
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: rephraseSystemInstruction})
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	var out model.Answer
	err := r.llmClient.CompleteJSON(ctx, llm.CompletionRequest{Messages: messages},
		llm.Schema{Name: "standalone_query", Schema: answerSchema}, &out)
	if err != nil {
		return "", fmt.Errorf("%w: 改写问题失败: %w", model.ErrGeneration, err)
	}

	rewritten := strings.TrimSpace(out.Answer)
	if rewritten == "" {
		log.Warnf("[QueryRewriter] 模型返回了空查询，使用原问题: %q", question)
		return question, nil
	}
	log.Debugf("[QueryRewriter] %q -> %q", question, rewritten)
	return rewritten, nil
}

// historyMessages 把聊天记录转换为模型消息：human -> user，ai -> assistant。
func historyMessages(history []model.ChatMessage) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == model.RoleAI {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: m.Content})
	}
	return out
}
