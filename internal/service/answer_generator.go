package service

import (
	"context"
	"fmt"
	"strings"

	"synapse-go/internal/model"
	"synapse-go/pkg/llm"
	"synapse-go/pkg/log"
)

// AnswerGenerator 基于证据生成带引用的结构化回答。
type AnswerGenerator interface {
	Answer(ctx context.Context, question string, evidence Evidence, history []model.ChatMessage) (*model.Answer, error)
}

type answerGenerator struct {
	llmClient   llm.Client
	refusalText string
	temperature float64
}

// NewAnswerGenerator 创建一个新的 AnswerGenerator 实例。
// refusalText 是证据中找不到答案时原样返回的文本。
func NewAnswerGenerator(llmClient llm.Client, refusalText string, temperature float64) AnswerGenerator {
	return &answerGenerator{
		llmClient:   llmClient,
		refusalText: refusalText,
		temperature: temperature,
	}
}

func (g *answerGenerator) Answer(ctx context.Context, question string, evidence Evidence, history []model.ChatMessage) (*model.Answer, error) {
	if evidence.Empty() {
		return g.refusal(), nil
	}

	system, err := g.systemPrompt(evidence)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrGeneration, err)
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	messages = append(messages, historyMessages(history)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})

	temperature := g.temperature
	var out model.Answer
	err = g.llmClient.CompleteJSON(ctx, llm.CompletionRequest{
		Messages:   messages,
		Generation: &llm.GenerationParams{Temperature: &temperature},
	}, llm.Schema{Name: "answer", Schema: answerSchema}, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrGeneration, err)
	}
	if strings.TrimSpace(out.Answer) == "" {
		return nil, fmt.Errorf("%w: 模型返回了空回答", model.ErrGeneration)
	}

	citations := make([]model.Citation, 0, len(out.Citations))
	for _, c := range out.Citations {
		if !evidence.Contains(c.SourceID) {
			log.Warnf("[AnswerGenerator] 丢弃不在证据中的引用, source_id: %d", c.SourceID)
			continue
		}
		citations = append(citations, c)
	}
	out.Citations = citations
	return &out, nil
}

func (g *answerGenerator) refusal() *model.Answer {
	return &model.Answer{Answer: g.refusalText, Citations: []model.Citation{}}
}

// systemPrompt 先把已转义的证据填入模板，再统一渲染，证据中的花括号在渲染后还原。
func (g *answerGenerator) systemPrompt(evidence Evidence) (string, error) {
	tmpl, err := formatTemplate(answerSystemTemplate, map[string]string{
		"refusal": escapeBraces(g.refusalText),
		"context": evidence.Text,
	})
	if err != nil {
		return "", err
	}
	return renderPrompt(tmpl, nil)
}
