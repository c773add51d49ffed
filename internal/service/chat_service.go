// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"

	"synapse-go/internal/model"
	"synapse-go/internal/repository"
	"synapse-go/internal/retrieval"
	"synapse-go/pkg/log"
	"synapse-go/pkg/vectorstore"
)

// State 是一次提问在流水线中所处的阶段。
type State string

const (
	StateValidating State = "validating"
	StateRewriting  State = "rewriting"
	StateRetrieving State = "retrieving"
	StateGenerating State = "generating"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// StateObserver 接收阶段变化，可以为 nil。
type StateObserver func(State)

// Searcher 是对向量检索的最小依赖，由 retrieval.Gateway 实现。
type Searcher interface {
	Search(ctx context.Context, req retrieval.SearchRequest) ([]vectorstore.Hit, error)
}

// ChatService 定义了聊天操作的接口。
type ChatService interface {
	// Ask 依次执行 改写 -> 检索 -> 生成，并把问题与回答写入聊天记录。
	Ask(ctx context.Context, userID, notebookID uint, req model.AskRequest, observe StateObserver) (*model.Answer, error)
	// History 返回最近 limit 条消息，limit <= 0 时使用配置的默认值。
	History(ctx context.Context, userID, notebookID uint, limit int) ([]model.ChatMessage, error)
}

type chatService struct {
	notebookRepo repository.NotebookRepository
	sourceRepo   repository.SourceRepository
	messageRepo  repository.ChatMessageRepository
	rewriter     QueryRewriter
	searcher     Searcher
	generator    AnswerGenerator
	historyLimit int
}

// NewChatService 创建一个新的 ChatService 实例。historyLimit 为 0 表示不限制历史条数。
func NewChatService(
	notebookRepo repository.NotebookRepository,
	sourceRepo repository.SourceRepository,
	messageRepo repository.ChatMessageRepository,
	rewriter QueryRewriter,
	searcher Searcher,
	generator AnswerGenerator,
	historyLimit int,
) ChatService {
	return &chatService{
		notebookRepo: notebookRepo,
		sourceRepo:   sourceRepo,
		messageRepo:  messageRepo,
		rewriter:     rewriter,
		searcher:     searcher,
		generator:    generator,
		historyLimit: historyLimit,
	}
}

func (s *chatService) Ask(ctx context.Context, userID, notebookID uint, req model.AskRequest, observe StateObserver) (answer *model.Answer, err error) {
	emit := func(st State) {
		if observe != nil {
			observe(st)
		}
	}
	defer func() {
		if err != nil {
			log.Warnf("[ChatService] 提问失败, notebook: %d, error: %v", notebookID, err)
			emit(StateFailed)
		}
	}()

	emit(StateValidating)
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	notebook, err := s.notebookRepo.FindOwned(ctx, notebookID, userID)
	if err != nil {
		return nil, err
	}

	history, err := s.recordQuestion(ctx, notebook.ID, req.Question)
	if err != nil {
		return nil, err
	}

	// 以下任一步失败时，问题已经保存，但不会有回答
	emit(StateRewriting)
	query, err := s.rewriter.Rewrite(ctx, req.Question, history)
	if err != nil {
		return nil, err
	}

	emit(StateRetrieving)
	hits, err := s.retrieve(ctx, notebook.ID, query, req)
	if err != nil {
		return nil, err
	}
	evidence := FormatEvidence(hits)
	log.Infof("[ChatService] 检索完成, notebook: %d, mode: %s, hits: %d, sources: %v", notebook.ID, req.Mode, len(hits), evidence.SourceIDs)

	emit(StateGenerating)
	answer, err = s.generator.Answer(ctx, req.Question, evidence, history)
	if err != nil {
		return nil, err
	}

	emit(StatePersisting)
	if err := s.messageRepo.Append(ctx, &model.ChatMessage{
		NotebookID: notebook.ID,
		Role:       model.RoleAI,
		Content:    answer.Answer,
	}); err != nil {
		return nil, fmt.Errorf("保存回答失败: %w", err)
	}

	emit(StateDone)
	return answer, nil
}

// recordQuestion 读取之前的聊天记录并保存本次问题，返回不包含本次问题的历史。
// 如果最后一条消息是内容相同且尚未回答的问题（重试），复用它而不是再追加一条。
func (s *chatService) recordQuestion(ctx context.Context, notebookID uint, question string) ([]model.ChatMessage, error) {
	history, err := s.messageRepo.Recent(ctx, notebookID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("读取聊天记录失败: %w", err)
	}
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Role == model.RoleHuman && last.Content == question {
			log.Infof("[ChatService] 复用未回答的问题, message: %d", last.ID)
			return history[:n-1], nil
		}
	}

	if err := s.messageRepo.Append(ctx, &model.ChatMessage{
		NotebookID: notebookID,
		Role:       model.RoleHuman,
		Content:    question,
	}); err != nil {
		return nil, fmt.Errorf("保存问题失败: %w", err)
	}
	return history, nil
}

// retrieve 只在已完成入库的来源中检索；请求指定了来源时取交集，没有可检索的来源时返回空结果。
func (s *chatService) retrieve(ctx context.Context, notebookID uint, query string, req model.AskRequest) ([]vectorstore.Hit, error) {
	ready, err := s.sourceRepo.ReadyIDs(ctx, notebookID)
	if err != nil {
		return nil, fmt.Errorf("读取来源失败: %w", err)
	}
	scope := ready
	if len(req.SourceIDs) > 0 {
		scope = intersect(req.SourceIDs, ready)
	}
	if len(scope) == 0 {
		log.Infof("[ChatService] 笔记本 %d 没有可检索的来源", notebookID)
		return nil, nil
	}
	return s.searcher.Search(ctx, retrieval.SearchRequest{
		NotebookID: notebookID,
		Query:      query,
		Mode:       retrieval.ParseMode(req.Mode),
		SourceIDs:  scope,
	})
}

func (s *chatService) History(ctx context.Context, userID, notebookID uint, limit int) ([]model.ChatMessage, error) {
	if _, err := s.notebookRepo.FindOwned(ctx, notebookID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	return s.messageRepo.Recent(ctx, notebookID, limit)
}

func intersect(requested, allowed []uint) []uint {
	ok := make(map[uint]bool, len(allowed))
	for _, id := range allowed {
		ok[id] = true
	}
	var out []uint
	seen := make(map[uint]bool)
	for _, id := range requested {
		if ok[id] && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
