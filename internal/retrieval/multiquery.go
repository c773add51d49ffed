package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"synapse-go/internal/model"
	"synapse-go/pkg/llm"
	"synapse-go/pkg/log"
	"synapse-go/pkg/vectorstore"
)

const multiQueryPrompt = `You are an AI language model assistant. Your task is to generate %d different versions of the given user question to retrieve relevant documents from a vector database. By generating multiple perspectives on the user question, your goal is to help the user overcome some of the limitations of distance-based similarity search. Provide these alternative questions separated by newlines, without numbering or any other text.`

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)

// searchMultiQuery 让模型改写出多个查询，原查询与改写逐一检索后按分块 ID 去重合并。
func (g *Gateway) searchMultiQuery(ctx context.Context, collection, query string, filter vectorstore.Filter, k int) ([]vectorstore.Hit, error) {
	variants, err := g.paraphrase(ctx, query)
	if err != nil {
		return nil, err
	}
	queries := append([]string{query}, variants...)
	log.Debugf("[Gateway] multiquery 共 %d 个查询: %q", len(queries), queries)

	vectors, err := g.embedder.CreateEmbeddings(ctx, queries)
	if err != nil {
		return nil, unavailable(fmt.Errorf("查询向量化失败: %w", err))
	}
	if len(vectors) != len(queries) {
		return nil, unavailable(fmt.Errorf("查询向量数量不匹配: %d", len(vectors)))
	}

	seen := make(map[string]struct{})
	var merged []vectorstore.Hit
	for _, vector := range vectors {
		hits, err := g.query(ctx, collection, vector, filter, k)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if _, dup := seen[h.ID]; dup {
				continue
			}
			seen[h.ID] = struct{}{}
			merged = append(merged, h)
		}
	}
	return merged, nil
}

func (g *Gateway) paraphrase(ctx context.Context, query string) ([]string, error) {
	if g.llm == nil {
		return nil, fmt.Errorf("%w: multiquery 需要 LLM 客户端", model.ErrGeneration)
	}
	out, err := g.llm.Complete(ctx, llm.CompletionRequest{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(multiQueryPrompt, g.opts.MultiQueryCount)},
		{Role: llm.RoleUser, Content: query},
	}})
	if err != nil {
		return nil, fmt.Errorf("%w: 生成改写查询失败: %w", model.ErrGeneration, err)
	}
	return parseVariants(out, query, g.opts.MultiQueryCount), nil
}

// parseVariants 按行拆分模型输出，去掉编号、空行和与原查询重复的行。
func parseVariants(out, original string, limit int) []string {
	var variants []string
	seen := map[string]bool{strings.ToLower(strings.TrimSpace(original)): true}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		key := strings.ToLower(line)
		if line == "" || seen[key] {
			continue
		}
		seen[key] = true
		variants = append(variants, line)
		if len(variants) == limit {
			break
		}
	}
	return variants
}
