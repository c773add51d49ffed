package handler

import (
	"strconv"
	"strings"

	"synapse-go/internal/service"
	"synapse-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// SearchHandler 提供检索预览接口。
type SearchHandler struct {
	searchService service.SearchService
}

// NewSearchHandler 创建一个新的 SearchHandler 实例。
func NewSearchHandler(searchService service.SearchService) *SearchHandler {
	return &SearchHandler{searchService: searchService}
}

// Search 处理 GET /notebooks/:id/search?q=&mode=&source_ids=1,2&k=
func (h *SearchHandler) Search(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	notebookID, valid := pathID(c, "id")
	if !valid {
		return
	}
	sourceIDs, err := parseIDList(c.Query("source_ids"))
	if err != nil {
		badRequest(c, "invalid source_ids")
		return
	}
	k := 0
	if raw := c.Query("k"); raw != "" {
		if k, err = strconv.Atoi(raw); err != nil {
			badRequest(c, "invalid k")
			return
		}
	}

	q := service.SearchQuery{Query: c.Query("q"), Mode: c.Query("mode"), SourceIDs: sourceIDs, K: k}
	results, err := h.searchService.Preview(c.Request.Context(), userID, notebookID, q)
	if err != nil {
		writeError(c, err)
		return
	}
	log.Infof("[SearchHandler] 检索预览成功, notebook: %d, 返回 %d 条结果", notebookID, len(results))
	ok(c, "success", results)
}

// parseIDList 解析逗号分隔的 ID 列表，空串返回 nil。
func parseIDList(raw string) ([]uint, error) {
	var ids []uint
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}
