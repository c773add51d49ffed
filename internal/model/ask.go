package model

import (
	"fmt"
	"strings"
)

// DefaultAskMode 是未指定检索模式时使用的模式。
const DefaultAskMode = "mmr"

// AskRequest 是提问接口的请求体。
type AskRequest struct {
	Question  string `json:"question"`
	SourceIDs []uint `json:"source_ids"`
	Mode      string `json:"mode"`
}

// Normalize 去掉问题首尾空白并补全默认模式，问题为空时返回 ErrInvalidRequest。
func (r *AskRequest) Normalize() error {
	r.Question = strings.TrimSpace(r.Question)
	if r.Question == "" {
		return fmt.Errorf("%w: question must not be empty", ErrInvalidRequest)
	}
	r.Mode = strings.TrimSpace(r.Mode)
	if r.Mode == "" {
		r.Mode = DefaultAskMode
	}
	return nil
}

// SearchHit 是检索预览接口返回的一条结果。
type SearchHit struct {
	ChunkID  string  `json:"chunkId"`
	SourceID uint    `json:"sourceId"`
	Page     *int    `json:"page,omitempty"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}
