package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"synapse-go/internal/model"
	"synapse-go/internal/retrieval"
	"synapse-go/pkg/log"
	"synapse-go/pkg/vectorstore"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100

	pageSeparator = "\n\n"
)

// 优先按段落切分，其次按行、句子、单词，最后按字符硬切。
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Page 是文档中的一页，Number 从 0 开始。
type Page struct {
	Number int
	Text   string
}

// Segmenter 把文档页面切分为带来源信息的分块。长度按 rune 计算。
type Segmenter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// SegmenterOption configures a Segmenter.
type SegmenterOption func(*Segmenter)

// WithChunkSize sets the maximum chunk size in characters.
func WithChunkSize(size int) SegmenterOption {
	return func(s *Segmenter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithChunkOverlap sets the overlap between consecutive chunks.
func WithChunkOverlap(overlap int) SegmenterOption {
	return func(s *Segmenter) {
		if overlap >= 0 {
			s.chunkOverlap = overlap
		}
	}
}

// NewSegmenter creates a Segmenter with 1000/100 defaults.
func NewSegmenter(opts ...SegmenterOption) *Segmenter {
	s := &Segmenter{
		chunkSize:    DefaultChunkSize,
		chunkOverlap: DefaultChunkOverlap,
		separators:   defaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkOverlap >= s.chunkSize {
		s.chunkOverlap = s.chunkSize / 10
	}
	return s
}

// ChunkID 返回分块的确定性 ID，作为向量库 upsert 的主键。
func ChunkID(sourceID uint, index int) string {
	return fmt.Sprintf("source_%d_chunk_%d", sourceID, index)
}

// Segment 拼接所有非空页面后递归切分。每个分块记录其起始位置所在的页码。
// 没有任何页面包含文本时返回 model.ErrUnreadableDocument。
func (s *Segmenter) Segment(pages []Page, notebookID, sourceID uint) ([]retrieval.Chunk, error) {
	var sb strings.Builder
	var starts []int
	var numbers []int
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(pageSeparator)
		}
		starts = append(starts, sb.Len())
		numbers = append(numbers, p.Number)
		sb.WriteString(p.Text)
	}
	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: 文档中没有可提取的文本", model.ErrUnreadableDocument)
	}

	full := sb.String()
	pieces := s.split(full, s.separators)

	chunks := make([]retrieval.Chunk, 0, len(pieces))
	cursor := 0
	for i, text := range pieces {
		page := numbers[0]
		if idx := strings.Index(full[cursor:], text); idx >= 0 {
			offset := cursor + idx
			page = pageAt(starts, numbers, offset)
			cursor = offset + 1
		} else if len(chunks) > 0 {
			page = chunks[len(chunks)-1].Metadata.Page
		}
		chunks = append(chunks, retrieval.Chunk{
			ID:   ChunkID(sourceID, i),
			Text: text,
			Metadata: vectorstore.Metadata{
				NotebookID: notebookID,
				SourceID:   sourceID,
				ChunkIndex: i,
				Page:       page,
			},
		})
	}
	return chunks, nil
}

func pageAt(starts, numbers []int, offset int) int {
	page := numbers[0]
	for i, start := range starts {
		if start > offset {
			break
		}
		page = numbers[i]
	}
	return page
}

// split 递归切分：用第一个出现在文本中的分隔符切开，过长的片段交给下一级分隔符。
func (s *Segmenter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeepSeparator(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge 把小片段合并为不超过 chunkSize 的分块，相邻分块保留约 chunkOverlap 的重叠。
func (s *Segmenter) merge(pieces []string) []string {
	var docs []string
	var current []string
	total := 0
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.chunkSize {
			if total > s.chunkSize {
				log.Warnf("[Segmenter] 生成了长度为 %d 的分块，超过上限 %d", total, s.chunkSize)
			}
			if len(current) > 0 {
				if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
					docs = append(docs, doc)
				}
				for total > s.chunkOverlap || (total+n > s.chunkSize && total > 0) {
					total -= runeLen(current[0])
					current = current[1:]
				}
			}
		}
		current = append(current, piece)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepSeparator 按分隔符切开，分隔符保留在后一段的开头，拼接后等于原文。
func splitKeepSeparator(text, separator string) []string {
	if separator == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}
	parts := strings.Split(text, separator)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, separator+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
