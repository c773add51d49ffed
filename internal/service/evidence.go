package service

import (
	"fmt"
	"strconv"
	"strings"

	"synapse-go/pkg/vectorstore"
)

// Evidence 是渲染好的证据块以及其中出现过的来源 ID。
// Text 中的花括号已经转义，只能通过提示词模板渲染后使用。
type Evidence struct {
	Text      string
	SourceIDs []uint
}

// Empty 表示没有检索到任何证据。
func (e Evidence) Empty() bool {
	return strings.TrimSpace(e.Text) == ""
}

// Contains 判断来源 ID 是否出现在证据中。
func (e Evidence) Contains(sourceID uint) bool {
	for _, id := range e.SourceIDs {
		if id == sourceID {
			return true
		}
	}
	return false
}

var newlineReplacer = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// FormatEvidence 按输入顺序把检索结果渲染为
// "[Source ID: X, Page: N] | Content: ..." 条目，条目之间空一行。页码对外从 1 开始。
func FormatEvidence(hits []vectorstore.Hit) Evidence {
	var ev Evidence
	entries := make([]string, 0, len(hits))
	seen := make(map[uint]bool)
	for _, h := range hits {
		sourceLabel := "N/A"
		if sid := h.Metadata.SourceID; sid != 0 {
			sourceLabel = strconv.FormatUint(uint64(sid), 10)
			if !seen[sid] {
				seen[sid] = true
				ev.SourceIDs = append(ev.SourceIDs, sid)
			}
		}
		pageLabel := "?"
		if h.Metadata.Page >= 0 {
			pageLabel = strconv.Itoa(h.Metadata.Page + 1)
		}
		content := strings.TrimSpace(newlineReplacer.Replace(h.Text))
		entries = append(entries, fmt.Sprintf("[Source ID: %s, Page: %s] | Content: %s", sourceLabel, pageLabel, content))
	}
	ev.Text = escapeBraces(strings.Join(entries, "\n\n"))
	return ev
}

var braceEscaper = strings.NewReplacer("{", "{{", "}", "}}")

func escapeBraces(s string) string {
	return braceEscaper.Replace(s)
}

// formatTemplate 展开 {name} 占位符，{{ 和 }} 原样保留，供后续 renderPrompt 处理。
func formatTemplate(tmpl string, vars map[string]string) (string, error) {
	return expand(tmpl, vars, false)
}

// renderPrompt 展开 {name} 占位符并把 {{ 和 }} 还原为单个花括号。
// 替换进去的值不会被再次解析。
func renderPrompt(tmpl string, vars map[string]string) (string, error) {
	return expand(tmpl, vars, true)
}

func expand(tmpl string, vars map[string]string, collapse bool) (string, error) {
	var sb strings.Builder
	sb.Grow(len(tmpl))
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				if collapse {
					sb.WriteByte('{')
				} else {
					sb.WriteString("{{")
				}
				i++
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("prompt template: unclosed '{' at offset %d", i)
			}
			name := tmpl[i+1 : i+1+end]
			value, ok := vars[name]
			if !ok {
				return "", fmt.Errorf("prompt template: missing variable %q", name)
			}
			sb.WriteString(value)
			i += end + 1
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				if collapse {
					sb.WriteByte('}')
				} else {
					sb.WriteString("}}")
				}
				i++
				continue
			}
			return "", fmt.Errorf("prompt template: single '}' at offset %d", i)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}
