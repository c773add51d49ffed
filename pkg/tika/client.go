// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"synapse-go/internal/config"
	"synapse-go/internal/model"

	"golang.org/x/net/html"
)

// Page 是从文档中提取出的一页文本，Number 从 0 开始。
type Page struct {
	Number int
	Text   string
}

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL string
	http      *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		http:      &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}
}

// ExtractPages 调用 Tika 的 XHTML 输出并按 <div class="page"> 切分页面。
// 文档无法解析或没有任何可读文本时返回 model.ErrUnreadableDocument。
func (c *Client) ExtractPages(ctx context.Context, fileReader io.Reader, fileName string) ([]Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.serverURL+"/tika", fileReader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Accept", "text/html")
	req.Header.Set("Content-Type", detectMimeType(fileName))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	// Tika 对加密或损坏的文件返回 422
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, fmt.Errorf("%w: %s", model.ErrUnreadableDocument, fileName)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	pages, err := ParseXHTML(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("解析 Tika 响应失败: %w", err)
	}
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return pages, nil
		}
	}
	return nil, fmt.Errorf("%w: %s 中没有可提取的文本", model.ErrUnreadableDocument, fileName)
}

// ParseXHTML 从 Tika 的 XHTML 中提取每页文本。
// 没有分页标记的文档整体作为第 0 页。
func ParseXHTML(r io.Reader) ([]Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var pages []Page
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "div" && hasClass(n, "page") {
			var sb strings.Builder
			collectText(n, &sb)
			pages = append(pages, Page{Number: len(pages), Text: normalize(sb.String())})
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)

	if len(pages) > 0 {
		return pages, nil
	}
	body := findElement(doc, "body")
	if body == nil {
		return nil, nil
	}
	var sb strings.Builder
	collectText(body, &sb)
	return []Page{{Number: 0, Text: normalize(sb.String())}}, nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
}

func collectText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "head" {
			return
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collectText(child, sb)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		sb.WriteString("\n")
	}
}

// normalize 去掉行尾空白并折叠多余空行，保留换行结构供分段使用。
func normalize(s string) string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			blank++
			if blank > 1 {
				continue
			}
			line = ""
		} else {
			blank = 0
		}
		out = append(out, line)
	}
	return strings.Trim(strings.Join(out, "\n"), "\n")
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findElement(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
