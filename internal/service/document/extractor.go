// Package document turns uploaded learning material into plain text for prompts.
package document

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// MaxUploadBytes 单个文档的大小上限。
const MaxUploadBytes = 20 << 20

// Extract 按 MIME 类型提取文本；不支持的类型返回空串，不算错误。
func Extract(contentType, filename string, data []byte) (string, error) {
	switch kind := resolveType(contentType, filename); {
	case kind == "application/pdf":
		return extractPDF(data)
	case kind == "text/html" || kind == "application/xhtml+xml":
		return extractHTML(data)
	case strings.HasPrefix(kind, "text/"), kind == "application/json":
		return strings.TrimSpace(string(data)), nil
	default:
		return "", nil
	}
}

func resolveType(contentType, filename string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".html", ".htm":
		return "text/html"
	case ".md", ".markdown":
		return "text/markdown"
	case ".txt", ".csv":
		return "text/plain"
	}
	return ""
}

func extractPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return normalizeSpace(string(text)), nil
}

func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	var b strings.Builder
	collectText(doc, &b)
	return normalizeSpace(b.String()), nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.ElementNode {
		switch n.Data {
		case "script", "style", "nav", "footer", "noscript":
			return
		}
	}
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString(" ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
