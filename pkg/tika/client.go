// Package tika 提供了一个与 Apache Tika 服务器交互的客户端。
package tika

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/darshan-sc/lab-assistant/internal/config"
)

// Client 是 Tika 服务器的客户端。
type Client struct {
	serverURL string
	client    *http.Client
}

// NewClient 创建一个新的 Tika 客户端实例。
// 超时由配置控制，Tika 服务器挂起时不会拖死消费链路。
func NewClient(cfg config.TikaConfig) *Client {
	return &Client{
		serverURL: cfg.ServerURL,
		client:    &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// PageBreak 记录某一页在全文中的起始 rune 偏移。
type PageBreak struct {
	Offset int `json:"offset"`
	Page   int `json:"page"` // 页码从 1 开始
}

// Extraction 是一次文本抽取的结果：纯文本全文与按页的偏移断点。
type Extraction struct {
	Text       string      `json:"text"`
	PageBreaks []PageBreak `json:"pageBreaks"`
}

// PageForOffset 返回给定 rune 偏移所在的页码（尽力而为，找不到时返回 0）。
func (e *Extraction) PageForOffset(offset int) int {
	page := 0
	for _, pb := range e.PageBreaks {
		if pb.Offset > offset {
			break
		}
		page = pb.Page
	}
	return page
}

// ExtractPages 调用 Tika 提取 XHTML 并解析出纯文本与页偏移映射。
// PDF 等分页格式在 Tika 的 XHTML 输出中以 <div class="page"> 划分页面；
// 无分页信息的格式整体视作第 1 页。
func (c *Client) ExtractPages(ctx context.Context, fileReader io.Reader, fileName string) (*Extraction, error) {
	contentType := detectMimeType(fileName)

	req, err := http.NewRequestWithContext(ctx, "PUT", c.serverURL+"/tika", fileReader)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	req.Header.Set("Accept", "text/html")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 Tika 失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Tika 返回错误 [%d]: %s", resp.StatusCode, string(body))
	}

	return parseXHTML(resp.Body)
}

// parseXHTML 遍历 Tika 的 XHTML 输出，拼接正文并在页分隔处记录断点。
func parseXHTML(r io.Reader) (*Extraction, error) {
	decoder := xml.NewDecoder(r)
	decoder.Strict = false
	decoder.AutoClose = xml.HTMLAutoClose
	decoder.Entity = xml.HTMLEntity

	var text strings.Builder
	runeCount := 0
	var breaks []PageBreak
	inBody := false

	appendText := func(s string) {
		text.WriteString(s)
		runeCount += utf8.RuneCountInString(s)
	}

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("解析 Tika XHTML 输出失败: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "body":
				inBody = true
			case "div":
				for _, attr := range t.Attr {
					if attr.Name.Local == "class" && attr.Value == "page" {
						// 页与页之间以单个换行连接（与偏移计数保持一致）
						if len(breaks) > 0 {
							appendText("\n")
						}
						breaks = append(breaks, PageBreak{Offset: runeCount, Page: len(breaks) + 1})
					}
				}
			}
		case xml.EndElement:
			// 块级元素结束时补一个换行，避免相邻段落文字粘连
			if inBody && isBlockElement(t.Name.Local) {
				appendText("\n")
			}
			if t.Name.Local == "body" {
				inBody = false
			}
		case xml.CharData:
			if inBody {
				appendText(string(t))
			}
		}
	}

	if len(breaks) == 0 {
		breaks = []PageBreak{{Offset: 0, Page: 1}}
	}

	return &Extraction{Text: text.String(), PageBreaks: breaks}, nil
}

// isBlockElement 判断 XHTML 元素是否为需要换行分隔的块级元素。
func isBlockElement(name string) bool {
	switch name {
	case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li", "tr", "table", "pre", "blockquote":
		return true
	}
	return false
}

// detectMimeType 根据文件扩展名判断 Content-Type
func detectMimeType(fileName string) string {
	ext := filepath.Ext(fileName)
	if ext == "" {
		return "application/octet-stream"
	}
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		// fallback 默认
		return "application/octet-stream"
	}
	return mimeType
}
