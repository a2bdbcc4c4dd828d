package tika

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-sc/lab-assistant/internal/config"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	return NewClient(config.TikaConfig{ServerURL: srv.URL}), srv
}

func TestExtractPagesWithPageDivs(t *testing.T) {
	xhtml := `<html xmlns="http://www.w3.org/1999/xhtml"><head><title>paper.pdf</title></head>` +
		`<body><div class="page"><p>第一页内容。</p></div><div class="page"><p>第二页内容。</p></div></body></html>`

	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/tika", r.URL.Path)
		assert.Equal(t, "text/html", r.Header.Get("Accept"))
		fmt.Fprint(w, xhtml)
	})
	defer srv.Close()

	extraction, err := client.ExtractPages(context.Background(), strings.NewReader("%PDF-fake"), "paper.pdf")
	require.NoError(t, err)

	assert.Contains(t, extraction.Text, "第一页内容。")
	assert.Contains(t, extraction.Text, "第二页内容。")
	require.Len(t, extraction.PageBreaks, 2)
	assert.Equal(t, 1, extraction.PageBreaks[0].Page)
	assert.Equal(t, 0, extraction.PageBreaks[0].Offset)
	assert.Equal(t, 2, extraction.PageBreaks[1].Page)

	// 第二页断点之后的偏移应当映射到第 2 页
	assert.Equal(t, 1, extraction.PageForOffset(0))
	assert.Equal(t, 2, extraction.PageForOffset(extraction.PageBreaks[1].Offset))
}

func TestExtractPagesWithoutPageDivs(t *testing.T) {
	xhtml := `<html xmlns="http://www.w3.org/1999/xhtml"><body><p>纯文本文件没有分页。</p></body></html>`

	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, xhtml)
	})
	defer srv.Close()

	extraction, err := client.ExtractPages(context.Background(), strings.NewReader("hello"), "notes.txt")
	require.NoError(t, err)

	// 无分页信息的格式整体视作第 1 页
	require.Len(t, extraction.PageBreaks, 1)
	assert.Equal(t, PageBreak{Offset: 0, Page: 1}, extraction.PageBreaks[0])
	assert.Equal(t, 1, extraction.PageForOffset(9999))
}

func TestExtractPagesBlockElementsSeparated(t *testing.T) {
	xhtml := `<html><body><p>第一段</p><p>第二段</p></body></html>`

	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, xhtml)
	})
	defer srv.Close()

	extraction, err := client.ExtractPages(context.Background(), strings.NewReader("x"), "a.txt")
	require.NoError(t, err)
	// 相邻段落之间必须有换行，避免文字粘连
	assert.Contains(t, extraction.Text, "第一段\n")
	assert.NotContains(t, extraction.Text, "第一段第二段")
}

func TestExtractPagesServerError(t *testing.T) {
	client, srv := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
	})
	defer srv.Close()

	_, err := client.ExtractPages(context.Background(), strings.NewReader("x"), "a.xyz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "415")
}

func TestNewClientAppliesConfiguredTimeout(t *testing.T) {
	client := NewClient(config.TikaConfig{ServerURL: "http://127.0.0.1:9998", TimeoutSec: 30})
	// Tika 服务器挂起时请求必须能超时返回，不能无限阻塞消费链路
	assert.Equal(t, 30*time.Second, client.client.Timeout)
}

func TestPageForOffsetBetweenBreaks(t *testing.T) {
	e := &Extraction{PageBreaks: []PageBreak{{Offset: 0, Page: 1}, {Offset: 100, Page: 2}, {Offset: 250, Page: 3}}}
	assert.Equal(t, 1, e.PageForOffset(50))
	assert.Equal(t, 2, e.PageForOffset(100))
	assert.Equal(t, 2, e.PageForOffset(249))
	assert.Equal(t, 3, e.PageForOffset(300))
}
