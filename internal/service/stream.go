package service

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/darshan-sc/lab-assistant/internal/model"
)

// wsWriterInterceptor 是对 websocket.Conn 的封装，用于捕获写入的消息。
type wsWriterInterceptor struct {
	conn       *websocket.Conn
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendStreamDone 发送带引用列表的完成通知 JSON。
func sendStreamDone(ws *websocket.Conn, citations []model.Citation) error {
	if citations == nil {
		citations = []model.Citation{}
	}
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"citations": citations,
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	return ws.WriteMessage(websocket.TextMessage, b)
}
