package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/pipeline"
	"github.com/darshan-sc/lab-assistant/internal/service"
	"github.com/darshan-sc/lab-assistant/pkg/log"
	"github.com/darshan-sc/lab-assistant/pkg/token"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// AskHandler 负责处理问答请求：阻塞式 HTTP 问答与 WebSocket 流式问答。
type AskHandler struct {
	answerService service.AnswerService
	userService   service.UserService
	jwtManager    *token.JWTManager
	// 每连接停止标志
	stopFlags sync.Map // key: session pointer string, value: bool
}

// NewAskHandler 创建一个新的 AskHandler。
func NewAskHandler(answerService service.AnswerService, userService service.UserService, jwtManager *token.JWTManager) *AskHandler {
	return &AskHandler{
		answerService: answerService,
		userService:   userService,
		jwtManager:    jwtManager,
	}
}

// AskRequest 定义了问答 API 的请求体。documentId 与 projectId 二选一。
type AskRequest struct {
	Question   string `json:"question" binding:"required"`
	DocumentID *uint  `json:"documentId"`
	ProjectID  *uint  `json:"projectId"`
}

// Ask 处理阻塞式问答请求。
func (h *AskHandler) Ask(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}

	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：question 不能为空"})
		return
	}

	scope := model.QueryScope{DocumentID: req.DocumentID, ProjectID: req.ProjectID}
	if !scope.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "documentId 与 projectId 必须且只能指定一个"})
		return
	}

	answer, err := h.answerService.Ask(c.Request.Context(), req.Question, scope, user)
	if err != nil {
		writeAskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "success",
		"data":    answer,
	})
}

// writeAskError 把问答业务错误映射为 HTTP 状态码。
func writeAskError(c *gin.Context, err error) {
	var synthesisErr *pipeline.SynthesisError
	switch {
	case errors.Is(err, service.ErrScopeAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &synthesisErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "AI 服务暂时不可用，请稍后重试"})
	default:
		log.Errorf("ask handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "问答失败"})
	}
}

// Chat 处理一个传入的 WebSocket 连接，消息格式:
// {"question":"...","documentId":1} 或 {"question":"...","projectId":2}。
func (h *AskHandler) Chat(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	user, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		// 停止指令: {"type":"stop"}
		var ctrl struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(message, &ctrl) == nil && ctrl.Type == "stop" {
			h.stopFlags.Store(sessionKey(conn), true)
			resp := map[string]interface{}{
				"type":      "stop",
				"message":   "响应已停止",
				"timestamp": time.Now().UnixMilli(),
			}
			b, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, b)
			continue
		}

		var req AskRequest
		if err := json.Unmarshal(message, &req); err != nil || req.Question == "" {
			writeWsError(conn, "无效的消息格式")
			continue
		}
		scope := model.QueryScope{DocumentID: req.DocumentID, ProjectID: req.ProjectID}
		if !scope.Valid() {
			writeWsError(conn, "documentId 与 projectId 必须且只能指定一个")
			continue
		}

		shouldStop := func() bool {
			v, ok := h.stopFlags.Load(sessionKey(conn))
			return ok && v.(bool)
		}
		// 清除旧标志
		h.stopFlags.Delete(sessionKey(conn))

		err = h.answerService.AskStream(c.Request.Context(), req.Question, scope, user, conn, shouldStop)
		if err != nil {
			log.Errorf("处理流式问答失败: %v", err)
			writeWsError(conn, "AI 服务暂时不可用，请稍后重试")
			break
		}
	}
}

func writeWsError(conn *websocket.Conn, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
