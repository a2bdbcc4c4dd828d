// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/service"
	"github.com/darshan-sc/lab-assistant/pkg/log"
)

// DocumentHandler 负责处理所有与文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService) *DocumentHandler {
	return &DocumentHandler{docService: docService}
}

// Upload 处理文献上传请求。表单字段: file（必填）、projectId（可选）。
func (h *DocumentHandler) Upload(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}

	var projectID *uint
	if raw := c.PostForm("projectId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "无效的项目 ID"})
			return
		}
		pid := uint(id)
		projectID = &pid
	}

	doc, err := h.docService.Upload(c.Request.Context(), user, projectID, fileHeader)
	if err != nil {
		log.Errorf("Upload: failed, user=%d, error: %v", user.ID, err)
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrScopeAccessDenied) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "上传成功，文档已进入索引队列",
		"data":    doc,
	})
}

// List 处理分页获取文档列表的请求。
func (h *DocumentHandler) List(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))

	docs, total, err := h.docService.List(user, page, size)
	if err != nil {
		log.Error("List documents: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取文档列表失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取文档列表成功",
		"data":    gin.H{"items": docs, "total": total, "page": page, "size": size},
	})
}

// Get 处理获取单篇文档详情的请求，前端用它轮询索引状态。
func (h *DocumentHandler) Get(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	documentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	doc, err := h.docService.Get(user, documentID)
	if err != nil {
		writeDocumentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "获取文档成功",
		"data":    doc,
	})
}

// Reindex 处理重建索引的请求。
func (h *DocumentHandler) Reindex(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	documentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.docService.Reindex(user, documentID); err != nil {
		writeDocumentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "重建索引任务已提交",
	})
}

// Delete 处理删除文档的请求。
func (h *DocumentHandler) Delete(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	documentID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.docService.Delete(user, documentID); err != nil {
		writeDocumentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "文档已删除",
	})
}

// writeDocumentError 把文档业务错误映射为 HTTP 状态码。
func writeDocumentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrDocumentAccessDenied):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrDocumentProcessing):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Errorf("document handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "操作失败"})
	}
}

// userFromContext 从 Gin 上下文取出认证中间件写入的用户对象。
func userFromContext(c *gin.Context) (*model.User, bool) {
	value, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil, false
	}
	user, ok := value.(*model.User)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil, false
	}
	return user, true
}

// pathID 解析路径中的数字 ID。
func pathID(c *gin.Context, name string) (uint, bool) {
	raw := c.Param(name)
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的 ID"})
		return 0, false
	}
	return uint(id), true
}
