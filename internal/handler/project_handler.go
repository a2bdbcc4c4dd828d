package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/darshan-sc/lab-assistant/internal/service"
	"github.com/darshan-sc/lab-assistant/pkg/log"
)

// ProjectHandler 负责处理项目协作相关的 API 请求。
type ProjectHandler struct {
	projectService service.ProjectService
}

// NewProjectHandler 创建一个新的 ProjectHandler 实例。
func NewProjectHandler(projectService service.ProjectService) *ProjectHandler {
	return &ProjectHandler{projectService: projectService}
}

// ProjectRequest 定义了创建/更新项目的请求体。
type ProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// Create 处理创建项目的请求。
func (h *ProjectHandler) Create(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}

	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：name 不能为空"})
		return
	}

	project, err := h.projectService.Create(user, req.Name, req.Description)
	if err != nil {
		log.Errorf("Create project: failed, user=%d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建项目失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "创建项目成功", "data": project})
}

// List 处理获取项目列表的请求。
func (h *ProjectHandler) List(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}

	projects, err := h.projectService.List(user)
	if err != nil {
		log.Error("List projects: failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取项目列表失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "获取项目列表成功", "data": projects})
}

// Get 处理获取项目详情的请求。
func (h *ProjectHandler) Get(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	project, err := h.projectService.Get(user, projectID)
	if err != nil {
		writeProjectError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "获取项目成功", "data": project})
}

// Update 处理更新项目的请求。
func (h *ProjectHandler) Update(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req ProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	project, err := h.projectService.Update(user, projectID, req.Name, req.Description)
	if err != nil {
		writeProjectError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "更新项目成功", "data": project})
}

// Delete 处理删除项目的请求。
func (h *ProjectHandler) Delete(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.projectService.Delete(user, projectID); err != nil {
		writeProjectError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "项目已删除"})
}

// Members 处理获取项目成员列表的请求。
func (h *ProjectHandler) Members(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	members, err := h.projectService.Members(user, projectID)
	if err != nil {
		writeProjectError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "获取成员列表成功", "data": members})
}

// RemoveMember 处理移出项目成员的请求。
func (h *ProjectHandler) RemoveMember(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "userId")
	if !ok {
		return
	}

	if err := h.projectService.RemoveMember(user, projectID, memberID); err != nil {
		writeProjectError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "成员已移出"})
}

// InviteRequest 定义了创建邀请码的请求体。
type InviteRequest struct {
	ExpiresInHours int `json:"expiresInHours"`
}

// CreateInvite 处理创建邀请码的请求。
func (h *ProjectHandler) CreateInvite(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var req InviteRequest
	_ = c.ShouldBindJSON(&req)

	invite, err := h.projectService.CreateInvite(user, projectID, req.ExpiresInHours)
	if err != nil {
		writeProjectError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "邀请码已创建", "data": invite})
}

// JoinRequest 定义了加入项目的请求体。
type JoinRequest struct {
	Code string `json:"code" binding:"required"`
}

// Join 处理通过邀请码加入项目的请求。
func (h *ProjectHandler) Join(c *gin.Context) {
	user, ok := userFromContext(c)
	if !ok {
		return
	}

	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载：code 不能为空"})
		return
	}

	project, err := h.projectService.Join(user, req.Code)
	if err != nil {
		if errors.Is(err, service.ErrInviteInvalid) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Errorf("Join project: failed, user=%d, error: %v", user.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "加入项目失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "加入项目成功", "data": project})
}

func writeProjectError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrProjectAccessDenied):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		log.Errorf("project handler: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "操作失败"})
	}
}
