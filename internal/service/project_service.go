package service

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/repository"
	"github.com/darshan-sc/lab-assistant/pkg/log"
	"github.com/darshan-sc/lab-assistant/pkg/token"
)

// ErrProjectAccessDenied 表示用户无权操作该项目。
var ErrProjectAccessDenied = errors.New("项目不存在或无权访问")

// ErrInviteInvalid 表示邀请码无效、已停用或已过期。
var ErrInviteInvalid = errors.New("邀请码无效或已过期")

// MemberDTO 是项目成员的前端视图。
type MemberDTO struct {
	UserID   uint      `json:"userId"`
	Username string    `json:"username"`
	Role     string    `json:"role"`
	AddedAt  time.Time `json:"addedAt"`
}

// ProjectDetailDTO 是项目详情视图，带项目内的文档列表。
type ProjectDetailDTO struct {
	model.Project
	Documents []model.Document `json:"documents"`
}

// ProjectService 接口定义了项目协作相关的业务操作。
type ProjectService interface {
	Create(user *model.User, name, description string) (*model.Project, error)
	List(user *model.User) ([]model.Project, error)
	Get(user *model.User, projectID uint) (*ProjectDetailDTO, error)
	Update(user *model.User, projectID uint, name, description string) (*model.Project, error)
	Delete(user *model.User, projectID uint) error

	Members(user *model.User, projectID uint) ([]MemberDTO, error)
	RemoveMember(user *model.User, projectID, memberID uint) error

	// CreateInvite 生成邀请码，expiresInHours<=0 表示永不过期。
	CreateInvite(user *model.User, projectID uint, expiresInHours int) (*model.ProjectInvite, error)
	// Join 通过邀请码加入项目。
	Join(user *model.User, code string) (*model.Project, error)
}

type projectService struct {
	projectRepo repository.ProjectRepository
	userRepo    repository.UserRepository
	docRepo     repository.DocumentRepository
}

// NewProjectService 创建一个新的 ProjectService 实例。
func NewProjectService(projectRepo repository.ProjectRepository, userRepo repository.UserRepository, docRepo repository.DocumentRepository) ProjectService {
	return &projectService{projectRepo: projectRepo, userRepo: userRepo, docRepo: docRepo}
}

// Create 创建项目，创建者自动成为 owner。
func (s *projectService) Create(user *model.User, name, description string) (*model.Project, error) {
	project := &model.Project{
		UserID:      user.ID,
		Name:        name,
		Description: description,
	}
	if err := s.projectRepo.Create(project); err != nil {
		return nil, fmt.Errorf("创建项目失败: %w", err)
	}
	log.Infof("[ProjectService] 用户 %d 创建项目 %d (%s)", user.ID, project.ID, project.Name)
	return project, nil
}

// List 返回用户参与的全部项目。
func (s *projectService) List(user *model.User) ([]model.Project, error) {
	return s.projectRepo.FindByUser(user.ID)
}

// Get 返回项目详情（含项目内文档），要求调用者是项目成员。
func (s *projectService) Get(user *model.User, projectID uint) (*ProjectDetailDTO, error) {
	if _, err := s.requireMember(projectID, user.ID); err != nil {
		return nil, err
	}
	project, err := s.projectRepo.FindByID(projectID)
	if err != nil {
		return nil, err
	}
	documents, err := s.docRepo.FindByProject(projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectDetailDTO{Project: *project, Documents: documents}, nil
}

// Update 更新项目信息，仅 owner 可操作。
func (s *projectService) Update(user *model.User, projectID uint, name, description string) (*model.Project, error) {
	if err := s.requireOwner(projectID, user.ID); err != nil {
		return nil, err
	}
	project, err := s.projectRepo.FindByID(projectID)
	if err != nil {
		return nil, err
	}
	if name != "" {
		project.Name = name
	}
	project.Description = description
	if err := s.projectRepo.Update(project); err != nil {
		return nil, err
	}
	return project, nil
}

// Delete 删除项目，仅 owner 可操作。项目内文档不随项目删除，
// 只是失去项目归属对应的共享范围。
func (s *projectService) Delete(user *model.User, projectID uint) error {
	if err := s.requireOwner(projectID, user.ID); err != nil {
		return err
	}
	return s.projectRepo.Delete(projectID)
}

// Members 返回项目成员列表。
func (s *projectService) Members(user *model.User, projectID uint) ([]MemberDTO, error) {
	if _, err := s.requireMember(projectID, user.ID); err != nil {
		return nil, err
	}
	members, err := s.projectRepo.FindMembers(projectID)
	if err != nil {
		return nil, err
	}

	dtos := make([]MemberDTO, 0, len(members))
	for _, member := range members {
		dto := MemberDTO{UserID: member.UserID, Role: member.Role, AddedAt: member.AddedAt}
		if u, err := s.userRepo.FindByID(member.UserID); err == nil {
			dto.Username = u.Username
		}
		dtos = append(dtos, dto)
	}
	return dtos, nil
}

// RemoveMember 将成员移出项目。owner 可移除任何人，成员只能退出自己。
func (s *projectService) RemoveMember(user *model.User, projectID, memberID uint) error {
	if user.ID != memberID {
		if err := s.requireOwner(projectID, user.ID); err != nil {
			return err
		}
	} else {
		if _, err := s.requireMember(projectID, user.ID); err != nil {
			return err
		}
	}

	// owner 不能被移出，项目必须始终有属主
	member, err := s.projectRepo.FindMember(projectID, memberID)
	if err != nil {
		return ErrProjectAccessDenied
	}
	if member.Role == model.ProjectRoleOwner {
		return errors.New("项目属主不能被移出")
	}
	return s.projectRepo.RemoveMember(projectID, memberID)
}

// CreateInvite 生成项目邀请码，仅 owner 可操作。
func (s *projectService) CreateInvite(user *model.User, projectID uint, expiresInHours int) (*model.ProjectInvite, error) {
	if err := s.requireOwner(projectID, user.ID); err != nil {
		return nil, err
	}

	invite := &model.ProjectInvite{
		ProjectID: projectID,
		Code:      token.GenerateRandomString(8),
		CreatedBy: user.ID,
		IsActive:  true,
	}
	if expiresInHours > 0 {
		expires := time.Now().Add(time.Duration(expiresInHours) * time.Hour)
		invite.ExpiresAt = &expires
	}
	if err := s.projectRepo.CreateInvite(invite); err != nil {
		return nil, fmt.Errorf("创建邀请码失败: %w", err)
	}
	return invite, nil
}

// Join 通过邀请码加入项目。重复加入是幂等的。
func (s *projectService) Join(user *model.User, code string) (*model.Project, error) {
	invite, err := s.projectRepo.FindInviteByCode(code)
	if err != nil {
		return nil, ErrInviteInvalid
	}
	if !invite.IsActive {
		return nil, ErrInviteInvalid
	}
	if invite.ExpiresAt != nil && time.Now().After(*invite.ExpiresAt) {
		return nil, ErrInviteInvalid
	}

	project, err := s.projectRepo.FindByID(invite.ProjectID)
	if err != nil {
		return nil, ErrInviteInvalid
	}

	if _, err := s.projectRepo.FindMember(project.ID, user.ID); err == nil {
		return project, nil
	}

	member := &model.ProjectMember{
		ProjectID: project.ID,
		UserID:    user.ID,
		Role:      model.ProjectRoleMember,
	}
	if err := s.projectRepo.AddMember(member); err != nil {
		return nil, fmt.Errorf("加入项目失败: %w", err)
	}
	log.Infof("[ProjectService] 用户 %d 通过邀请码加入项目 %d", user.ID, project.ID)
	return project, nil
}

func (s *projectService) requireMember(projectID, userID uint) (*model.ProjectMember, error) {
	member, err := s.projectRepo.FindMember(projectID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectAccessDenied
		}
		return nil, err
	}
	return member, nil
}

func (s *projectService) requireOwner(projectID, userID uint) error {
	member, err := s.requireMember(projectID, userID)
	if err != nil {
		return err
	}
	if member.Role != model.ProjectRoleOwner {
		return ErrProjectAccessDenied
	}
	return nil
}
