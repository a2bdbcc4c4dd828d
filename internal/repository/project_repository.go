package repository

import (
	"gorm.io/gorm"

	"github.com/darshan-sc/lab-assistant/internal/model"
)

// ProjectRepository 定义了项目、成员与邀请码的数据操作接口。
type ProjectRepository interface {
	Create(project *model.Project) error
	FindByID(id uint) (*model.Project, error)
	FindByUser(userID uint) ([]model.Project, error)
	Update(project *model.Project) error
	Delete(id uint) error

	AddMember(member *model.ProjectMember) error
	RemoveMember(projectID, userID uint) error
	FindMember(projectID, userID uint) (*model.ProjectMember, error)
	FindMembers(projectID uint) ([]model.ProjectMember, error)

	CreateInvite(invite *model.ProjectInvite) error
	FindInviteByCode(code string) (*model.ProjectInvite, error)
	DeactivateInvite(id uint) error
}

type projectRepository struct {
	db *gorm.DB
}

// NewProjectRepository 创建一个新的 ProjectRepository 实例。
func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// Create 创建项目并将创建者写入成员表（owner 角色），两者在同一事务内。
func (r *projectRepository) Create(project *model.Project) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(project).Error; err != nil {
			return err
		}
		member := model.ProjectMember{
			ProjectID: project.ID,
			UserID:    project.UserID,
			Role:      model.ProjectRoleOwner,
		}
		return tx.Create(&member).Error
	})
}

// FindByID 根据 ID 查找一个项目。
func (r *projectRepository) FindByID(id uint) (*model.Project, error) {
	var project model.Project
	err := r.db.First(&project, id).Error
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// FindByUser 返回用户参与的全部项目（含作为成员加入的）。
func (r *projectRepository) FindByUser(userID uint) ([]model.Project, error) {
	var projects []model.Project
	err := r.db.
		Joins("JOIN project_members ON project_members.project_id = projects.id").
		Where("project_members.user_id = ?", userID).
		Order("projects.created_at DESC").
		Find(&projects).Error
	return projects, err
}

// Update 更新一个已存在的项目。
func (r *projectRepository) Update(project *model.Project) error {
	return r.db.Save(project).Error
}

// Delete 删除项目及其成员与邀请码记录。
func (r *projectRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("project_id = ?", id).Delete(&model.ProjectMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&model.ProjectInvite{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Project{}, id).Error
	})
}

// AddMember 向项目添加一名成员。
func (r *projectRepository) AddMember(member *model.ProjectMember) error {
	return r.db.Create(member).Error
}

// RemoveMember 将一名成员移出项目。
func (r *projectRepository) RemoveMember(projectID, userID uint) error {
	return r.db.Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&model.ProjectMember{}).Error
}

// FindMember 查找项目内的一名成员，不存在时返回 gorm.ErrRecordNotFound。
func (r *projectRepository) FindMember(projectID, userID uint) (*model.ProjectMember, error) {
	var member model.ProjectMember
	err := r.db.Where("project_id = ? AND user_id = ?", projectID, userID).First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

// FindMembers 返回项目的全部成员。
func (r *projectRepository) FindMembers(projectID uint) ([]model.ProjectMember, error) {
	var members []model.ProjectMember
	err := r.db.Where("project_id = ?", projectID).Order("added_at ASC").Find(&members).Error
	return members, err
}

// CreateInvite 创建一条邀请码记录。
func (r *projectRepository) CreateInvite(invite *model.ProjectInvite) error {
	return r.db.Create(invite).Error
}

// FindInviteByCode 根据邀请码查找邀请记录。
func (r *projectRepository) FindInviteByCode(code string) (*model.ProjectInvite, error) {
	var invite model.ProjectInvite
	err := r.db.Where("code = ?", code).First(&invite).Error
	if err != nil {
		return nil, err
	}
	return &invite, nil
}

// DeactivateInvite 停用一条邀请码。
func (r *projectRepository) DeactivateInvite(id uint) error {
	return r.db.Model(&model.ProjectInvite{}).Where("id = ?", id).
		Update("is_active", false).Error
}
