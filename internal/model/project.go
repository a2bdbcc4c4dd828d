// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// Project 对应于数据库中的 projects 表。
// 项目是文档共享与提问范围的单位，同一用户下项目名唯一。
type Project struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint      `gorm:"index;not null;uniqueIndex:uq_user_project_name" json:"userId"`
	Name        string    `gorm:"type:varchar(200);not null;uniqueIndex:uq_user_project_name" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Project) TableName() string {
	return "projects"
}

// 项目成员角色。
const (
	ProjectRoleOwner  = "owner"
	ProjectRoleMember = "member"
)

// ProjectMember 对应于数据库中的 project_members 表。
type ProjectMember struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint      `gorm:"index;not null;uniqueIndex:uq_project_member" json:"projectId"`
	UserID    uint      `gorm:"index;not null;uniqueIndex:uq_project_member" json:"userId"`
	Role      string    `gorm:"type:varchar(20);not null;default:'member'" json:"role"`
	AddedAt   time.Time `gorm:"autoCreateTime" json:"addedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ProjectMember) TableName() string {
	return "project_members"
}

// ProjectInvite 对应于数据库中的 project_invites 表。
// 邀请码用于加入项目，可设置过期时间并可被停用。
type ProjectInvite struct {
	ID        uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ProjectID uint       `gorm:"index;not null" json:"projectId"`
	Code      string     `gorm:"type:varchar(20);uniqueIndex;not null" json:"code"`
	CreatedBy uint       `gorm:"not null" json:"createdBy"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	ExpiresAt *time.Time `gorm:"default:null" json:"expiresAt"`
	IsActive  bool       `gorm:"not null;default:true" json:"isActive"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (ProjectInvite) TableName() string {
	return "project_invites"
}
