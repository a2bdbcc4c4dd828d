// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/darshan-sc/lab-assistant/internal/model"
)

// DocumentRepository 定义了文档元数据与分区结构的持久化操作。
type DocumentRepository interface {
	Create(doc *model.Document) error
	FindByID(id uint) (*model.Document, error)
	FindByUser(userID uint, offset, limit int) ([]model.Document, int64, error)
	FindByProject(projectID uint) ([]model.Document, error)
	Update(doc *model.Document) error
	Delete(id uint) error

	// TryMarkProcessing 以条件更新实现互斥：只有当前不在 processing
	// 状态的文档才能进入 processing。返回 false 表示已有处理在进行中。
	TryMarkProcessing(id uint) (bool, error)
	// SaveExtraction 缓存抽取结果（标题、摘要、全文、页码断点）。
	SaveExtraction(id uint, title, abstract, text, pageMap string) error
	MarkCompleted(id uint) error
	MarkFailed(id uint, reason string) error

	// ReplaceSections 整表重写一篇文档的分区结构。
	ReplaceSections(documentID uint, sections []model.Section) error
	FindSections(documentID uint) ([]model.Section, error)

	// CompletedIDsByDocument 当文档存在且状态为 completed 时返回 [id]，否则返回空。
	CompletedIDsByDocument(documentID uint) ([]uint, error)
	// CompletedIDsByProject 返回项目内全部 completed 文档的 ID。
	CompletedIDsByProject(projectID uint) ([]uint, error)
}

// documentRepository 是 DocumentRepository 接口的 GORM 实现。
type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository 创建一个新的 DocumentRepository 实例。
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create 在数据库中创建一条新的文档记录。
func (r *documentRepository) Create(doc *model.Document) error {
	return r.db.Create(doc).Error
}

// FindByID 根据 ID 查找一篇文档。
func (r *documentRepository) FindByID(id uint) (*model.Document, error) {
	var doc model.Document
	err := r.db.First(&doc, id).Error
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// FindByUser 分页查找用户的文档，按创建时间倒序。
func (r *documentRepository) FindByUser(userID uint, offset, limit int) ([]model.Document, int64, error) {
	var docs []model.Document
	var total int64

	db := r.db.Model(&model.Document{}).Where("user_id = ?", userID)

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("created_at DESC").Offset(offset).Limit(limit).Find(&docs).Error
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

// FindByProject 查找项目内的全部文档。
func (r *documentRepository) FindByProject(projectID uint) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.Where("project_id = ?", projectID).Order("created_at DESC").Find(&docs).Error
	return docs, err
}

// Update 更新一条已存在的文档记录。
func (r *documentRepository) Update(doc *model.Document) error {
	return r.db.Save(doc).Error
}

// Delete 删除文档记录及其分区结构。
func (r *documentRepository) Delete(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&model.Section{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Document{}, id).Error
	})
}

// TryMarkProcessing 用单条条件 UPDATE 抢占处理权，避免同一文档并发索引。
func (r *documentRepository) TryMarkProcessing(id uint) (bool, error) {
	result := r.db.Model(&model.Document{}).
		Where("id = ? AND status <> ?", id, model.DocStatusProcessing).
		Updates(map[string]interface{}{
			"status":           model.DocStatusProcessing,
			"processing_error": nil,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SaveExtraction 缓存抽取结果。
func (r *documentRepository) SaveExtraction(id uint, title, abstract, text, pageMap string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"title":          title,
			"abstract":       abstract,
			"extracted_text": text,
			"page_map":       pageMap,
		}).Error
}

// MarkCompleted 将文档标记为 completed 并记录索引完成时间。
func (r *documentRepository) MarkCompleted(id uint) error {
	now := time.Now()
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           model.DocStatusCompleted,
			"indexed_at":       &now,
			"processing_error": nil,
		}).Error
}

// MarkFailed 将文档标记为 failed 并记录失败原因。
func (r *documentRepository) MarkFailed(id uint, reason string) error {
	return r.db.Model(&model.Document{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           model.DocStatusFailed,
			"processing_error": reason,
		}).Error
}

// ReplaceSections 在单个事务内删除旧分区并写入新分区。
func (r *documentRepository) ReplaceSections(documentID uint, sections []model.Section) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Section{}).Error; err != nil {
			return err
		}
		if len(sections) == 0 {
			return nil
		}
		return tx.Create(&sections).Error
	})
}

// FindSections 按 Position 顺序返回一篇文档的分区结构。
func (r *documentRepository) FindSections(documentID uint) ([]model.Section, error) {
	var sections []model.Section
	err := r.db.Where("document_id = ?", documentID).Order("position ASC").Find(&sections).Error
	return sections, err
}

// CompletedIDsByDocument 检索范围解析：只有 completed 的文档可被检索。
func (r *documentRepository) CompletedIDsByDocument(documentID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", documentID, model.DocStatusCompleted).
		Pluck("id", &ids).Error
	return ids, err
}

// CompletedIDsByProject 返回项目内全部 completed 文档的 ID。
func (r *documentRepository) CompletedIDsByProject(projectID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&model.Document{}).
		Where("project_id = ? AND status = ?", projectID, model.DocStatusCompleted).
		Pluck("id", &ids).Error
	return ids, err
}
