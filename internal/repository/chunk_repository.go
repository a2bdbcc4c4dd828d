package repository

import (
	"gorm.io/gorm"

	"github.com/darshan-sc/lab-assistant/internal/model"
)

// ChunkRepository 定义了对 chunks 表的数据操作接口。
// MySQL 中的 chunk 行是事实来源，ES 中的向量随时可由它重建。
type ChunkRepository interface {
	// ReplaceForDocument 在单个事务内删除文档的旧 chunk 并写入新 chunk。
	ReplaceForDocument(documentID uint, chunks []*model.Chunk) error
	FindByDocument(documentID uint) ([]*model.Chunk, error)
	DeleteByDocument(documentID uint) error
}

type chunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository 创建一个新的 ChunkRepository 实例。
func NewChunkRepository(db *gorm.DB) ChunkRepository {
	return &chunkRepository{db: db}
}

// ReplaceForDocument 整表重写一篇文档的 chunk。
func (r *chunkRepository) ReplaceForDocument(documentID uint, chunks []*model.Chunk) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.Create(&chunks).Error
	})
}

// FindByDocument 按阅读顺序返回一篇文档的全部 chunk。
func (r *chunkRepository) FindByDocument(documentID uint) ([]*model.Chunk, error) {
	var chunks []*model.Chunk
	err := r.db.Where("document_id = ?", documentID).Order("seq_index ASC").Find(&chunks).Error
	return chunks, err
}

// DeleteByDocument 删除一篇文档的全部 chunk。
func (r *chunkRepository) DeleteByDocument(documentID uint) error {
	return r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error
}
