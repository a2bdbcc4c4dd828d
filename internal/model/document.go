// Package model 定义了与数据库表对应的 Go 结构体。
package model

import "time"

// 文档处理状态。一次处理尝试内状态单调推进：
// pending → processing → completed|failed；重建索引从 processing 重新开始。
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// Document 对应于数据库中的 documents 表。
// 它记录了上传文献的元数据、抽取缓存与处理状态。
type Document struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    uint   `gorm:"index;not null" json:"userId"`
	ProjectID *uint  `gorm:"index" json:"projectId"`
	FileName  string `gorm:"type:varchar(255);not null" json:"fileName"`
	// ObjectKey 是原始文件在 MinIO 中的对象名。
	ObjectKey string `gorm:"type:varchar(512);not null" json:"-"`
	FileSize  int64  `gorm:"not null" json:"fileSize"`

	Title    string `gorm:"type:varchar(500)" json:"title"`
	Abstract string `gorm:"type:text" json:"abstract"`
	// ExtractedText 缓存全文抽取结果，重建索引时无需重复调用 Tika。
	ExtractedText string `gorm:"type:longtext" json:"-"`
	// PageMap 缓存页码断点（JSON 数组），与 ExtractedText 同生命周期。
	PageMap string `gorm:"type:text" json:"-"`

	Status          string  `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	ProcessingError *string `gorm:"type:text" json:"processingError"`

	CreatedAt time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	IndexedAt *time.Time `gorm:"default:null" json:"indexedAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Document) TableName() string {
	return "documents"
}

// Section 对应于数据库中的 sections 表。
// 每次结构抽取成功后整表重写，区间按 Position 有序且互不重叠。
type Section struct {
	ID         uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID uint   `gorm:"index;not null" json:"documentId"`
	Position   int    `gorm:"not null" json:"position"`
	Label      string `gorm:"type:varchar(100);not null" json:"label"`
	// 区间为文档全文中的 rune 偏移，左闭右开。
	StartOffset int `gorm:"not null" json:"startOffset"`
	EndOffset   int `gorm:"not null" json:"endOffset"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Section) TableName() string {
	return "sections"
}

// SectionLabelUnlabeled 是结构抽取降级时使用的整篇兜底分区标签。
const SectionLabelUnlabeled = "Unlabeled"

// DocumentDTO 是返回给前端的文档视图，补充了格式化时间与项目名。
type DocumentDTO struct {
	Document
	CreatedAtLocal LocalTime `json:"createdAtLocal"`
	ProjectName    string    `json:"projectName"`
	// DownloadURL 是原始文件的临时下载链接，仅详情接口返回。
	DownloadURL string `json:"downloadUrl,omitempty"`
	// ChunkCount 是当前已索引的 chunk 数，仅详情接口返回。
	ChunkCount int `json:"chunkCount,omitempty"`
}
