package model

// Chunk 对应于数据库中的 chunks 表。
// 它是向量索引的事实来源：ES 中的向量始终可以由 (Document, Chunk) 重建。
type Chunk struct {
	ID         uint `gorm:"primaryKey;autoIncrement" json:"id"`
	DocumentID uint `gorm:"index;not null" json:"documentId"`
	// SeqIndex 定义了整篇文档内的阅读顺序，从 0 开始单调递增。
	SeqIndex     int    `gorm:"not null" json:"seqIndex"`
	SectionLabel string `gorm:"type:varchar(100);not null" json:"sectionLabel"`
	// 区间为文档全文中的 rune 偏移，左闭右开；同一分区内相邻 chunk 有重叠。
	StartOffset int `gorm:"not null" json:"startOffset"`
	EndOffset   int `gorm:"not null" json:"endOffset"`
	// Page 是 chunk 起始偏移所在的页码（1 起），尽力而为。
	Page         int    `gorm:"not null;default:0" json:"page"`
	Content      string `gorm:"type:text;not null" json:"content"`
	ModelVersion string `gorm:"type:varchar(50)" json:"modelVersion"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Chunk) TableName() string {
	return "chunks"
}

// EsChunk 定义了存储在 Elasticsearch 中的向量文档结构。
type EsChunk struct {
	VectorID     string    `json:"vector_id"` // 唯一标识：documentID_seqIndex
	DocumentID   uint      `json:"document_id"`
	ChunkID      uint      `json:"chunk_id"`
	SeqIndex     int       `json:"seq_index"`
	SectionLabel string    `json:"section_label"`
	Page         int       `json:"page"`
	Content      string    `json:"content"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
}

// RetrievedChunk 是检索阶段的输出：一个命中的 chunk 及其相似度得分。
type RetrievedChunk struct {
	DocumentID   uint    `json:"documentId"`
	ChunkID      uint    `json:"chunkId"`
	SeqIndex     int     `json:"seqIndex"`
	SectionLabel string  `json:"sectionLabel"`
	Page         int     `json:"page"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}
