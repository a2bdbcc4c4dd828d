package model

// QueryScope 限定一次提问允许检索的范围：单篇文档或整个项目，二者取其一。
type QueryScope struct {
	DocumentID *uint `json:"documentId,omitempty"`
	ProjectID  *uint `json:"projectId,omitempty"`
}

// Valid 检查范围是否恰好指定了一种目标。
func (s QueryScope) Valid() bool {
	return (s.DocumentID != nil) != (s.ProjectID != nil)
}

// Citation 是回答中的一条引用，指向支撑该论断的具体 chunk。
type Citation struct {
	DocumentID   uint   `json:"documentId"`
	ChunkID      uint   `json:"chunkId"`
	SeqIndex     int    `json:"seqIndex"`
	SectionLabel string `json:"section"`
	Page         int    `json:"page"`
	// Preview 是被引用 chunk 的内容片段，便于前端展示。
	Preview string `json:"preview"`
}

// Answer 是一次提问的完整结果。它是纯派生数据，核心层从不修改或缓存它。
type Answer struct {
	Question  string     `json:"question"`
	Scope     QueryScope `json:"scope"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	// NoContext 为 true 表示范围内没有可检索的内容（“无可检索内容”而非错误）。
	NoContext bool `json:"noContext"`
}
