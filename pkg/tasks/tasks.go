// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentIndexTask represents the data structure for a document indexing job.
// 上传与重建索引共用同一任务类型，消费端按 DocumentID 驱动管道。
type DocumentIndexTask struct {
	DocumentID uint   `json:"document_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
	UserID     uint   `json:"user_id"`
	// Reindex 为 true 表示跳过 MinIO 下载，复用已缓存的抽取文本。
	Reindex bool `json:"reindex"`
}
