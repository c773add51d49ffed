// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// SourceIngestionTask 描述一次来源入库：从对象存储读取 PDF，解析分段后写入笔记本的向量集合。
type SourceIngestionTask struct {
	SourceID   uint   `json:"source_id"`
	NotebookID uint   `json:"notebook_id"`
	ObjectKey  string `json:"object_key"`
	FileName   string `json:"file_name"`
}
