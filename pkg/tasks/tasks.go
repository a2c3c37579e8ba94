// Package tasks defines the jobs handed to background ingestion, either through
// the in-process worker pool or through Kafka.
package tasks

import "context"

// IngestTask represents one document waiting for load, split and upsert.
type IngestTask struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	FileName     string `json:"file_name"`
	StoragePath  string `json:"storage_path"`
	Extension    string `json:"extension"`
	// ReplaceID 非空时，新文档入库成功后删除该文档的向量。
	ReplaceID string `json:"replace_id,omitempty"`
}

// Processor is implemented by anything that can run an IngestTask to completion.
type Processor interface {
	Process(ctx context.Context, task IngestTask) error
}
