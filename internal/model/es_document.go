package model

import "fmt"

// ChunkPayload 是与向量一同存储的元数据。
type ChunkPayload struct {
	DocumentID   string `json:"document_id"`
	DocumentName string `json:"document_name"`
	Source       string `json:"source"`
	ChunkIndex   int    `json:"chunk_index"`
	StartOffset  int    `json:"start_offset"`
	Length       int    `json:"length"`
	Page         int    `json:"page,omitempty"`
	ModelVersion string `json:"model_version"`
}

// VectorEntry 对应向量索引中的一条记录，每个 chunk 一条。
type VectorEntry struct {
	ID      string       `json:"vector_id"` // documentId_chunkIndex
	Text    string       `json:"text_content"`
	Vector  []float32    `json:"vector"`
	Payload ChunkPayload `json:"metadata"`
}

// VectorID 生成向量记录的唯一标识。
func VectorID(documentID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", documentID, chunkIndex)
}

// EsDocument 定义了存储在 Elasticsearch 中的文档结构。
// document_id 单独提升为 keyword 字段，便于按文档删除。
type EsDocument struct {
	VectorID     string       `json:"vector_id"`
	DocumentID   string       `json:"document_id"`
	ChunkIndex   int          `json:"chunk_index"`
	TextContent  string       `json:"text_content"`
	Vector       []float32    `json:"vector,omitempty"`
	ModelVersion string       `json:"model_version"`
	Metadata     ChunkPayload `json:"metadata"`
}

// ToEsDocument 把 VectorEntry 转为 ES 文档。
func (e VectorEntry) ToEsDocument() EsDocument {
	return EsDocument{
		VectorID:     e.ID,
		DocumentID:   e.Payload.DocumentID,
		ChunkIndex:   e.Payload.ChunkIndex,
		TextContent:  e.Text,
		Vector:       e.Vector,
		ModelVersion: e.Payload.ModelVersion,
		Metadata:     e.Payload,
	}
}

// Match 是一次相似度检索的命中结果。
type Match struct {
	ID      string       `json:"id"`
	Text    string       `json:"text"`
	Score   float64      `json:"score"`
	Payload ChunkPayload `json:"payload"`
}

// SourceDocument 是问答结果中附带的出处摘录。
type SourceDocument struct {
	Content      string `json:"content"`
	DocumentName string `json:"document_name"`
	Page         *int   `json:"page,omitempty"`
}

// QueryResult 是一次问答的结果。
type QueryResult struct {
	Answer          string           `json:"answer"`
	SourceDocuments []SourceDocument `json:"source_documents"`
}
