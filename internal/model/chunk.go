package model

// Section 是 Loader 的输出单元：一段原始文本及其元数据（例如 PDF 的 page）。
type Section struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Chunk 是切块后的文本片段，只在入库流程中短暂存在。
type Chunk struct {
	DocumentID   string                 `json:"document_id"`
	Source       string                 `json:"source"`
	DocumentName string                 `json:"document_name"`
	Index        int                    `json:"chunk_index"`
	SectionIndex int                    `json:"section_index"`
	Text         string                 `json:"text"`
	Length       int                    `json:"length"`       // rune 数
	StartOffset  int                    `json:"start_offset"` // 在所属 section 中的 rune 偏移
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Page 返回 chunk 所在页码，未知时返回 0。
func (c Chunk) Page() int {
	return PageOf(c.Metadata)
}

// PageOf 从元数据中读取 page 字段，兼容 JSON 反序列化得到的 float64。
func PageOf(md map[string]interface{}) int {
	if md == nil {
		return 0
	}
	switch v := md["page"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
