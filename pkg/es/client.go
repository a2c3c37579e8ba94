// Package es 提供了基于 Elasticsearch dense_vector 的向量索引后端。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/pkg/log"
)

// Store 实现 vectorindex.Backend，每个 chunk 对应索引中的一篇文档。
type Store struct {
	client *elasticsearch.Client
	index  string
}

// NewStore 初始化 Elasticsearch 客户端。索引本身由 Create 惰性创建。
func NewStore(esCfg config.ElasticsearchConfig) (*Store, error) {
	var addrs []string
	for _, a := range strings.Split(esCfg.Addresses, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return nil, errors.New("elasticsearch.addresses 未配置")
	}
	if esCfg.IndexName == "" {
		return nil, errors.New("elasticsearch.index_name 未配置")
	}
	cfg := elasticsearch.Config{
		Addresses: addrs,
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{client: client, index: esCfg.IndexName}, nil
}

// IndexName 返回索引名。
func (s *Store) IndexName() string { return s.index }

func (s *Store) Exists(ctx context.Context) (bool, error) {
	res, err := s.client.Indices.Exists([]string{s.index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return false, err
	}
	defer res.Body.Close()
	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}
}

type mappingResponse map[string]struct {
	Mappings struct {
		Properties map[string]struct {
			Type string `json:"type"`
			Dims int    `json:"dims"`
		} `json:"properties"`
	} `json:"mappings"`
}

func (s *Store) Dimensions(ctx context.Context) (int, error) {
	res, err := s.client.Indices.GetMapping(
		s.client.Indices.GetMapping.WithIndex(s.index),
		s.client.Indices.GetMapping.WithContext(ctx),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, responseError("读取索引 mapping", res)
	}
	var mr mappingResponse
	if err := json.NewDecoder(res.Body).Decode(&mr); err != nil {
		return 0, fmt.Errorf("解析索引 mapping 失败: %w", err)
	}
	for _, idx := range mr {
		if v, ok := idx.Mappings.Properties["vector"]; ok {
			return v.Dims, nil
		}
	}
	return 0, nil
}

// Create 创建索引，已存在时不做任何事。
func (s *Store) Create(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid dimension %d", dims)
	}
	exists, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		log.Infof("索引 '%s' 已存在", s.index)
		return nil
	}

	// metadata 只随文档返回，不参与检索
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"metadata": { "type": "object", "enabled": false }
			}
		}
	}`, dims)

	res, err := s.client.Indices.Create(
		s.index,
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
		s.client.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.index, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.index, res.String())
		return responseError("创建索引", res)
	}
	log.Infof("索引 '%s' 创建成功, 维度: %d", s.index, dims)
	return nil
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Upsert 以 vector_id 作为文档 _id 批量写入，重复写入会覆盖。
func (s *Store) Upsert(ctx context.Context, entries []model.VectorEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		meta := map[string]map[string]string{"index": {"_index": s.index, "_id": e.ID}}
		if err := enc.Encode(meta); err != nil {
			return err
		}
		if err := enc.Encode(e.ToEsDocument()); err != nil {
			return err
		}
	}

	res, err := s.client.Bulk(
		bytes.NewReader(buf.Bytes()),
		s.client.Bulk.WithIndex(s.index),
		s.client.Bulk.WithRefresh("wait_for"),
		s.client.Bulk.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("批量写入", res)
	}
	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if !br.Errors {
		return nil
	}
	for _, item := range br.Items {
		for _, r := range item {
			if r.Error != nil {
				return fmt.Errorf("写入向量 %s 失败: %s: %s", r.ID, r.Error.Type, r.Error.Reason)
			}
		}
	}
	return errors.New("bulk 写入部分失败")
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			ID     string           `json:"_id"`
			Score  float64          `json:"_score"`
			Source model.EsDocument `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search 使用 kNN 检索。ES 的 cosine 分数为 (1+cos)/2，这里换算回余弦值。
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]model.Match, error) {
	if k <= 0 {
		return nil, nil
	}
	candidates := k * 10
	if candidates < 100 {
		candidates = 100
	}
	query := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              k,
			"num_candidates": candidates,
		},
		"_source": map[string]interface{}{
			"excludes": []string{"vector"},
		},
		"size": k,
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	res, err := s.client.Search(
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(body)),
		s.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("向量检索", res)
	}
	var sr searchResponse
	if err := json.NewDecoder(res.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}
	out := make([]model.Match, 0, len(sr.Hits.Hits))
	for _, h := range sr.Hits.Hits {
		out = append(out, model.Match{
			ID:      h.ID,
			Text:    h.Source.TextContent,
			Score:   2*h.Score - 1,
			Payload: h.Source.Metadata,
		})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int64, error) {
	res, err := s.client.Count(
		s.client.Count.WithIndex(s.index),
		s.client.Count.WithContext(ctx),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	if res.IsError() {
		return 0, responseError("统计文档数", res)
	}
	var cr struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&cr); err != nil {
		return 0, err
	}
	return cr.Count, nil
}

// DeleteDocument 删除某个文档的全部 chunk。
func (s *Store) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"document_id": documentID},
		},
	}
	body, err := json.Marshal(query)
	if err != nil {
		return 0, err
	}
	res, err := s.client.DeleteByQuery(
		[]string{s.index},
		bytes.NewReader(body),
		s.client.DeleteByQuery.WithRefresh(true),
		s.client.DeleteByQuery.WithContext(ctx),
	)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return 0, responseError("按文档删除", res)
	}
	var dr struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&dr); err != nil {
		return 0, err
	}
	return dr.Deleted, nil
}

// Drop 删除整个索引，索引不存在时视为成功。
func (s *Store) Drop(ctx context.Context) error {
	res, err := s.client.Indices.Delete([]string{s.index}, s.client.Indices.Delete.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("删除索引", res)
	}
	log.Infof("索引 '%s' 已删除", s.index)
	return nil
}

func responseError(op string, res *esapi.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return fmt.Errorf("%s时 Elasticsearch 返回错误 [%d]: %s", op, res.StatusCode, strings.TrimSpace(string(body)))
}
