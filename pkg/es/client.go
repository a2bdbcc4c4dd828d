// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// 向量维度必须与 embedding 模型一致，cosine 相似度
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"document_id": { "type": "long" },
				"chunk_id": { "type": "long" },
				"seq_index": { "type": "integer" },
				"section_label": { "type": "keyword" },
				"page": { "type": "integer" },
				"content": {
					"type": "text",
					"analyzer": "ik_max_word",
					"search_analyzer": "ik_smart"
				},
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"user_id": { "type": "long" }
			}
		}
	}`, dims)

	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(strings.NewReader(mapping)),
	)

	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// BulkIndexChunks 将一篇文档的全部向量以单次 bulk 请求写入 Elasticsearch。
// vector_id 作为文档 ID，重复写入同一 chunk 为幂等覆盖。
func BulkIndexChunks(ctx context.Context, indexName string, chunks []model.EsChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, chunk := range chunks {
		meta := fmt.Sprintf(`{"index":{"_index":%q,"_id":%q}}`, indexName, chunk.VectorID)
		buf.WriteString(meta)
		buf.WriteByte('\n')
		docBytes, err := json.Marshal(chunk)
		if err != nil {
			return fmt.Errorf("序列化 chunk %s 失败: %w", chunk.VectorID, err)
		}
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}

	res, err := ESClient.Bulk(
		bytes.NewReader(buf.Bytes()),
		ESClient.Bulk.WithContext(ctx),
		ESClient.Bulk.WithRefresh("true"),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("bulk 索引到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to bulk index chunks")
	}

	// bulk 整体 200 时仍可能有单条失败，需要逐项检查
	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Error *json.RawMessage `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, op := range item {
				if op.Error != nil {
					return fmt.Errorf("bulk 索引存在失败项: %s", string(*op.Error))
				}
			}
		}
		return errors.New("bulk 索引存在失败项")
	}

	return nil
}

// DeleteByDocumentID 删除指定文档在 Elasticsearch 中的全部向量。
func DeleteByDocumentID(ctx context.Context, indexName string, documentID uint) error {
	query := fmt.Sprintf(`{"query":{"term":{"document_id":%d}}}`, documentID)

	req := esapi.DeleteByQueryRequest{
		Index:   []string{indexName},
		Body:    strings.NewReader(query),
		Refresh: esapi.BoolPtr(true),
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("删除文档 %d 的向量出错: %s", documentID, res.String())
		return errors.New("failed to delete chunks by document id")
	}
	return nil
}

// knnQuery 是 kNN 检索请求体，filter 将候选集限制在给定文档 ID 内。
type knnQuery struct {
	KNN struct {
		Field         string      `json:"field"`
		QueryVector   []float32   `json:"query_vector"`
		K             int         `json:"k"`
		NumCandidates int         `json:"num_candidates"`
		Filter        interface{} `json:"filter,omitempty"`
	} `json:"knn"`
	Source []string `json:"_source"`
}

// SearchChunks 在给定文档 ID 集合内做 kNN 向量检索，返回至多 topK 条命中。
// documentIDs 为空直接返回空结果，不访问 Elasticsearch。
func SearchChunks(ctx context.Context, indexName string, vector []float32, documentIDs []uint, topK int) ([]model.RetrievedChunk, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}

	var query knnQuery
	query.KNN.Field = "vector"
	query.KNN.QueryVector = vector
	query.KNN.K = topK
	query.KNN.NumCandidates = topK * 10
	query.KNN.Filter = map[string]interface{}{
		"terms": map[string]interface{}{"document_id": documentIDs},
	}
	query.Source = []string{"document_id", "chunk_id", "seq_index", "section_label", "page", "content"}

	queryBytes, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(bytes.NewReader(queryBytes)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("Elasticsearch 向量检索出错: %s", res.String())
		return nil, errors.New("failed to search chunks")
	}

	var searchResp struct {
		Hits struct {
			Hits []struct {
				Score  float64 `json:"_score"`
				Source struct {
					DocumentID   uint   `json:"document_id"`
					ChunkID      uint   `json:"chunk_id"`
					SeqIndex     int    `json:"seq_index"`
					SectionLabel string `json:"section_label"`
					Page         int    `json:"page"`
					Content      string `json:"content"`
				} `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("解析检索响应失败: %w", err)
	}

	results := make([]model.RetrievedChunk, 0, len(searchResp.Hits.Hits))
	for _, hit := range searchResp.Hits.Hits {
		results = append(results, model.RetrievedChunk{
			DocumentID:   hit.Source.DocumentID,
			ChunkID:      hit.Source.ChunkID,
			SeqIndex:     hit.Source.SeqIndex,
			SectionLabel: hit.Source.SectionLabel,
			Page:         hit.Source.Page,
			Content:      hit.Source.Content,
			Score:        hit.Score,
		})
	}
	return results, nil
}
