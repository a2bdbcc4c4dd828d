// Package embedding provides a client for interacting with embedding models.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/pkg/log"
)

// Client defines the interface for an embedding client.
// 索引与查询必须使用同一实现（同一模型与维度），否则相似度没有意义。
type Client interface {
	// EmbedBatch 为一组文本计算向量，内部按 BatchSize 分批调用 API。
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Embed 为单条文本计算向量（查询侧）。
	Embed(ctx context.Context, text string) ([]float32, error)
	// ModelVersion 返回当前部署使用的模型标识。
	ModelVersion() string
}

type openAICompatibleClient struct {
	cfg    config.EmbeddingConfig
	client *http.Client
}

// NewClient creates a new embedding client based on the provider in the config.
func NewClient(cfg config.EmbeddingConfig) Client {
	return &openAICompatibleClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
		},
	}
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (c *openAICompatibleClient) ModelVersion() string {
	return c.cfg.Model
}

// Embed calls the OpenAI-compatible API to get the vector for a single text.
func (c *openAICompatibleClient) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 将输入按配置的批大小切分，逐批调用 API 并拼接结果。
// 任何一批在重试预算耗尽后仍失败，则整个调用失败（索引按文档全有或全无）。
func (c *openAICompatibleClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batchSize := c.cfg.BatchSize
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("批次 %d 向量化失败: %w", start/batchSize+1, err)
		}
		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

// embedOnce 调用一次 embeddings 接口，对瞬时错误（限流、超时、5xx）做指数退避重试。
func (c *openAICompatibleClient) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	reqBody := embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(c.cfg.RetryBaseMS) * time.Millisecond << (attempt - 1)
			log.Warnf("[EmbeddingClient] 第 %d 次重试，退避 %s, 上次错误: %v", attempt, backoff, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		vectors, retryable, err := c.doRequest(ctx, reqBytes)
		if err == nil {
			if len(vectors) != len(texts) {
				return nil, fmt.Errorf("embedding api 返回向量数 %d 与输入文本数 %d 不一致", len(vectors), len(texts))
			}
			return vectors, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("embedding api 重试 %d 次后仍失败: %w", c.cfg.MaxRetries, lastErr)
}

// doRequest 执行单次 HTTP 调用。返回值 retryable 标记错误是否为瞬时错误。
func (c *openAICompatibleClient) doRequest(ctx context.Context, body []byte) (vectors [][]float32, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create embedding request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		// 网络层错误与超时视为瞬时错误，调用方取消除外
		if errors.Is(err, context.Canceled) {
			return nil, false, err
		}
		return nil, true, fmt.Errorf("failed to call embedding api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("embedding api returned non-200 status: %s", resp.Status)
	}

	var embeddingResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embeddingResp); err != nil {
		return nil, false, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	if len(embeddingResp.Data) == 0 {
		return nil, false, fmt.Errorf("received empty embedding from api")
	}

	result := make([][]float32, 0, len(embeddingResp.Data))
	for _, item := range embeddingResp.Data {
		if len(item.Embedding) == 0 {
			return nil, false, fmt.Errorf("received empty embedding from api")
		}
		result = append(result, item.Embedding)
	}
	return result, false, nil
}
