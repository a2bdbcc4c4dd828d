package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-sc/lab-assistant/internal/config"
)

func testConfig(baseURL string) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "text-embedding-3-small",
		Dimensions:  4,
		BatchSize:   2,
		MaxRetries:  2,
		RetryBaseMS: 1,
		TimeoutSec:  5,
	}
}

// echoServer 为每条输入文本返回一个定长向量。
func echoServer(t *testing.T, requestCount *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requestCount, 1)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		data := make([]map[string]interface{}, 0, len(req.Input))
		for range req.Input {
			data = append(data, map[string]interface{}{"embedding": []float32{0.1, 0.2, 0.3, 0.4}})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func TestEmbedBatchSplitsIntoBatches(t *testing.T) {
	var requests int32
	srv := echoServer(t, &requests)
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	texts := []string{"一", "二", "三", "四", "五"}

	vectors, err := client.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)

	assert.Len(t, vectors, 5)
	for _, v := range vectors {
		assert.Len(t, v, 4)
	}
	// BatchSize=2，5 条文本应当发出 3 次请求
	assert.EqualValues(t, 3, atomic.LoadInt32(&requests))
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:1"))
	vectors, err := client.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestEmbedRetriesOnTransientErrors(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&requests, 1)
		if n <= 2 {
			// 前两次分别返回限流与服务端错误
			if n == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
			} else {
				w.WriteHeader(http.StatusInternalServerError)
			}
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{1, 2, 3, 4}}},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	vector, err := client.Embed(context.Background(), "question")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3, 4}, vector)
	assert.EqualValues(t, 3, atomic.LoadInt32(&requests))
}

func TestEmbedDoesNotRetryClientErrors(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Embed(context.Background(), "question")
	require.Error(t, err)
	// 400 不是瞬时错误，只应请求一次
	assert.EqualValues(t, 1, atomic.LoadInt32(&requests))
}

func TestEmbedFailsAfterRetryBudget(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Embed(context.Background(), "question")
	require.Error(t, err)
	// 首次 + MaxRetries(2) 次重试
	assert.EqualValues(t, 3, atomic.LoadInt32(&requests))
}

func TestEmbedBatchRejectsCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 两条输入只返回一个向量
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{1, 2, 3, 4}}},
		})
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.EmbedBatch(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不一致")
}

func TestEmbedRejectsEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"embedding":[]}]}`)
	}))
	defer srv.Close()

	client := NewClient(testConfig(srv.URL))
	_, err := client.Embed(context.Background(), "question")
	require.Error(t, err)
}

func TestModelVersion(t *testing.T) {
	client := NewClient(testConfig("http://127.0.0.1:1"))
	assert.Equal(t, "text-embedding-3-small", client.ModelVersion())
}
