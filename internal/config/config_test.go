package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  port: "8080"
  mode: "debug"
database:
  mysql:
    dsn: "root:pw@tcp(127.0.0.1:3306)/test"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestInitAppliesPipelineDefaults(t *testing.T) {
	Init(writeConfig(t, minimalYAML))

	assert.Equal(t, "8080", Conf.Server.Port)

	// 管道参数缺省时补齐默认值
	assert.Equal(t, 400, Conf.RAG.ChunkSize)
	assert.Equal(t, 50, Conf.RAG.ChunkOverlap)
	assert.Equal(t, 5, Conf.RAG.TopK)
	assert.Equal(t, 8000, Conf.RAG.MaxStructureChars)
	assert.Equal(t, 1536, Conf.Embedding.Dimensions)
	assert.Equal(t, 16, Conf.Embedding.BatchSize)
	assert.Equal(t, 120, Conf.Tika.TimeoutSec)
	assert.EqualValues(t, 50, Conf.Upload.MaxUploadMB)
}

func TestInitKeepsExplicitValues(t *testing.T) {
	Init(writeConfig(t, minimalYAML+`
rag:
  chunk_size: 600
  chunk_overlap: 100
  top_k: 8
embedding:
  dimensions: 768
`))

	assert.Equal(t, 600, Conf.RAG.ChunkSize)
	assert.Equal(t, 100, Conf.RAG.ChunkOverlap)
	assert.Equal(t, 8, Conf.RAG.TopK)
	assert.Equal(t, 768, Conf.Embedding.Dimensions)
}

func TestInitRejectsOverlapNotBelowChunkSize(t *testing.T) {
	Init(writeConfig(t, minimalYAML+`
rag:
  chunk_size: 100
  chunk_overlap: 100
`))

	// 重叠必须严格小于 chunk 长度，非法值退回默认
	assert.Equal(t, 50, Conf.RAG.ChunkOverlap)
}
