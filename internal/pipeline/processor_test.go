package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/pkg/es"
	"github.com/darshan-sc/lab-assistant/pkg/tasks"
)

// stubEmbedder 可配置为全部成功或全部失败。
type stubEmbedder struct {
	err   error
	calls int
}

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *stubEmbedder) ModelVersion() string { return "stub-v1" }

// memDocRepo 只实现处理链路用到的行为，其余方法为空操作。
type memDocRepo struct {
	doc      *model.Document
	sections []model.Section

	acquire        bool
	markedComplete bool
	markedFailed   bool
	failedReason   string
}

func (r *memDocRepo) Create(doc *model.Document) error { return nil }
func (r *memDocRepo) FindByID(id uint) (*model.Document, error) {
	if r.doc == nil || r.doc.ID != id {
		return nil, errors.New("document not found")
	}
	return r.doc, nil
}
func (r *memDocRepo) FindByUser(userID uint, offset, limit int) ([]model.Document, int64, error) {
	return nil, 0, nil
}
func (r *memDocRepo) FindByProject(projectID uint) ([]model.Document, error) { return nil, nil }
func (r *memDocRepo) Update(doc *model.Document) error                       { return nil }
func (r *memDocRepo) Delete(id uint) error                                   { return nil }
func (r *memDocRepo) TryMarkProcessing(id uint) (bool, error)                { return r.acquire, nil }
func (r *memDocRepo) SaveExtraction(id uint, title, abstract, text, pageMap string) error {
	return nil
}
func (r *memDocRepo) MarkCompleted(id uint) error {
	r.markedComplete = true
	return nil
}
func (r *memDocRepo) MarkFailed(id uint, reason string) error {
	r.markedFailed = true
	r.failedReason = reason
	return nil
}
func (r *memDocRepo) ReplaceSections(documentID uint, sections []model.Section) error { return nil }
func (r *memDocRepo) FindSections(documentID uint) ([]model.Section, error) {
	return r.sections, nil
}
func (r *memDocRepo) CompletedIDsByDocument(documentID uint) ([]uint, error) { return nil, nil }
func (r *memDocRepo) CompletedIDsByProject(projectID uint) ([]uint, error)  { return nil, nil }

// memChunkRepo 记录整表替换是否发生以及写入了什么。
type memChunkRepo struct {
	replaced bool
	chunks   []*model.Chunk
}

func (r *memChunkRepo) ReplaceForDocument(documentID uint, chunks []*model.Chunk) error {
	r.replaced = true
	r.chunks = chunks
	return nil
}
func (r *memChunkRepo) FindByDocument(documentID uint) ([]*model.Chunk, error) {
	return r.chunks, nil
}
func (r *memChunkRepo) DeleteByDocument(documentID uint) error { return nil }

// esRecorder 是一个伪 Elasticsearch，记录收到的请求路径。
type esRecorder struct {
	mu    sync.Mutex
	paths []string
}

func (rec *esRecorder) record(path string) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.paths = append(rec.paths, path)
}

func (rec *esRecorder) seen(substr string) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, p := range rec.paths {
		if strings.Contains(p, substr) {
			return true
		}
	}
	return false
}

func (rec *esRecorder) count() int {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.paths)
}

func startRecordingES(t *testing.T, bulkBody string) (*esRecorder, *httptest.Server) {
	t.Helper()
	rec := &esRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r.URL.Path)
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/_delete_by_query"):
			fmt.Fprint(w, `{"deleted":0}`)
		case strings.HasSuffix(r.URL.Path, "/_bulk"):
			fmt.Fprint(w, bulkBody)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	es.ESClient = client
	return rec, srv
}

func setPipelineConfig() {
	config.Conf.RAG.ChunkSize = 400
	config.Conf.RAG.ChunkOverlap = 50
	config.Conf.Elasticsearch.IndexName = "test_chunks"
}

// reindexDoc 构造一篇带缓存抽取结果的文档，走重建索引路径即可绕开 MinIO 与 Tika。
func reindexDoc(text string) *model.Document {
	return &model.Document{
		ID:            42,
		UserID:        7,
		FileName:      "paper.pdf",
		ExtractedText: text,
		PageMap:       `[{"offset":0,"page":1}]`,
		Status:        model.DocStatusCompleted,
	}
}

func TestProcessSkipsWhenAnotherRunHoldsDocument(t *testing.T) {
	setPipelineConfig()
	docRepo := &memDocRepo{acquire: false}
	chunkRepo := &memChunkRepo{}
	processor := NewProcessor(docRepo, chunkRepo, nil, &stubEmbedder{}, nil)

	err := processor.Process(context.Background(), tasks.DocumentIndexTask{DocumentID: 42})
	require.NoError(t, err)

	assert.False(t, chunkRepo.replaced)
	assert.False(t, docRepo.markedComplete)
	assert.False(t, docRepo.markedFailed)
}

func TestProcessEmbeddingFailureLeavesStoresUntouched(t *testing.T) {
	setPipelineConfig()
	rec, srv := startRecordingES(t, `{"errors":false,"items":[]}`)
	defer srv.Close()

	text := strings.Repeat("测", 100)
	docRepo := &memDocRepo{
		acquire:  true,
		doc:      reindexDoc(text),
		sections: []model.Section{{DocumentID: 42, Label: "Body", StartOffset: 0, EndOffset: 100}},
	}
	chunkRepo := &memChunkRepo{}
	embedder := &stubEmbedder{err: errors.New("embedding provider unavailable")}
	processor := NewProcessor(docRepo, chunkRepo, nil, embedder, nil)

	err := processor.Process(context.Background(), tasks.DocumentIndexTask{DocumentID: 42, Reindex: true})
	require.Error(t, err)

	var indexErr *IndexingError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, "embedding", indexErr.Stage)

	// 向量化失败时既不改 MySQL 也不碰 ES，旧 chunk 集保持可用
	assert.False(t, chunkRepo.replaced)
	assert.Equal(t, 0, rec.count())
	assert.True(t, docRepo.markedFailed)
	assert.False(t, docRepo.markedComplete)
}

func TestProcessReindexReplacesChunksAndVectors(t *testing.T) {
	setPipelineConfig()
	rec, srv := startRecordingES(t, `{"errors":false,"items":[]}`)
	defer srv.Close()

	text := strings.Repeat("甲", 600)
	docRepo := &memDocRepo{
		acquire:  true,
		doc:      reindexDoc(text),
		sections: []model.Section{{DocumentID: 42, Label: "Body", StartOffset: 0, EndOffset: 600}},
	}
	chunkRepo := &memChunkRepo{}
	embedder := &stubEmbedder{}
	processor := NewProcessor(docRepo, chunkRepo, nil, embedder, nil)

	err := processor.Process(context.Background(), tasks.DocumentIndexTask{DocumentID: 42, Reindex: true})
	require.NoError(t, err)

	require.True(t, chunkRepo.replaced)
	require.NotEmpty(t, chunkRepo.chunks)
	for i, chunk := range chunkRepo.chunks {
		assert.Equal(t, uint(42), chunk.DocumentID)
		assert.Equal(t, i, chunk.SeqIndex)
		assert.Equal(t, "Body", chunk.SectionLabel)
		assert.Equal(t, 1, chunk.Page)
		assert.Equal(t, "stub-v1", chunk.ModelVersion)
		assert.Equal(t, chunk.EndOffset-chunk.StartOffset, utf8.RuneCountInString(chunk.Content))
	}

	// 先清旧向量，再整批写入
	assert.True(t, rec.seen("_delete_by_query"))
	assert.True(t, rec.seen("_bulk"))
	assert.True(t, docRepo.markedComplete)
	assert.False(t, docRepo.markedFailed)
}

func TestProcessReindexWithoutStoredSectionsFallsBack(t *testing.T) {
	setPipelineConfig()
	_, srv := startRecordingES(t, `{"errors":false,"items":[]}`)
	defer srv.Close()

	text := strings.Repeat("乙", 80)
	docRepo := &memDocRepo{acquire: true, doc: reindexDoc(text)}
	chunkRepo := &memChunkRepo{}
	processor := NewProcessor(docRepo, chunkRepo, nil, &stubEmbedder{}, nil)

	err := processor.Process(context.Background(), tasks.DocumentIndexTask{DocumentID: 42, Reindex: true})
	require.NoError(t, err)

	require.Len(t, chunkRepo.chunks, 1)
	assert.Equal(t, model.SectionLabelUnlabeled, chunkRepo.chunks[0].SectionLabel)
	assert.Equal(t, text, chunkRepo.chunks[0].Content)
}

func TestProcessBulkFailureMarksDocumentFailed(t *testing.T) {
	setPipelineConfig()
	bulkBody := `{"errors":true,"items":[{"index":{"error":{"type":"mapper_parsing_exception"}}}]}`
	_, srv := startRecordingES(t, bulkBody)
	defer srv.Close()

	text := strings.Repeat("丙", 100)
	docRepo := &memDocRepo{
		acquire:  true,
		doc:      reindexDoc(text),
		sections: []model.Section{{DocumentID: 42, Label: "Body", StartOffset: 0, EndOffset: 100}},
	}
	processor := NewProcessor(docRepo, &memChunkRepo{}, nil, &stubEmbedder{}, nil)

	err := processor.Process(context.Background(), tasks.DocumentIndexTask{DocumentID: 42, Reindex: true})
	require.Error(t, err)

	var indexErr *IndexingError
	require.ErrorAs(t, err, &indexErr)
	assert.Equal(t, "es-bulk", indexErr.Stage)
	assert.True(t, docRepo.markedFailed)
}
