package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/pipeline"
	"github.com/darshan-sc/lab-assistant/pkg/es"
)

// fakeEmbedder 返回固定向量。
type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{0.1, 0.2, 0.3, 0.4}
	}
	return vectors, nil
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) ModelVersion() string { return "fake-embedding-v1" }

// fakeDocRepo 是 DocumentRepository 的内存桩。
type fakeDocRepo struct {
	docs         map[uint]*model.Document
	completedIDs []uint

	failedReason   string
	markedFailed   bool
	markedComplete bool
	savedSections  []model.Section
}

func (r *fakeDocRepo) Create(doc *model.Document) error { return nil }
func (r *fakeDocRepo) FindByID(id uint) (*model.Document, error) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return doc, nil
}
func (r *fakeDocRepo) FindByUser(userID uint, offset, limit int) ([]model.Document, int64, error) {
	return nil, 0, nil
}
func (r *fakeDocRepo) FindByProject(projectID uint) ([]model.Document, error) { return nil, nil }
func (r *fakeDocRepo) Update(doc *model.Document) error                       { return nil }
func (r *fakeDocRepo) Delete(id uint) error                                   { return nil }
func (r *fakeDocRepo) TryMarkProcessing(id uint) (bool, error)                { return true, nil }
func (r *fakeDocRepo) SaveExtraction(id uint, title, abstract, text, pageMap string) error {
	return nil
}
func (r *fakeDocRepo) MarkCompleted(id uint) error {
	r.markedComplete = true
	return nil
}
func (r *fakeDocRepo) MarkFailed(id uint, reason string) error {
	r.markedFailed = true
	r.failedReason = reason
	return nil
}
func (r *fakeDocRepo) ReplaceSections(documentID uint, sections []model.Section) error {
	r.savedSections = sections
	return nil
}
func (r *fakeDocRepo) FindSections(documentID uint) ([]model.Section, error) { return nil, nil }
func (r *fakeDocRepo) CompletedIDsByDocument(documentID uint) ([]uint, error) {
	return r.completedIDs, nil
}
func (r *fakeDocRepo) CompletedIDsByProject(projectID uint) ([]uint, error) {
	return r.completedIDs, nil
}

// fakeProjectRepo 是 ProjectRepository 的内存桩，只关心成员查询。
type fakeProjectRepo struct {
	members map[string]*model.ProjectMember // key: "projectID/userID"
}

func memberKey(projectID, userID uint) string { return fmt.Sprintf("%d/%d", projectID, userID) }

func (r *fakeProjectRepo) Create(project *model.Project) error          { return nil }
func (r *fakeProjectRepo) FindByID(id uint) (*model.Project, error)     { return nil, gorm.ErrRecordNotFound }
func (r *fakeProjectRepo) FindByUser(userID uint) ([]model.Project, error) { return nil, nil }
func (r *fakeProjectRepo) Update(project *model.Project) error          { return nil }
func (r *fakeProjectRepo) Delete(id uint) error                         { return nil }
func (r *fakeProjectRepo) AddMember(member *model.ProjectMember) error  { return nil }
func (r *fakeProjectRepo) RemoveMember(projectID, userID uint) error    { return nil }
func (r *fakeProjectRepo) FindMember(projectID, userID uint) (*model.ProjectMember, error) {
	member, ok := r.members[memberKey(projectID, userID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return member, nil
}
func (r *fakeProjectRepo) FindMembers(projectID uint) ([]model.ProjectMember, error) {
	return nil, nil
}
func (r *fakeProjectRepo) CreateInvite(invite *model.ProjectInvite) error { return nil }
func (r *fakeProjectRepo) FindInviteByCode(code string) (*model.ProjectInvite, error) {
	return nil, gorm.ErrRecordNotFound
}
func (r *fakeProjectRepo) DeactivateInvite(id uint) error { return nil }

// startFakeES 把全局 ES 客户端指向一个返回固定响应的测试服务器。
func startFakeES(t *testing.T, searchBody string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// v8 客户端校验产品响应头
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, searchBody)
	}))

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	es.ESClient = client

	config.Conf.Elasticsearch.IndexName = "test_chunks"
	return srv
}

func esHit(score float64, docID uint, seq int) string {
	return fmt.Sprintf(`{"_score":%g,"_source":{"document_id":%d,"chunk_id":%d,"seq_index":%d,"section_label":"Body","page":1,"content":"chunk-%d"}}`,
		score, docID, uint(seq)+100, seq, seq)
}

func TestRetrieveOrdersByScoreThenSeq(t *testing.T) {
	body := fmt.Sprintf(`{"hits":{"hits":[%s,%s,%s]}}`,
		esHit(0.5, 1, 3), esHit(0.9, 1, 1), esHit(0.5, 1, 0))
	srv := startFakeES(t, body)
	defer srv.Close()
	config.Conf.RAG.TopK = 5

	user := &model.User{ID: 7}
	docRepo := &fakeDocRepo{
		docs:         map[uint]*model.Document{1: {ID: 1, UserID: 7, Status: model.DocStatusCompleted}},
		completedIDs: []uint{1},
	}
	svc := NewRetrievalService(docRepo, &fakeProjectRepo{}, &fakeEmbedder{})

	docID := uint(1)
	results, err := svc.Retrieve(context.Background(), "q", model.QueryScope{DocumentID: &docID}, user)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// 相似度降序，同分时序号小者在前
	assert.Equal(t, 1, results[0].SeqIndex)
	assert.Equal(t, 0, results[1].SeqIndex)
	assert.Equal(t, 3, results[2].SeqIndex)
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	body := fmt.Sprintf(`{"hits":{"hits":[%s,%s,%s]}}`,
		esHit(0.9, 1, 0), esHit(0.8, 1, 1), esHit(0.7, 1, 2))
	srv := startFakeES(t, body)
	defer srv.Close()
	config.Conf.RAG.TopK = 2

	user := &model.User{ID: 7}
	docRepo := &fakeDocRepo{
		docs:         map[uint]*model.Document{1: {ID: 1, UserID: 7, Status: model.DocStatusCompleted}},
		completedIDs: []uint{1},
	}
	svc := NewRetrievalService(docRepo, &fakeProjectRepo{}, &fakeEmbedder{})

	docID := uint(1)
	results, err := svc.Retrieve(context.Background(), "q", model.QueryScope{DocumentID: &docID}, user)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieveScopeWithoutCompletedDocs(t *testing.T) {
	// 范围解析结果为空时不访问 ES，直接返回 ErrScopeEmpty
	user := &model.User{ID: 7}
	docRepo := &fakeDocRepo{
		docs:         map[uint]*model.Document{1: {ID: 1, UserID: 7, Status: model.DocStatusProcessing}},
		completedIDs: nil,
	}
	svc := NewRetrievalService(docRepo, &fakeProjectRepo{}, &fakeEmbedder{})

	docID := uint(1)
	_, err := svc.Retrieve(context.Background(), "q", model.QueryScope{DocumentID: &docID}, user)
	assert.ErrorIs(t, err, pipeline.ErrScopeEmpty)
}

func TestRetrieveScopeWithoutHits(t *testing.T) {
	srv := startFakeES(t, `{"hits":{"hits":[]}}`)
	defer srv.Close()
	config.Conf.RAG.TopK = 5

	user := &model.User{ID: 7}
	docRepo := &fakeDocRepo{
		docs:         map[uint]*model.Document{1: {ID: 1, UserID: 7, Status: model.DocStatusCompleted}},
		completedIDs: []uint{1},
	}
	svc := NewRetrievalService(docRepo, &fakeProjectRepo{}, &fakeEmbedder{})

	docID := uint(1)
	_, err := svc.Retrieve(context.Background(), "q", model.QueryScope{DocumentID: &docID}, user)
	assert.ErrorIs(t, err, pipeline.ErrScopeEmpty)
}

func TestRetrieveDeniesForeignDocument(t *testing.T) {
	user := &model.User{ID: 7}
	docRepo := &fakeDocRepo{
		docs: map[uint]*model.Document{1: {ID: 1, UserID: 99, Status: model.DocStatusCompleted}},
	}
	svc := NewRetrievalService(docRepo, &fakeProjectRepo{}, &fakeEmbedder{})

	docID := uint(1)
	_, err := svc.Retrieve(context.Background(), "q", model.QueryScope{DocumentID: &docID}, user)
	assert.ErrorIs(t, err, ErrScopeAccessDenied)
}

func TestRetrieveProjectScopeRequiresMembership(t *testing.T) {
	user := &model.User{ID: 7}
	svc := NewRetrievalService(&fakeDocRepo{}, &fakeProjectRepo{}, &fakeEmbedder{})

	projectID := uint(3)
	_, err := svc.Retrieve(context.Background(), "q", model.QueryScope{ProjectID: &projectID}, user)
	assert.ErrorIs(t, err, ErrScopeAccessDenied)
}

func TestRetrieveRejectsInvalidScope(t *testing.T) {
	user := &model.User{ID: 7}
	svc := NewRetrievalService(&fakeDocRepo{}, &fakeProjectRepo{}, &fakeEmbedder{})

	_, err := svc.Retrieve(context.Background(), "q", model.QueryScope{}, user)
	assert.Error(t, err)
}
