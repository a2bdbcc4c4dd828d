// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/pipeline"
	"github.com/darshan-sc/lab-assistant/internal/repository"
	"github.com/darshan-sc/lab-assistant/pkg/embedding"
	"github.com/darshan-sc/lab-assistant/pkg/es"
	"github.com/darshan-sc/lab-assistant/pkg/log"
)

// ErrScopeAccessDenied 表示用户无权访问所请求的范围。
var ErrScopeAccessDenied = errors.New("无权访问该检索范围")

// RetrievalService 定义了向量检索操作的接口。
type RetrievalService interface {
	// Retrieve 在给定范围内检索与问题最相关的 chunk，按相似度降序、
	// 序号升序排列。范围内没有已完成索引的文档时返回 pipeline.ErrScopeEmpty。
	Retrieve(ctx context.Context, question string, scope model.QueryScope, user *model.User) ([]model.RetrievedChunk, error)
}

type retrievalService struct {
	docRepo     repository.DocumentRepository
	projectRepo repository.ProjectRepository
	embedder    embedding.Client
}

// NewRetrievalService 创建一个新的 RetrievalService 实例。
func NewRetrievalService(docRepo repository.DocumentRepository, projectRepo repository.ProjectRepository, embedder embedding.Client) RetrievalService {
	return &retrievalService{
		docRepo:     docRepo,
		projectRepo: projectRepo,
		embedder:    embedder,
	}
}

// Retrieve 实现范围受限的向量检索。
// 候选集只包含 completed 状态文档的 chunk：正在索引或索引失败的文档
// 对查询完全不可见，重建索引期间也不会读到新旧混杂的 chunk。
func (s *retrievalService) Retrieve(ctx context.Context, question string, scope model.QueryScope, user *model.User) ([]model.RetrievedChunk, error) {
	if !scope.Valid() {
		return nil, errors.New("检索范围必须且只能指定文档或项目之一")
	}

	documentIDs, err := s.resolveScope(scope, user)
	if err != nil {
		return nil, err
	}
	if len(documentIDs) == 0 {
		return nil, pipeline.ErrScopeEmpty
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("问题向量化失败: %w", err)
	}

	topK := config.Conf.RAG.TopK
	results, err := es.SearchChunks(ctx, config.Conf.Elasticsearch.IndexName, vector, documentIDs, topK)
	if err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}
	if len(results) == 0 {
		return nil, pipeline.ErrScopeEmpty
	}

	// 相似度降序，同分时序号小者优先，保证结果确定
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SeqIndex < results[j].SeqIndex
	})
	if len(results) > topK {
		results = results[:topK]
	}

	log.Infof("[RetrievalService] 用户 %d 检索到 %d 个 chunk", user.ID, len(results))
	return results, nil
}

// resolveScope 将范围解析为允许检索的 completed 文档 ID 集合，并做访问控制。
func (s *retrievalService) resolveScope(scope model.QueryScope, user *model.User) ([]uint, error) {
	if scope.DocumentID != nil {
		doc, err := s.docRepo.FindByID(*scope.DocumentID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrScopeAccessDenied
			}
			return nil, err
		}
		if err := s.ensureDocumentAccess(doc, user); err != nil {
			return nil, err
		}
		return s.docRepo.CompletedIDsByDocument(doc.ID)
	}

	if err := s.ensureProjectMember(*scope.ProjectID, user); err != nil {
		return nil, err
	}
	return s.docRepo.CompletedIDsByProject(*scope.ProjectID)
}

// ensureDocumentAccess 文档属主或其所在项目的成员可以访问。
func (s *retrievalService) ensureDocumentAccess(doc *model.Document, user *model.User) error {
	if doc.UserID == user.ID {
		return nil
	}
	if doc.ProjectID != nil {
		return s.ensureProjectMember(*doc.ProjectID, user)
	}
	return ErrScopeAccessDenied
}

func (s *retrievalService) ensureProjectMember(projectID uint, user *model.User) error {
	_, err := s.projectRepo.FindMember(projectID, user.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrScopeAccessDenied
	}
	return err
}
