// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/repository"
	"github.com/darshan-sc/lab-assistant/pkg/es"
	"github.com/darshan-sc/lab-assistant/pkg/kafka"
	"github.com/darshan-sc/lab-assistant/pkg/log"
	"github.com/darshan-sc/lab-assistant/pkg/storage"
	"github.com/darshan-sc/lab-assistant/pkg/tasks"
	"github.com/darshan-sc/lab-assistant/pkg/token"
)

// ErrDocumentProcessing 表示文档正在索引中，当前操作被拒绝。
var ErrDocumentProcessing = errors.New("文档正在索引中，请稍后再试")

// ErrDocumentAccessDenied 表示用户无权操作该文档。
var ErrDocumentAccessDenied = errors.New("文档不存在或无权访问")

// 允许上传的文件扩展名。
var allowedExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".txt": true, ".md": true,
}

// DocumentService 接口定义了文档管理相关的业务操作。
type DocumentService interface {
	// Upload 保存原始文件并创建 pending 状态的文档记录，随后投递索引任务。
	Upload(ctx context.Context, user *model.User, projectID *uint, fileHeader *multipart.FileHeader) (*model.Document, error)
	// Reindex 对已存在的文档发起重建索引。processing 状态的文档会被拒绝。
	Reindex(user *model.User, documentID uint) error
	List(user *model.User, page, size int) ([]model.DocumentDTO, int64, error)
	Get(user *model.User, documentID uint) (*model.DocumentDTO, error)
	// Delete 级联删除文档：MinIO 对象、chunk、ES 向量与元数据。
	Delete(user *model.User, documentID uint) error
}

type documentService struct {
	docRepo     repository.DocumentRepository
	chunkRepo   repository.ChunkRepository
	projectRepo repository.ProjectRepository
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(docRepo repository.DocumentRepository, chunkRepo repository.ChunkRepository, projectRepo repository.ProjectRepository) DocumentService {
	return &documentService{
		docRepo:     docRepo,
		chunkRepo:   chunkRepo,
		projectRepo: projectRepo,
	}
}

// Upload 处理文献上传。
func (s *documentService) Upload(ctx context.Context, user *model.User, projectID *uint, fileHeader *multipart.FileHeader) (*model.Document, error) {
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedExtensions[ext] {
		return nil, fmt.Errorf("不支持的文件类型: %s", ext)
	}
	maxBytes := config.Conf.Upload.MaxUploadMB << 20
	if fileHeader.Size > maxBytes {
		return nil, fmt.Errorf("文件超过大小限制 %dMB", config.Conf.Upload.MaxUploadMB)
	}

	// 上传到项目下时要求调用者是项目成员
	if projectID != nil {
		if _, err := s.projectRepo.FindMember(*projectID, user.ID); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrScopeAccessDenied
			}
			return nil, err
		}
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("读取上传文件失败: %w", err)
	}
	defer file.Close()

	// 对象名带随机段，同名文件互不覆盖
	objectKey := fmt.Sprintf("documents/%d/%s_%s", user.ID, token.GenerateRandomString(8), fileHeader.Filename)
	contentType := fileHeader.Header.Get("Content-Type")
	if err := storage.UploadObject(ctx, objectKey, file, fileHeader.Size, contentType); err != nil {
		return nil, fmt.Errorf("保存原始文件失败: %w", err)
	}

	doc := &model.Document{
		UserID:    user.ID,
		ProjectID: projectID,
		FileName:  fileHeader.Filename,
		ObjectKey: objectKey,
		FileSize:  fileHeader.Size,
		Status:    model.DocStatusPending,
	}
	if err := s.docRepo.Create(doc); err != nil {
		return nil, fmt.Errorf("创建文档记录失败: %w", err)
	}

	task := tasks.DocumentIndexTask{
		DocumentID: doc.ID,
		ObjectKey:  objectKey,
		FileName:   doc.FileName,
		UserID:     user.ID,
	}
	if err := kafka.ProduceIndexTask(task); err != nil {
		// 任务投递失败时文档停留在 pending，可通过重建索引再次触发
		log.Errorf("投递索引任务失败: DocumentID=%d, %v", doc.ID, err)
		return nil, fmt.Errorf("投递索引任务失败: %w", err)
	}

	log.Infof("[DocumentService] 用户 %d 上传文档 %d (%s)", user.ID, doc.ID, doc.FileName)
	return doc, nil
}

// Reindex 发起重建索引。
func (s *documentService) Reindex(user *model.User, documentID uint) error {
	doc, err := s.findAccessible(user, documentID)
	if err != nil {
		return err
	}
	if doc.Status == model.DocStatusProcessing {
		return ErrDocumentProcessing
	}

	task := tasks.DocumentIndexTask{
		DocumentID: doc.ID,
		ObjectKey:  doc.ObjectKey,
		FileName:   doc.FileName,
		UserID:     doc.UserID,
		Reindex:    true,
	}
	if err := kafka.ProduceIndexTask(task); err != nil {
		return fmt.Errorf("投递索引任务失败: %w", err)
	}
	log.Infof("[DocumentService] 文档 %d 重建索引任务已投递", doc.ID)
	return nil
}

// List 分页返回用户自己的文档。
func (s *documentService) List(user *model.User, page, size int) ([]model.DocumentDTO, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	docs, total, err := s.docRepo.FindByUser(user.ID, (page-1)*size, size)
	if err != nil {
		return nil, 0, err
	}

	dtos := make([]model.DocumentDTO, 0, len(docs))
	for _, doc := range docs {
		dtos = append(dtos, s.toDTO(doc))
	}
	return dtos, total, nil
}

// Get 返回单篇文档的详情（含处理状态，可用于轮询）。
func (s *documentService) Get(user *model.User, documentID uint) (*model.DocumentDTO, error) {
	doc, err := s.findAccessible(user, documentID)
	if err != nil {
		return nil, err
	}
	dto := s.toDTO(*doc)
	if url, err := storage.GetPresignedURL(config.Conf.MinIO.BucketName, doc.ObjectKey, 15*time.Minute); err == nil {
		dto.DownloadURL = url
	}
	if chunks, err := s.chunkRepo.FindByDocument(doc.ID); err == nil {
		dto.ChunkCount = len(chunks)
	}
	return &dto, nil
}

// Delete 级联删除文档及其所有派生数据。
func (s *documentService) Delete(user *model.User, documentID uint) error {
	doc, err := s.findAccessible(user, documentID)
	if err != nil {
		return err
	}
	if doc.UserID != user.ID && user.Role != "ADMIN" {
		return ErrDocumentAccessDenied
	}
	if doc.Status == model.DocStatusProcessing {
		return ErrDocumentProcessing
	}

	ctx := context.Background()
	if err := storage.DeleteObject(ctx, doc.ObjectKey); err != nil {
		// 对象删除失败不阻塞元数据清理，留给后续对账
		log.Errorf("删除 MinIO 对象失败: %s, %v", doc.ObjectKey, err)
	}
	if err := es.DeleteByDocumentID(ctx, config.Conf.Elasticsearch.IndexName, doc.ID); err != nil {
		return fmt.Errorf("删除向量失败: %w", err)
	}
	if err := s.chunkRepo.DeleteByDocument(doc.ID); err != nil {
		return fmt.Errorf("删除 chunk 失败: %w", err)
	}
	if err := s.docRepo.Delete(doc.ID); err != nil {
		return fmt.Errorf("删除文档记录失败: %w", err)
	}
	log.Infof("[DocumentService] 文档 %d 已删除", doc.ID)
	return nil
}

// findAccessible 查找文档并做访问控制：属主或所在项目成员可访问。
func (s *documentService) findAccessible(user *model.User, documentID uint) (*model.Document, error) {
	doc, err := s.docRepo.FindByID(documentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentAccessDenied
		}
		return nil, err
	}
	if doc.UserID == user.ID {
		return doc, nil
	}
	if doc.ProjectID != nil {
		if _, err := s.projectRepo.FindMember(*doc.ProjectID, user.ID); err == nil {
			return doc, nil
		}
	}
	return nil, ErrDocumentAccessDenied
}

func (s *documentService) toDTO(doc model.Document) model.DocumentDTO {
	dto := model.DocumentDTO{
		Document:       doc,
		CreatedAtLocal: model.LocalTime(doc.CreatedAt),
	}
	if doc.ProjectID != nil {
		if project, err := s.projectRepo.FindByID(*doc.ProjectID); err == nil {
			dto.ProjectName = project.Name
		}
	}
	return dto
}
