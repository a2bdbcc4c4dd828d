package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/darshan-sc/lab-assistant/internal/config"
	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/repository"
	"github.com/darshan-sc/lab-assistant/pkg/embedding"
	"github.com/darshan-sc/lab-assistant/pkg/es"
	"github.com/darshan-sc/lab-assistant/pkg/log"
	"github.com/darshan-sc/lab-assistant/pkg/storage"
	"github.com/darshan-sc/lab-assistant/pkg/tasks"
	"github.com/darshan-sc/lab-assistant/pkg/tika"
)

// Processor 驱动单篇文档的完整索引链路：
// 抽取 → 结构识别 → 切分 → 向量化 → 持久化。
// 同一文档同一时刻至多一次索引在运行，靠 processing 状态的条件更新保证。
type Processor struct {
	docRepo    repository.DocumentRepository
	chunkRepo  repository.ChunkRepository
	tikaClient *tika.Client
	embedder   embedding.Client
	structure  *StructureExtractor
}

// NewProcessor 创建一个文档处理器。
func NewProcessor(
	docRepo repository.DocumentRepository,
	chunkRepo repository.ChunkRepository,
	tikaClient *tika.Client,
	embedder embedding.Client,
	structure *StructureExtractor,
) *Processor {
	return &Processor{
		docRepo:    docRepo,
		chunkRepo:  chunkRepo,
		tikaClient: tikaClient,
		embedder:   embedder,
		structure:  structure,
	}
}

// Process 处理一个索引任务。返回 nil 表示任务终结（成功，或已由他人处理）；
// 返回 error 表示本次尝试失败，文档已被标记为 failed，消费方可安排重试。
func (p *Processor) Process(ctx context.Context, task tasks.DocumentIndexTask) error {
	// 用条件更新抢占处理权：失败说明另一次索引正在进行，直接放弃
	acquired, err := p.docRepo.TryMarkProcessing(task.DocumentID)
	if err != nil {
		return fmt.Errorf("抢占文档处理权失败: %w", err)
	}
	if !acquired {
		log.Warnf("[Processor] 文档 %d 正在被其他任务索引，跳过", task.DocumentID)
		return nil
	}

	if err := p.run(ctx, task); err != nil {
		log.Errorf("[Processor] 文档 %d 索引失败: %v", task.DocumentID, err)
		if markErr := p.docRepo.MarkFailed(task.DocumentID, err.Error()); markErr != nil {
			log.Errorf("[Processor] 标记文档 %d 失败状态出错: %v", task.DocumentID, markErr)
		}
		return err
	}

	if err := p.docRepo.MarkCompleted(task.DocumentID); err != nil {
		return fmt.Errorf("标记文档完成失败: %w", err)
	}
	log.Infof("[Processor] 文档 %d 索引完成", task.DocumentID)
	return nil
}

// run 执行处理链路主体。任何阶段出错都让整篇文档的本次索引失败；
// 在全部向量就绪之前不落任何 chunk，不存在部分索引的中间态。
func (p *Processor) run(ctx context.Context, task tasks.DocumentIndexTask) error {
	doc, err := p.docRepo.FindByID(task.DocumentID)
	if err != nil {
		return fmt.Errorf("查找文档失败: %w", err)
	}

	var text string
	var pageMap []tika.PageBreak
	var sections []model.Section

	if task.Reindex && doc.ExtractedText != "" {
		// 重建索引复用缓存的抽取与结构结果，跳过 MinIO、Tika 与结构抽取
		text = doc.ExtractedText
		pageMap = parsePageMap(doc.PageMap)
		sections, err = p.docRepo.FindSections(doc.ID)
		if err != nil {
			return fmt.Errorf("加载分区结构失败: %w", err)
		}
		if len(sections) == 0 {
			sections = []model.Section{{
				Label:       model.SectionLabelUnlabeled,
				StartOffset: 0,
				EndOffset:   utf8.RuneCountInString(text),
			}}
		}
	} else {
		text, pageMap, sections, err = p.extractAndAnalyze(ctx, doc)
		if err != nil {
			return err
		}
	}

	pieces := SplitSections(text, sections, ChunkParams{
		Size:    config.Conf.RAG.ChunkSize,
		Overlap: config.Conf.RAG.ChunkOverlap,
	})
	if len(pieces) == 0 {
		return &ExtractionError{FileName: doc.FileName, Err: fmt.Errorf("切分后没有任何内容")}
	}
	log.Infof("[Processor] 文档 %d 切分为 %d 个 chunk", doc.ID, len(pieces))

	// 先为全部 chunk 计算向量。这一步失败时数据库与 ES 均未被触碰，
	// 文档保持之前的 chunk 集不变
	contents := make([]string, len(pieces))
	for i, piece := range pieces {
		contents[i] = piece.Content
	}
	vectors, err := p.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return &IndexingError{Stage: "embedding", Err: err}
	}

	return p.persist(ctx, doc, pieces, vectors, pageMap)
}

// extractAndAnalyze 下载原始文件、抽取文本并识别结构，结果缓存到文档记录。
func (p *Processor) extractAndAnalyze(ctx context.Context, doc *model.Document) (string, []tika.PageBreak, []model.Section, error) {
	object, err := storage.DownloadObject(ctx, doc.ObjectKey)
	if err != nil {
		return "", nil, nil, fmt.Errorf("下载原始文件失败: %w", err)
	}
	defer object.Close()

	extraction, err := p.tikaClient.ExtractPages(ctx, object, doc.FileName)
	if err != nil {
		return "", nil, nil, &ExtractionError{FileName: doc.FileName, Err: err}
	}
	if strings.TrimSpace(extraction.Text) == "" {
		return "", nil, nil, &ExtractionError{FileName: doc.FileName, Err: fmt.Errorf("文件中没有可抽取的文本")}
	}

	// 结构抽取尽力而为：失败只记日志，用兜底分区继续
	result, err := p.structure.Extract(ctx, extraction.Text)
	if err != nil {
		log.Warnf("[Processor] 文档 %d 结构抽取降级: %v", doc.ID, err)
	}

	pageMapJSON, err := json.Marshal(extraction.PageBreaks)
	if err != nil {
		return "", nil, nil, fmt.Errorf("序列化页码断点失败: %w", err)
	}
	if err := p.docRepo.SaveExtraction(doc.ID, result.Title, result.Abstract, extraction.Text, string(pageMapJSON)); err != nil {
		return "", nil, nil, fmt.Errorf("缓存抽取结果失败: %w", err)
	}
	if err := p.docRepo.ReplaceSections(doc.ID, cloneSectionsFor(doc.ID, result.Sections)); err != nil {
		return "", nil, nil, fmt.Errorf("保存分区结构失败: %w", err)
	}

	return extraction.Text, extraction.PageBreaks, result.Sections, nil
}

// persist 原子地替换文档的 chunk 集并重建 ES 向量。
// 处理期间文档处于 processing 状态，不会被任何查询检索到，
// 因此新旧 chunk 集的切换对查询侧不可见。
// MySQL 必须先写：ES 文档要引用插入后才有的 chunk ID。
// ES 写入失败时文档被标记 failed，仍然不可检索，
// 重建索引会从 MySQL 的 chunk 行重新生成向量。
func (p *Processor) persist(ctx context.Context, doc *model.Document, pieces []Piece, vectors [][]float32, pageMap []tika.PageBreak) error {
	extraction := tika.Extraction{PageBreaks: pageMap}

	chunks := make([]*model.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &model.Chunk{
			DocumentID:   doc.ID,
			SeqIndex:     piece.SeqIndex,
			SectionLabel: piece.SectionLabel,
			StartOffset:  piece.StartOffset,
			EndOffset:    piece.EndOffset,
			Page:         extraction.PageForOffset(piece.StartOffset),
			Content:      piece.Content,
			ModelVersion: p.embedder.ModelVersion(),
		}
	}

	// MySQL 事务内整表替换，chunk 行是事实来源
	if err := p.chunkRepo.ReplaceForDocument(doc.ID, chunks); err != nil {
		return &IndexingError{Stage: "mysql", Err: err}
	}

	esChunks := make([]model.EsChunk, len(chunks))
	for i, chunk := range chunks {
		esChunks[i] = model.EsChunk{
			VectorID:     fmt.Sprintf("%d_%d", doc.ID, chunk.SeqIndex),
			DocumentID:   doc.ID,
			ChunkID:      chunk.ID,
			SeqIndex:     chunk.SeqIndex,
			SectionLabel: chunk.SectionLabel,
			Page:         chunk.Page,
			Content:      chunk.Content,
			Vector:       vectors[i],
			ModelVersion: chunk.ModelVersion,
			UserID:       doc.UserID,
		}
	}

	// 先清旧向量再整批写入；chunk 数变少时不会留下孤儿向量
	indexName := config.Conf.Elasticsearch.IndexName
	if err := es.DeleteByDocumentID(ctx, indexName, doc.ID); err != nil {
		return &IndexingError{Stage: "es-delete", Err: err}
	}
	if err := es.BulkIndexChunks(ctx, indexName, esChunks); err != nil {
		return &IndexingError{Stage: "es-bulk", Err: err}
	}
	return nil
}

// parsePageMap 反序列化缓存的页码断点，解析失败时返回空映射（页码退化为 1）。
func parsePageMap(raw string) []tika.PageBreak {
	if raw == "" {
		return nil
	}
	var breaks []tika.PageBreak
	if err := json.Unmarshal([]byte(raw), &breaks); err != nil {
		log.Warnf("[Processor] 页码断点缓存损坏，忽略: %v", err)
		return nil
	}
	return breaks
}

func cloneSectionsFor(documentID uint, sections []model.Section) []model.Section {
	cloned := make([]model.Section, len(sections))
	copy(cloned, sections)
	for i := range cloned {
		cloned[i].ID = 0
		cloned[i].DocumentID = documentID
	}
	return cloned
}
