package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/internal/pipeline"
	"github.com/darshan-sc/lab-assistant/internal/repository"
	"github.com/darshan-sc/lab-assistant/pkg/llm"
	"github.com/darshan-sc/lab-assistant/pkg/log"
)

// answerSystemPrompt 要求模型只依据提供的上下文作答并用 [n] 标注引用。
const answerSystemPrompt = `You are a helpful research assistant. Answer the user's question based on the provided context from research papers.

Rules:
1. Only use information from the provided context
2. If the context doesn't contain enough information to answer, say so explicitly
3. Cite your sources using [1], [2], etc. corresponding to the context chunks
4. Be concise but thorough`

// noContextAnswer 是范围内没有可检索内容时返回的固定回答。
const noContextAnswer = "当前范围内没有可检索的已索引内容，请先上传并等待文档索引完成。"

// AnswerService 定义了基于检索的问答操作接口。
type AnswerService interface {
	// Ask 执行一次完整的检索增强问答，返回回答与引用。
	// 范围内没有可检索内容时返回 NoContext 标记的回答而非错误。
	Ask(ctx context.Context, question string, scope model.QueryScope, user *model.User) (*model.Answer, error)
	// AskStream 同 Ask，但通过 websocket 流式输出回答正文。
	AskStream(ctx context.Context, question string, scope model.QueryScope, user *model.User, ws *websocket.Conn, shouldStop func() bool) error
}

type answerService struct {
	retrieval        RetrievalService
	llmClient        llm.Client
	conversationRepo repository.ConversationRepository
}

// NewAnswerService 创建一个新的 AnswerService 实例。
func NewAnswerService(retrieval RetrievalService, llmClient llm.Client, conversationRepo repository.ConversationRepository) AnswerService {
	return &answerService{
		retrieval:        retrieval,
		llmClient:        llmClient,
		conversationRepo: conversationRepo,
	}
}

// Ask 阻塞式问答。
func (s *answerService) Ask(ctx context.Context, question string, scope model.QueryScope, user *model.User) (*model.Answer, error) {
	chunks, err := s.retrieval.Retrieve(ctx, question, scope, user)
	if err != nil {
		if errors.Is(err, pipeline.ErrScopeEmpty) {
			return &model.Answer{
				Question:  question,
				Scope:     scope,
				Answer:    noContextAnswer,
				Citations: []model.Citation{},
				NoContext: true,
			}, nil
		}
		return nil, err
	}

	messages := s.buildMessages(question, chunks)
	raw, err := s.llmClient.Complete(ctx, messages, nil)
	if err != nil {
		return nil, &pipeline.SynthesisError{Err: err}
	}

	answer := &model.Answer{
		Question:  question,
		Scope:     scope,
		Answer:    raw,
		Citations: extractCitations(raw, chunks),
	}

	// 会话留痕使用后台上下文：请求被取消也不影响已生成回答的记录
	s.logConversation(context.Background(), user.ID, question, raw)
	return answer, nil
}

// AskStream 流式问答。回答正文通过 websocket 分块下发，
// 结束后追加一条带引用列表的完成通知。
func (s *answerService) AskStream(ctx context.Context, question string, scope model.QueryScope, user *model.User, ws *websocket.Conn, shouldStop func() bool) error {
	chunks, err := s.retrieval.Retrieve(ctx, question, scope, user)
	if err != nil {
		if errors.Is(err, pipeline.ErrScopeEmpty) {
			if werr := ws.WriteMessage(websocket.TextMessage, []byte(noContextAnswer)); werr != nil {
				return werr
			}
			return sendStreamDone(ws, nil)
		}
		return err
	}

	messages := s.buildMessages(question, chunks)

	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: ws, writer: answerBuilder, shouldStop: shouldStop}

	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, interceptor); err != nil {
		return &pipeline.SynthesisError{Err: err}
	}

	raw := answerBuilder.String()
	if err := sendStreamDone(ws, extractCitations(raw, chunks)); err != nil {
		return err
	}

	if len(raw) > 0 {
		s.logConversation(context.Background(), user.ID, question, raw)
	}
	return nil
}

// buildMessages 把检索结果组装为 [n] 标号的上下文块。
func (s *answerService) buildMessages(question string, chunks []model.RetrievedChunk) []llm.Message {
	var contextBuilder strings.Builder
	for i, chunk := range chunks {
		section := chunk.SectionLabel
		if section == "" {
			section = model.SectionLabelUnlabeled
		}
		contextBuilder.WriteString(fmt.Sprintf("[%d] (%s, p.%d) %s\n\n", i+1, section, chunk.Page, chunk.Content))
	}

	userContent := fmt.Sprintf("Context:\n%s\nQuestion: %s", contextBuilder.String(), question)
	return []llm.Message{
		{Role: "system", Content: answerSystemPrompt},
		{Role: "user", Content: userContent},
	}
}

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// extractCitations 从回答文本中解析 [n] 引用并映射回候选 chunk。
// 候选集之外的编号一律丢弃：回答永远不会引用它没有见过的内容。
func extractCitations(answer string, chunks []model.RetrievedChunk) []model.Citation {
	seen := make(map[int]bool)
	citations := []model.Citation{}

	for _, match := range citationPattern.FindAllStringSubmatch(answer, -1) {
		n, err := strconv.Atoi(match[1])
		if err != nil || n < 1 || n > len(chunks) || seen[n] {
			continue
		}
		seen[n] = true
		chunk := chunks[n-1]
		citations = append(citations, model.Citation{
			DocumentID:   chunk.DocumentID,
			ChunkID:      chunk.ChunkID,
			SeqIndex:     chunk.SeqIndex,
			SectionLabel: chunk.SectionLabel,
			Page:         chunk.Page,
			Preview:      preview(chunk.Content, 200),
		})
	}
	return citations
}

// preview 截取内容前缀用于展示，按 rune 截断。
func preview(content string, limit int) string {
	if utf8.RuneCountInString(content) <= limit {
		return content
	}
	runes := []rune(content)
	return string(runes[:limit]) + "…"
}

func (s *answerService) logConversation(ctx context.Context, userID uint, question, answer string) {
	convID, err := s.conversationRepo.GetOrCreateConversationID(ctx, userID)
	if err != nil {
		log.Errorf("获取会话 ID 失败: %v", err)
		return
	}
	history, err := s.conversationRepo.GetConversationHistory(ctx, convID)
	if err != nil {
		log.Errorf("读取会话历史失败: %v", err)
		history = []model.ChatMessage{}
	}
	now := time.Now()
	history = append(history,
		model.ChatMessage{Role: "user", Content: question, Timestamp: now},
		model.ChatMessage{Role: "assistant", Content: answer, Timestamp: now},
	)
	if err := s.conversationRepo.UpdateConversationHistory(ctx, convID, history); err != nil {
		log.Errorf("保存会话历史失败: %v", err)
	}
}
