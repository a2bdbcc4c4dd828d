package pipeline

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/darshan-sc/lab-assistant/internal/model"
	"github.com/darshan-sc/lab-assistant/pkg/llm"
	"github.com/darshan-sc/lab-assistant/pkg/log"
)

// structureSystemPrompt 要求模型以 JSON 返回标题、摘要与分区边界。
// 偏移以字符计，与我们传入的前缀逐字对应。
const structureSystemPrompt = `You are an expert academic paper parser. Your task is to extract the title, abstract and section structure from academic paper text.

Instructions:
1. The title is typically at the very beginning of the paper, often on its own line
2. The abstract usually appears after the title and author information, often labeled "Abstract"
3. Extract the COMPLETE abstract, not just the first sentence
4. Identify the major sections of the paper (such as Abstract, Introduction, Methods, Results, Discussion, Conclusion) and report each as a character offset range [start, end) into the EXACT text you were given
5. Section ranges must be in increasing order, must not overlap, and must stay within the text bounds
6. If you cannot identify sections, return an empty "sections" array

Respond with ONLY a JSON object in this exact shape, no commentary:
{"title": "...", "abstract": "...", "sections": [{"label": "Methods", "start": 1200, "end": 4500}]}`

// StructureResult 是结构抽取的输出。Sections 永不为空：
// 验证失败或外部调用失败时退化为整篇 Unlabeled 分区。
type StructureResult struct {
	Title    string
	Abstract string
	Sections []model.Section
	// Fallback 为 true 表示使用了整篇兜底分区而非模型给出的结构。
	Fallback bool
}

type structureResponse struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Sections []struct {
		Label string `json:"label"`
		Start int    `json:"start"`
		End   int    `json:"end"`
	} `json:"sections"`
}

// StructureExtractor 调用大模型识别文档的标题、摘要与分区结构。
type StructureExtractor struct {
	llmClient llm.Client
	// maxChars 是送入模型分析的全文前缀长度（rune）。
	maxChars int
}

// NewStructureExtractor 创建一个 StructureExtractor。
func NewStructureExtractor(llmClient llm.Client, maxChars int) *StructureExtractor {
	return &StructureExtractor{llmClient: llmClient, maxChars: maxChars}
}

// Extract 对全文做结构抽取。结构抽取是尽力而为的：任何失败都不阻塞
// 下游处理。返回 StructureExtractionError 时 result 仍然可用（兜底结构），
// 调用方应记录错误并继续。
func (e *StructureExtractor) Extract(ctx context.Context, text string) (StructureResult, error) {
	runes := []rune(text)
	total := len(runes)

	// 只分析前缀；被截断的剩余部分作为尾部 Unlabeled 分区
	analyzed := total
	if e.maxChars > 0 && analyzed > e.maxChars {
		analyzed = e.maxChars
	}
	prefix := string(runes[:analyzed])

	fallback := StructureResult{
		Sections: []model.Section{{Label: model.SectionLabelUnlabeled, StartOffset: 0, EndOffset: total}},
		Fallback: true,
	}

	messages := []llm.Message{
		{Role: "system", Content: structureSystemPrompt},
		{Role: "user", Content: "Extract the title, abstract and sections from this paper:\n\n" + prefix},
	}

	raw, err := e.llmClient.Complete(ctx, messages, nil)
	if err != nil {
		return fallback, &StructureExtractionError{Err: err}
	}

	var resp structureResponse
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &resp); err != nil {
		log.Warnf("[StructureExtractor] 模型输出不是合法 JSON，使用兜底分区: %v", err)
		return fallback, nil
	}

	sections, ok := validateSections(resp, analyzed)
	if !ok {
		log.Warnf("[StructureExtractor] 分区偏移未通过校验，使用兜底分区")
		fallback.Title = resp.Title
		fallback.Abstract = resp.Abstract
		return fallback, nil
	}

	// 模型给出的分区可能跳过标题页、参考文献等内容，
	// 用 Unlabeled 分区补齐空隙，保证全文每个字符都会被切分
	sections = fillCoverageGaps(sections, analyzed)

	// 被截断的剩余部分补一个尾部分区
	if analyzed < total {
		sections = append(sections, model.Section{
			Label:       model.SectionLabelUnlabeled,
			StartOffset: analyzed,
			EndOffset:   total,
		})
	}

	for i := range sections {
		sections[i].Position = i
	}

	return StructureResult{
		Title:    resp.Title,
		Abstract: resp.Abstract,
		Sections: sections,
	}, nil
}

// validateSections 校验分区偏移：单调递增、互不重叠、在界内。
// 任何违反都放弃整个结构（不做局部修补，避免产生错误的边界）。
func validateSections(resp structureResponse, bound int) ([]model.Section, bool) {
	if len(resp.Sections) == 0 {
		return nil, false
	}

	sections := make([]model.Section, 0, len(resp.Sections))
	for _, s := range resp.Sections {
		label := strings.TrimSpace(s.Label)
		if label == "" {
			label = model.SectionLabelUnlabeled
		}
		sections = append(sections, model.Section{
			Label:       label,
			StartOffset: s.Start,
			EndOffset:   s.End,
		})
	}
	if !sort.SliceIsSorted(sections, func(i, j int) bool {
		return sections[i].StartOffset < sections[j].StartOffset
	}) {
		return nil, false
	}

	prevEnd := 0
	for _, s := range sections {
		if s.StartOffset < prevEnd || s.EndOffset <= s.StartOffset || s.EndOffset > bound {
			return nil, false
		}
		prevEnd = s.EndOffset
	}
	return sections, true
}

// fillCoverageGaps 在已通过校验的分区序列中插入 Unlabeled 分区，
// 补齐分区之间以及首尾的空隙，使区间完整覆盖 [0, bound)。
func fillCoverageGaps(sections []model.Section, bound int) []model.Section {
	filled := make([]model.Section, 0, len(sections)+2)
	cursor := 0
	for _, s := range sections {
		if s.StartOffset > cursor {
			filled = append(filled, model.Section{
				Label:       model.SectionLabelUnlabeled,
				StartOffset: cursor,
				EndOffset:   s.StartOffset,
			})
		}
		filled = append(filled, s)
		cursor = s.EndOffset
	}
	if cursor < bound {
		filled = append(filled, model.Section{
			Label:       model.SectionLabelUnlabeled,
			StartOffset: cursor,
			EndOffset:   bound,
		})
	}
	return filled
}

// stripJSONFences 去掉模型偶尔包裹的 markdown 代码块标记。
func stripJSONFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		if idx := strings.LastIndex(raw, "```"); idx >= 0 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}
