package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darshan-sc/lab-assistant/internal/model"
)

var defaultParams = ChunkParams{Size: 400, Overlap: 50}

// reconstruct 按偏移去重拼接各片段，应当逐字还原分区原文。
func reconstruct(runes []rune, pieces []Piece, sectionStart int) string {
	var b strings.Builder
	covered := sectionStart
	for _, p := range pieces {
		from := p.StartOffset
		if from < covered {
			from = covered
		}
		b.WriteString(string(runes[from:p.EndOffset]))
		covered = p.EndOffset
	}
	return b.String()
}

func TestSplitSectionsRoundTrip(t *testing.T) {
	text := strings.Repeat("深度学习模型在图像识别任务上取得了显著进展。", 60) // 远超单个 chunk
	sections := []model.Section{
		{Label: "Introduction", StartOffset: 0, EndOffset: len([]rune(text))},
	}

	pieces := SplitSections(text, sections, defaultParams)
	require.NotEmpty(t, pieces)

	runes := []rune(text)
	assert.Equal(t, text, reconstruct(runes, pieces, 0))

	// 每个片段的内容与偏移逐字对应
	for _, p := range pieces {
		assert.Equal(t, string(runes[p.StartOffset:p.EndOffset]), p.Content)
	}
}

func TestSplitSectionsHardCutWithoutBoundary(t *testing.T) {
	// 没有任何句界或段落边界时在预算处硬切
	text := strings.Repeat("甲", 900)
	sections := []model.Section{
		{Label: "Abstract", StartOffset: 0, EndOffset: 200},
		{Label: "Methods", StartOffset: 200, EndOffset: 900},
	}

	pieces := SplitSections(text, sections, defaultParams)
	require.Len(t, pieces, 3)

	assert.Equal(t, Piece{SeqIndex: 0, SectionLabel: "Abstract", StartOffset: 0, EndOffset: 200, Content: strings.Repeat("甲", 200)}, pieces[0])
	assert.Equal(t, 200, pieces[1].StartOffset)
	assert.Equal(t, 600, pieces[1].EndOffset)
	assert.Equal(t, "Methods", pieces[1].SectionLabel)
	// 下一个 chunk 从重叠处开始
	assert.Equal(t, 550, pieces[2].StartOffset)
	assert.Equal(t, 900, pieces[2].EndOffset)
}

func TestSplitSectionsPrefersParagraphBoundary(t *testing.T) {
	// 350 处有换行，位于回退窗口 [200, 400] 内，应在换行后切开
	text := strings.Repeat("a", 350) + "\n" + strings.Repeat("b", 649)
	sections := []model.Section{{Label: "Body", StartOffset: 0, EndOffset: 1000}}

	pieces := SplitSections(text, sections, defaultParams)
	require.NotEmpty(t, pieces)
	assert.Equal(t, 351, pieces[0].EndOffset)
	assert.True(t, strings.HasSuffix(pieces[0].Content, "\n"))
	// 重叠 50：下一片段从 301 开始
	assert.Equal(t, 301, pieces[1].StartOffset)
}

func TestSplitSectionsSentenceBoundary(t *testing.T) {
	// 窗口内没有换行但有中文句号时回退到句末
	text := strings.Repeat("甲", 379) + "。" + strings.Repeat("乙", 620)
	sections := []model.Section{{Label: "Body", StartOffset: 0, EndOffset: 1000}}

	pieces := SplitSections(text, sections, defaultParams)
	require.NotEmpty(t, pieces)
	assert.Equal(t, 380, pieces[0].EndOffset)
}

func TestSplitSectionsAsciiPeriodNeedsTrailingSpace(t *testing.T) {
	// 3.14 里的小数点不是句界；只有后随空白的句点才算
	text := strings.Repeat("x", 300) + "3.14" + strings.Repeat("y", 60) + ". " + strings.Repeat("z", 700)
	sections := []model.Section{{Label: "Body", StartOffset: 0, EndOffset: len([]rune(text))}}

	pieces := SplitSections(text, sections, defaultParams)
	require.NotEmpty(t, pieces)
	// 预算 400 落在 z 区；回退窗口内唯一合法句界是 ". " 的句点（偏移 364）
	assert.Equal(t, 365, pieces[0].EndOffset)
}

func TestSplitSectionsNeverCrossesSectionBoundary(t *testing.T) {
	text := strings.Repeat("甲", 1200)
	sections := []model.Section{
		{Label: "A", StartOffset: 0, EndOffset: 500},
		{Label: "B", StartOffset: 500, EndOffset: 1200},
	}

	pieces := SplitSections(text, sections, defaultParams)
	for _, p := range pieces {
		switch p.SectionLabel {
		case "A":
			assert.LessOrEqual(t, p.EndOffset, 500)
		case "B":
			assert.GreaterOrEqual(t, p.StartOffset, 500)
		default:
			t.Fatalf("unexpected section label %q", p.SectionLabel)
		}
	}
}

func TestSplitSectionsSeqMonotonicAcrossSections(t *testing.T) {
	text := strings.Repeat("甲", 1000)
	sections := []model.Section{
		{Label: "A", StartOffset: 0, EndOffset: 450},
		{Label: "B", StartOffset: 450, EndOffset: 1000},
	}

	pieces := SplitSections(text, sections, defaultParams)
	for i, p := range pieces {
		assert.Equal(t, i, p.SeqIndex)
	}
}

func TestSplitSectionsDeterministic(t *testing.T) {
	text := strings.Repeat("模型训练使用随机梯度下降。批大小为六十四。\n", 80)
	sections := []model.Section{{Label: "Methods", StartOffset: 0, EndOffset: len([]rune(text))}}

	first := SplitSections(text, sections, defaultParams)
	second := SplitSections(text, sections, defaultParams)
	assert.Equal(t, first, second)
}

func TestSplitSectionsEdgeCases(t *testing.T) {
	text := strings.Repeat("甲", 100)

	t.Run("空分区不产生 chunk", func(t *testing.T) {
		pieces := SplitSections(text, []model.Section{{Label: "Empty", StartOffset: 30, EndOffset: 30}}, defaultParams)
		assert.Empty(t, pieces)
	})

	t.Run("短于预算的分区产生单个不填充的 chunk", func(t *testing.T) {
		pieces := SplitSections(text, []model.Section{{Label: "Short", StartOffset: 0, EndOffset: 100}}, defaultParams)
		require.Len(t, pieces, 1)
		assert.Equal(t, 100, len([]rune(pieces[0].Content)))
	})

	t.Run("分区偏移超出全文时收敛到文末", func(t *testing.T) {
		pieces := SplitSections(text, []model.Section{{Label: "Over", StartOffset: 50, EndOffset: 500}}, defaultParams)
		require.Len(t, pieces, 1)
		assert.Equal(t, 100, pieces[0].EndOffset)
	})

	t.Run("空文本无输出", func(t *testing.T) {
		pieces := SplitSections("", []model.Section{{Label: "A", StartOffset: 0, EndOffset: 10}}, defaultParams)
		assert.Empty(t, pieces)
	})
}
