package pipeline

import (
	"github.com/darshan-sc/lab-assistant/internal/model"
)

// ChunkParams 控制切分行为，单位均为 rune。
type ChunkParams struct {
	// Size 是单个 chunk 的目标长度。
	Size int
	// Overlap 是同一分区内相邻 chunk 的重叠长度，必须小于 Size。
	Overlap int
}

// Piece 是切分输出的一个片段。偏移为文档全文中的 rune 偏移，左闭右开，
// Content 与 [StartOffset, EndOffset) 逐字对应，不做任何修剪。
type Piece struct {
	SeqIndex     int
	SectionLabel string
	StartOffset  int
	EndOffset    int
	Content      string
}

// 句末标点。ASCII 标点要求后随空白才视为句界，避免把小数点当作句末。
var cjkSentenceEnd = map[rune]bool{'。': true, '！': true, '？': true, '；': true, '…': true}
var asciiSentenceEnd = map[rune]bool{'.': true, '!': true, '?': true, ';': true}

// SplitSections 把文档按分区切成带重叠的定长片段。
//
// 每个分区独立切分，chunk 从不跨越分区边界。在长度预算处优先回退到
// 最近的段落或句子边界，回退窗口为 Size/2：窗口内找不到边界时硬切。
// 序号跨整篇文档单调递增。相同输入恒产生相同边界。
func SplitSections(text string, sections []model.Section, params ChunkParams) []Piece {
	runes := []rune(text)
	size := params.Size
	overlap := params.Overlap
	tolerance := size / 2

	var pieces []Piece
	seq := 0

	for _, section := range sections {
		start, end := section.StartOffset, section.EndOffset
		if start < 0 {
			start = 0
		}
		if end > len(runes) {
			end = len(runes)
		}
		// 空分区不产生 chunk
		if start >= end {
			continue
		}

		pos := start
		for pos < end {
			// 剩余不足一个预算时，余下全部作为最后一个 chunk，不做填充
			if pos+size >= end {
				pieces = append(pieces, makePiece(runes, seq, section.Label, pos, end))
				seq++
				break
			}

			cut := findBoundary(runes, pos+size, pos+size-tolerance)
			pieces = append(pieces, makePiece(runes, seq, section.Label, pos, cut))
			seq++

			// 下一个 chunk 从重叠处开始；重叠不会退回到分区边界之前，
			// 且必须保证前进，避免死循环
			next := cut - overlap
			if next <= pos {
				next = cut
			}
			if next < start {
				next = start
			}
			pos = next
		}
	}

	return pieces
}

// findBoundary 在 [floor, budget] 内从后向前找最近的段落或句子边界，
// 返回切点（边界字符之后的位置）。找不到则返回 budget 硬切。
func findBoundary(runes []rune, budget, floor int) int {
	if floor < 0 {
		floor = 0
	}
	// 段落边界优先
	for i := budget - 1; i >= floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := budget - 1; i >= floor; i-- {
		r := runes[i]
		if cjkSentenceEnd[r] {
			return i + 1
		}
		if asciiSentenceEnd[r] && i+1 < len(runes) && isSpace(runes[i+1]) {
			return i + 1
		}
	}
	return budget
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}

func makePiece(runes []rune, seq int, label string, start, end int) Piece {
	return Piece{
		SeqIndex:     seq,
		SectionLabel: label,
		StartOffset:  start,
		EndOffset:    end,
		Content:      string(runes[start:end]),
	}
}
