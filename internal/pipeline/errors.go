// Package pipeline 实现了文档从原始字节到可检索向量的完整处理链路。
package pipeline

import (
	"errors"
	"fmt"
)

// ErrScopeEmpty 表示提问范围内没有任何已完成索引的文档。
// 这不是系统错误：调用方应将其呈现为"无可检索内容"。
var ErrScopeEmpty = errors.New("范围内没有可检索的已索引文档")

// ExtractionError 表示文本抽取失败（无法解析或无可抽取文本），对该文档是致命的。
type ExtractionError struct {
	FileName string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("文本抽取失败: %s: %v", e.FileName, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// StructureExtractionError 表示结构抽取的外部调用在重试预算耗尽后仍失败。
// 它是非致命的：管道用整篇兜底分区继续处理。
type StructureExtractionError struct {
	Err error
}

func (e *StructureExtractionError) Error() string {
	return fmt.Sprintf("结构抽取失败: %v", e.Err)
}

func (e *StructureExtractionError) Unwrap() error { return e.Err }

// IndexingError 表示向量化或持久化阶段失败，整篇文档的索引中止。
type IndexingError struct {
	Stage string
	Err   error
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("索引失败(%s): %v", e.Stage, e.Err)
}

func (e *IndexingError) Unwrap() error { return e.Err }

// SynthesisError 表示回答生成的外部调用在重试预算耗尽后仍失败。
// 对调用方而言是瞬时失败，重新提问是安全的。
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("回答生成失败: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
