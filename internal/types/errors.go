package types

import (
	"errors"
	"fmt"
)

// ErrorKind 错误类别。重试与降级策略按值分派，严禁匹配错误文本。
type ErrorKind int

const (
	// KindUnknown 未知类别（仅作零值占位）
	KindUnknown ErrorKind = iota
	// KindTransientExternal 外部服务限流/节流，唯一允许重试的类别
	KindTransientExternal
	// KindPermanentExternal 其他外部故障（鉴权失败、非法请求、网络异常），立即失败
	KindPermanentExternal
	// KindMalformedOutput 模型输出无法修复为合法JSON，降级为空结果，不作为故障传播
	KindMalformedOutput
	// KindNotFound 文档或表不存在，呈现为空结果而不是崩溃
	KindNotFound
	// KindValidation 请求校验失败，在任何外部调用之前拒绝
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientExternal:
		return "transient_external"
	case KindPermanentExternal:
		return "permanent_external"
	case KindMalformedOutput:
		return "malformed_model_output"
	case KindNotFound:
		return "not_found"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// DomainError 携带错误类别与操作上下文的业务错误
type DomainError struct {
	Kind   ErrorKind
	Op     string // 发生错误的操作，如 "llm.generate"、"minio.download"
	Err    error  // 底层错误，可为空
	Detail string // 诊断细节；对模型输出类错误保存原始文本
}

func (e *DomainError) Error() string {
	base := e.Detail
	if e.Err != nil {
		base = e.Err.Error()
		if e.Detail != "" {
			base = base + ": " + e.Detail
		}
	}
	return fmt.Sprintf("%s (操作:%s, 类别:%s)", base, e.Op, e.Kind)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewTransientError 限流类错误，允许按退避策略重试
func NewTransientError(op string, err error) *DomainError {
	return &DomainError{Kind: KindTransientExternal, Op: op, Err: err}
}

// NewPermanentError 不可重试的外部故障
func NewPermanentError(op string, err error) *DomainError {
	return &DomainError{Kind: KindPermanentExternal, Op: op, Err: err}
}

// NewMalformedOutputError 模型输出修复失败；detail 保存原始文本用于诊断
func NewMalformedOutputError(op string, detail string) *DomainError {
	return &DomainError{Kind: KindMalformedOutput, Op: op, Detail: detail}
}

// NewNotFoundError 目标资源不存在
func NewNotFoundError(op string, detail string) *DomainError {
	return &DomainError{Kind: KindNotFound, Op: op, Detail: detail}
}

// NewValidationError 请求校验失败
func NewValidationError(op string, detail string) *DomainError {
	return &DomainError{Kind: KindValidation, Op: op, Detail: detail}
}

// KindOf 解析任意错误携带的类别。未携带类别的错误一律按
// 永久性外部故障处理（失败快），避免把未知错误误判为可重试。
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindPermanentExternal
}

// IsRetryable 仅限流类错误允许重试
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransientExternal
}
