package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected ErrorKind
	}{
		{name: "nil错误", err: nil, expected: KindUnknown},
		{name: "限流错误", err: NewTransientError("llm.generate", errors.New("429")), expected: KindTransientExternal},
		{name: "永久错误", err: NewPermanentError("llm.generate", errors.New("401")), expected: KindPermanentExternal},
		{name: "模型输出错误", err: NewMalformedOutputError("sanitize", "not json"), expected: KindMalformedOutput},
		{name: "未找到", err: NewNotFoundError("sheet.read", "Resume Tags"), expected: KindNotFound},
		{name: "校验错误", err: NewValidationError("match", "缺少JD文本"), expected: KindValidation},
		{name: "未携带类别的错误按永久故障处理", err: errors.New("dial tcp: refused"), expected: KindPermanentExternal},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.err))
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	// 类别必须穿透 %w 包装链
	inner := NewTransientError("llm.generate", errors.New("429 too many requests"))
	wrapped := fmt.Errorf("调用评分模型失败: %w", inner)

	assert.Equal(t, KindTransientExternal, KindOf(wrapped))
	assert.True(t, IsRetryable(wrapped))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTransientError("op", errors.New("throttled"))))
	assert.False(t, IsRetryable(NewPermanentError("op", errors.New("bad auth"))))
	assert.False(t, IsRetryable(NewValidationError("op", "缺字段")))
	assert.False(t, IsRetryable(nil))
}

func TestDomainErrorMessage(t *testing.T) {
	err := NewTransientError("llm.generate", errors.New("429 too many requests"))
	msg := err.Error()
	assert.Contains(t, msg, "llm.generate")
	assert.Contains(t, msg, "transient_external")
	assert.Contains(t, msg, "429 too many requests")

	// 仅携带detail的错误也要有可读消息
	verr := NewValidationError("match", "job_description 不能为空")
	assert.Contains(t, verr.Error(), "job_description 不能为空")
}

func TestDomainErrorUnwrap(t *testing.T) {
	base := errors.New("connection reset")
	err := NewPermanentError("minio.download", base)
	assert.True(t, errors.Is(err, base), "Unwrap应暴露底层错误")
}
